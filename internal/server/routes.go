// -----------------------------------------------------------------------
// HTTP route table - job API and progress streams
// -----------------------------------------------------------------------

package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket routes
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)
	mux.HandleFunc("/ws/jobs/", s.app.WSHandler.HandleJobWebSocket)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs/submit", s.handleSubmitRoute)
	mux.HandleFunc("/api/jobs/stats", s.app.JobHandler.GetStatsHandler)
	mux.HandleFunc("/api/jobs", s.handleJobCollection)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes) // Handles /api/jobs/{id} and subpaths

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	// Service info at the root; also the catch-all for unmatched paths
	mux.HandleFunc("/", s.app.APIHandler.RootHandler)

	return mux
}

// handleSubmitRoute accepts POST /api/jobs/submit
func (s *Server) handleSubmitRoute(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodPost: s.app.JobHandler.SubmitJobHandler,
	})
}

// handleJobCollection accepts GET /api/jobs
func (s *Server) handleJobCollection(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		http.MethodGet: s.app.JobHandler.ListJobsHandler,
	})
}

// handleJobRoutes routes /api/jobs/{id} and its subpaths. A bare GET on
// the job ID answers with the same payload as /status.
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		matched := RouteByPathSuffix(w, r, "/api/jobs/", []PathSuffixRouter{
			{Suffix: "/results", Handler: s.app.JobHandler.GetJobResultsHandler},
			{Suffix: "/status", Handler: s.app.JobHandler.GetJobStatusHandler},
		})
		if matched {
			return
		}
	}

	RouteByMethod(w, r, MethodRouter{
		http.MethodGet:    s.app.JobHandler.GetJobStatusHandler,
		http.MethodDelete: s.app.JobHandler.CancelJobHandler,
	})
}
