package interfaces

import "github.com/ternarybob/colligo/internal/models"

// SchedulerService fires scheduled job definitions
type SchedulerService interface {
	Start() error
	Stop() error
	// Definitions returns the currently loaded definitions
	Definitions() []*models.JobDefinition
}

// MaintenanceService runs periodic background upkeep (stale article
// sweeps, storage garbage collection)
type MaintenanceService interface {
	Start() error
	Stop() error
}
