// -----------------------------------------------------------------------
// WebSocket Broadcaster - streams job updates to connected clients
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

const (
	// writeWait bounds how long a single frame write may take before the
	// connection is considered dead
	writeWait = 10 * time.Second

	// maxInboundBytes caps client frames; clients only send small control
	// text like "ping"
	maxInboundBytes = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for auxiliary stream messages such as log
// lines. Job updates are sent flat, not wrapped.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// LogEntry is one log line forwarded to the all-jobs stream.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// client is one connected sink. Each client belongs to exactly one
// registry: the all-jobs stream (jobID empty) or a single per-job
// stream. Events are queued on outbox and written by a dedicated
// goroutine so a stalled peer never blocks dispatch.
type client struct {
	conn   *websocket.Conn
	jobID  string
	outbox chan []byte
	done   chan struct{}
}

// enqueue queues data for the client without blocking. When the outbox
// is full the oldest buffered entry is discarded to make room, so a slow
// reader always sees the freshest events. Returns true if anything was
// dropped.
func (c *client) enqueue(data []byte) bool {
	dropped := false
	for {
		select {
		case c.outbox <- data:
			return dropped
		default:
		}
		select {
		case <-c.outbox:
			dropped = true
		default:
		}
	}
}

// WebSocketHandler fans job updates out to websocket clients. It is fed
// by a single event bus subscription (see EventSubscriber) rather than
// one subscription per connection.
type WebSocketHandler struct {
	logger           arbor.ILogger
	serverInstanceID string // Unique ID generated on startup - clients use to detect server restart
	heartbeat        time.Duration
	bufferSize       int

	mu         sync.RWMutex
	clients    map[*client]bool
	jobClients map[string]map[*client]bool
}

func NewWebSocketHandler(cfg *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	if logger == nil {
		logger = common.GetLogger()
	}

	heartbeat := 30 * time.Second
	bufferSize := 256
	if cfg != nil {
		heartbeat = common.ParseDurationOr(cfg.HeartbeatInterval, heartbeat)
		if cfg.BufferSize > 0 {
			bufferSize = cfg.BufferSize
		}
	}

	h := &WebSocketHandler{
		logger:           logger,
		serverInstanceID: uuid.New().String(),
		heartbeat:        heartbeat,
		bufferSize:       bufferSize,
		clients:          make(map[*client]bool),
		jobClients:       make(map[string]map[*client]bool),
	}

	logger.Info().
		Str("server_instance_id", h.serverInstanceID).
		Str("heartbeat", heartbeat.String()).
		Int("buffer_size", bufferSize).
		Msg("WebSocket handler initialized")

	return h
}

// HandleWebSocket upgrades GET /ws connections onto the all-jobs stream.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "")
}

// HandleJobWebSocket upgrades GET /ws/jobs/{id} connections onto the
// stream for a single job. Unknown job IDs are accepted; the stream just
// stays quiet until the job produces events.
func (h *WebSocketHandler) HandleJobWebSocket(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 || parts[2] == "" {
		http.Error(w, "Job ID is required", http.StatusBadRequest)
		return
	}
	h.serve(w, r, parts[2])
}

func (h *WebSocketHandler) serve(w http.ResponseWriter, r *http.Request, jobID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{
		conn:   conn,
		jobID:  jobID,
		outbox: make(chan []byte, h.bufferSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if jobID == "" {
		h.clients[c] = true
	} else {
		if h.jobClients[jobID] == nil {
			h.jobClients[jobID] = make(map[*client]bool)
		}
		h.jobClients[jobID][c] = true
	}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().
		Str("remote", r.RemoteAddr).
		Str("job_id", jobID).
		Int("all_stream_clients", total).
		Msg("WebSocket client connected")

	// The writer runs past the hijack point where the recovery
	// middleware cannot see it, so it gets its own panic guard
	common.SafeGo(h.logger, "websocket-writer", func() { h.writeLoop(c) })
	h.readLoop(c)
}

// unregister removes the client from its registry and tears the
// connection down. Safe to call from both loops; only the first call
// closes the done channel.
func (h *WebSocketHandler) unregister(c *client) {
	h.mu.Lock()
	removed := false
	if c.jobID == "" {
		if h.clients[c] {
			delete(h.clients, c)
			removed = true
		}
	} else if conns, ok := h.jobClients[c.jobID]; ok && conns[c] {
		delete(conns, c)
		removed = true
		if len(conns) == 0 {
			delete(h.jobClients, c.jobID)
		}
	}
	h.mu.Unlock()

	if !removed {
		return
	}

	close(c.done)
	c.conn.Close()
	h.logger.Debug().Str("job_id", c.jobID).Msg("WebSocket client disconnected")
}

// writeLoop is the sole writer for a connection. It drains the outbox
// and emits protocol pings on the heartbeat interval.
func (h *WebSocketHandler) writeLoop(c *client) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// readLoop consumes client frames until the connection drops. Pongs
// reset the read deadline; a text "ping" gets a text "pong" back for
// clients that run their own liveness checks.
func (h *WebSocketHandler) readLoop(c *client) {
	defer h.unregister(c)

	pongWait := 2 * h.heartbeat
	c.conn.SetReadLimit(maxInboundBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if string(data) == "ping" {
			c.enqueue([]byte("pong"))
		}
	}
}

// BroadcastJobUpdate fans one update out to the all-jobs stream plus the
// watchers of that job. Each connected sink receives the event at most
// once; full buffers shed their oldest entry instead of blocking.
func (h *WebSocketHandler) BroadcastJobUpdate(update *models.JobUpdate) {
	if update == nil {
		return
	}

	data, err := json.Marshal(update)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal job update")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients)+len(h.jobClients[update.JobID]))
	for c := range h.clients {
		targets = append(targets, c)
	}
	for c := range h.jobClients[update.JobID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	dropped := 0
	for _, c := range targets {
		if c.enqueue(data) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Debug().
			Str("job_id", update.JobID).
			Int("clients", dropped).
			Msg("Dropped oldest buffered events for slow clients")
	}
}

// BroadcastLog forwards a log line to the all-jobs stream. Per-job
// watchers only care about their job's lifecycle, so log traffic skips
// them.
func (h *WebSocketHandler) BroadcastLog(entry LogEntry) {
	data, err := json.Marshal(WSMessage{Type: "log", Payload: entry})
	if err != nil {
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
}

// Close disconnects every client so readers see a clean close frame
// instead of a dropped TCP stream during shutdown.
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	for _, conns := range h.jobClients {
		for c := range conns {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for _, c := range targets {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), deadline)
		h.unregister(c)
	}
}
