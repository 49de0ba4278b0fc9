package server

import "time"

const (
	// MaxClients is the maximum number of concurrent WebSocket clients
	MaxClients = 100
	// MaxClientMessageQueueSize is the size of per-client event queues
	MaxClientMessageQueueSize = 256
	// ShutdownTimeout bounds graceful shutdown; stopping workers can wait on a running stage
	ShutdownTimeout = 30 * time.Second
)

// ServerState is the server lifecycle state
type ServerState int

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Graceful shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

func (s ServerState) String() string {
	switch s {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SubmitResponse is returned by POST /api/jobs
type SubmitResponse struct {
	JobID string `json:"jobId"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status      string `json:"status"`
	State       string `json:"state"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Clients     int    `json:"clients"`
	QueuedTasks int    `json:"queuedTasks"`
	RunningTask int    `json:"runningTasks"`
}

// ClientMessage is what a WebSocket client may send
type ClientMessage struct {
	Type string `json:"type"` // "ping"
}
