package server

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/pulse"
)

// Hub fans job events out to the WebSocket clients watching each owner.
// Publish never blocks: a client whose queue is full is disconnected.
type Hub struct {
	mu      sync.RWMutex
	owners  map[string]map[*Client]bool
	total   int
	drops   atomic.Int64
	logger  *zap.SugaredLogger
	closing atomic.Bool
}

// NewHub creates an empty hub
func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		owners: make(map[string]map[*Client]bool),
		logger: logger.Named("hub"),
	}
}

var errTooManyClients = errors.New("too many WebSocket clients")

func (h *Hub) register(c *Client) error {
	if h.closing.Load() {
		return errors.Wrap(errors.ErrServiceUnavailable, "server is shutting down")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.total >= MaxClients {
		return errTooManyClients
	}
	set, ok := h.owners[c.owner]
	if !ok {
		set = make(map[*Client]bool)
		h.owners[c.owner] = set
	}
	set[c] = true
	h.total++
	h.logger.Infow("Client connected",
		"client_id", c.id,
		"owner_id", c.owner,
		"total_clients", h.total)
	return nil
}

// unregister removes c and closes it; calling it twice is harmless
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	set := h.owners[c.owner]
	if set[c] {
		delete(set, c)
		if len(set) == 0 {
			delete(h.owners, c.owner)
		}
		h.total--
		h.logger.Infow("Client disconnected",
			"client_id", c.id,
			"owner_id", c.owner,
			"total_clients", h.total)
	}
	h.mu.Unlock()
	c.close()
}

// Publish implements pulse.ProgressEmitter
func (h *Hub) Publish(ownerID string, event pulse.Event) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.owners[ownerID]))
	for c := range h.owners[ownerID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- event:
		default:
			h.drops.Add(1)
			h.logger.Warnw("Client queue full, disconnecting",
				"client_id", c.id,
				"owner_id", ownerID,
				"total_drops", h.drops.Load())
			h.unregister(c)
		}
	}
}

// Clients is the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// Drops is how many events were dropped on slow clients
func (h *Hub) Drops() int64 {
	return h.drops.Load()
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.closing.Store(true)
	h.mu.RLock()
	var all []*Client
	for _, set := range h.owners {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.unregister(c)
	}
}

var _ pulse.ProgressEmitter = (*Hub)(nil)
