// Package hub tracks per-conversation state: live delivery endpoints, the
// opaque upstream session handle, the in-flight execution handle and the
// cancellation flag. It also owns the serial instruction queue that
// guarantees at most one generation per conversation.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Interrupter is the cancellation hook of an in-flight execution.
type Interrupter interface {
	Interrupt(ctx context.Context) error
}

// Endpoint is one attached delivery channel (a websocket connection's
// outbound buffer). Writes never block: a full buffer drops the endpoint.
type Endpoint struct {
	ID   string
	Send chan []byte
}

// conversation is the state of one active conversation. executing is
// non-nil exactly while a generation runs; cancelRequested is cleared
// unconditionally when that generation ends.
type conversation struct {
	endpoints       map[string]*Endpoint
	upstreamSession string
	executing       Interrupter
	cancelRequested bool
	queue           chan func()
}

// Hub manages all conversation state. A single mutex makes writes to
// cancelRequested and executing atomic per conversation; conversations do
// not contend beyond map access.
type Hub struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conversations: make(map[string]*conversation)}
}

const queueDepth = 16

// get returns the conversation entry, creating it (and starting its serial
// instruction worker) on first use. Caller must hold h.mu.
func (h *Hub) get(projectID string) *conversation {
	conv, ok := h.conversations[projectID]
	if !ok {
		conv = &conversation{
			endpoints: make(map[string]*Endpoint),
			queue:     make(chan func(), queueDepth),
		}
		h.conversations[projectID] = conv
		go func() {
			for job := range conv.queue {
				job()
			}
		}()
	}
	return conv
}

// Attach registers a new delivery endpoint for a conversation.
func (h *Hub) Attach(projectID string) *Endpoint {
	ep := &Endpoint{
		ID:   uuid.New().String(),
		Send: make(chan []byte, 256),
	}
	h.mu.Lock()
	h.get(projectID).endpoints[ep.ID] = ep
	h.mu.Unlock()
	log.Printf("INFO: endpoint attached: %s (project: %s)", ep.ID, projectID)
	return ep
}

// Detach removes an endpoint and closes its send channel.
func (h *Hub) Detach(projectID string, ep *Endpoint) {
	h.mu.Lock()
	conv, ok := h.conversations[projectID]
	if ok {
		if _, exists := conv.endpoints[ep.ID]; exists {
			delete(conv.endpoints, ep.ID)
			close(ep.Send)
		}
	}
	h.mu.Unlock()
	log.Printf("INFO: endpoint detached: %s", ep.ID)
}

// Enqueue adds a job to the conversation's serial instruction queue. A
// second instruction arriving while one is in flight waits its turn; it is
// never executed concurrently. Returns false when the queue is full.
func (h *Hub) Enqueue(projectID string, job func()) bool {
	h.mu.Lock()
	conv := h.get(projectID)
	h.mu.Unlock()

	select {
	case conv.queue <- job:
		return true
	default:
		log.Printf("WARN: instruction queue full for project %s", projectID)
		return false
	}
}

// Broadcast sends data to every live endpoint of a conversation. Failures
// are per-endpoint and never abort the loop: a full buffer just drops that
// endpoint's delivery.
func (h *Hub) Broadcast(projectID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conv, ok := h.conversations[projectID]
	if !ok {
		return
	}
	for _, ep := range conv.endpoints {
		select {
		case ep.Send <- data:
		default:
			log.Printf("WARN: endpoint %s buffer full, dropping message", ep.ID)
		}
	}
}

// BroadcastJSON marshals v and broadcasts it.
func (h *Hub) BroadcastJSON(projectID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(projectID, data)
	return nil
}

// UpstreamSession returns the stored upstream session handle, or empty.
func (h *Hub) UpstreamSession(projectID string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conv, ok := h.conversations[projectID]; ok {
		return conv.upstreamSession
	}
	return ""
}

// SetUpstreamSession stores (or clears) the upstream session handle.
func (h *Hub) SetUpstreamSession(projectID, handle string) {
	h.mu.Lock()
	h.get(projectID).upstreamSession = handle
	h.mu.Unlock()
}

// BeginExecution records the in-flight execution handle. Returns false if a
// generation is already running for this conversation.
func (h *Hub) BeginExecution(projectID string, exec Interrupter) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	conv := h.get(projectID)
	if conv.executing != nil {
		return false
	}
	conv.executing = exec
	return true
}

// EndExecution clears the execution handle and, unconditionally, the
// cancellation flag, so state never leaks into the next turn.
func (h *Hub) EndExecution(projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conv, ok := h.conversations[projectID]; ok {
		conv.executing = nil
		conv.cancelRequested = false
	}
}

// RequestCancel marks the conversation cancelled if a generation is in
// flight and returns its interrupt hook. With nothing in flight it returns
// nil and leaves no flag behind.
func (h *Hub) RequestCancel(projectID string) Interrupter {
	h.mu.Lock()
	defer h.mu.Unlock()
	conv, ok := h.conversations[projectID]
	if !ok || conv.executing == nil {
		return nil
	}
	conv.cancelRequested = true
	return conv.executing
}

// CancelRequested reports whether cancellation was requested for the
// current generation.
func (h *Hub) CancelRequested(projectID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conv, ok := h.conversations[projectID]; ok {
		return conv.cancelRequested
	}
	return false
}

// Executing reports whether a generation is currently running.
func (h *Hub) Executing(projectID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conv, ok := h.conversations[projectID]; ok {
		return conv.executing != nil
	}
	return false
}

// EndpointCount returns the number of live endpoints for a conversation.
func (h *Hub) EndpointCount(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conv, ok := h.conversations[projectID]; ok {
		return len(conv.endpoints)
	}
	return 0
}
