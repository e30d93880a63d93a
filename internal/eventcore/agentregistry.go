package eventcore

import (
	"context"
	"sync"
	"time"

	"github.com/openagents/eventcore/pkg/logger"
	"github.com/openagents/eventcore/pkg/metrics"
)

const defaultAgentQueueSize = 1000

// AgentConnection tracks one connected agent: its metadata, last-seen
// timestamp, and bounded FIFO queue of events awaiting delivery.
type AgentConnection struct {
	AgentID  string
	Metadata map[string]interface{}

	mu       sync.Mutex
	lastSeen time.Time
	queue    []Event
	capacity int
	notify   chan struct{}
}

func newAgentConnection(agentID string, metadata map[string]interface{}, capacity int) *AgentConnection {
	if capacity <= 0 {
		capacity = defaultAgentQueueSize
	}
	return &AgentConnection{
		AgentID:  agentID,
		Metadata: metadata,
		lastSeen: time.Now(),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

func (c *AgentConnection) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// enqueue appends event to the queue, dropping the newest event (the one
// being enqueued) if the queue is already at capacity. It never blocks.
func (c *AgentConnection) enqueue(e Event) (dropped bool) {
	c.mu.Lock()
	if len(c.queue) >= c.capacity {
		c.mu.Unlock()
		return true
	}
	c.queue = append(c.queue, e)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return false
}

func (c *AgentConnection) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// poll drains up to max queued events, waiting up to timeout for at
// least one to arrive if the queue starts empty.
func (c *AgentConnection) poll(ctx context.Context, max int, timeout time.Duration) []Event {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		select {
		case <-c.notify:
		case <-time.After(timeout):
			return nil
		case <-ctx.Done():
			return nil
		}
		c.mu.Lock()
	}
	defer c.mu.Unlock()

	if max <= 0 || max > len(c.queue) {
		max = len(c.queue)
	}
	out := make([]Event, max)
	copy(out, c.queue[:max])
	c.queue = c.queue[max:]
	return out
}

// AgentRegistry tracks connected agents and their queues, per §4.C.
// Enqueue never blocks the producer; Poll may block up to a timeout.
type AgentRegistry struct {
	mu         sync.RWMutex
	agents     map[string]*AgentConnection
	queueSize  int
}

// NewAgentRegistry creates a registry whose agent queues default to
// queueSize slots (0 uses the package default of 1000).
func NewAgentRegistry(queueSize int) *AgentRegistry {
	return &AgentRegistry{
		agents:    make(map[string]*AgentConnection),
		queueSize: queueSize,
	}
}

// Register adds or replaces an agent connection. forceReconnect allows a
// caller to displace an existing registration for the same agent_id
// without triggering DuplicateRegistrationError (§7).
func (r *AgentRegistry) Register(agentID string, metadata map[string]interface{}, forceReconnect bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agentID]; exists && !forceReconnect {
		return &DuplicateRegistrationError{AgentID: agentID}
	}
	r.agents[agentID] = newAgentConnection(agentID, metadata, r.queueSize)
	metrics.GetProvider().UpdateAgentsRegistered(len(r.agents))
	logger.Info("Agent registered: %s", agentID)
	return nil
}

// Unregister removes an agent and its queue. Cascading removal of its
// subscriptions and channel memberships is the caller's (gateway's)
// responsibility, since those live in other structures.
func (r *AgentRegistry) Unregister(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agentID]; !exists {
		return false
	}
	delete(r.agents, agentID)
	metrics.GetProvider().UpdateAgentsRegistered(len(r.agents))
	logger.Info("Agent unregistered: %s", agentID)
	return true
}

// IsRegistered reports whether agentID currently has a connection.
func (r *AgentRegistry) IsRegistered(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}

// Touch updates an agent's last-seen timestamp, called on every
// successful Poll or Enqueue.
func (r *AgentRegistry) Touch(agentID string) {
	r.mu.RLock()
	conn, ok := r.agents[agentID]
	r.mu.RUnlock()
	if ok {
		conn.touch()
	}
}

// Enqueue places event onto agentID's queue. It never blocks; on
// overflow it drops the newest event (the one being enqueued), records
// a metric, and returns a *QueueOverflowError for the caller to log.
// Enqueue on an unregistered agent returns *UnknownAgentError and is not
// a failure for the emitter.
func (r *AgentRegistry) Enqueue(agentID string, event Event) error {
	r.mu.RLock()
	conn, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return &UnknownAgentError{AgentID: agentID}
	}

	conn.touch()
	if dropped := conn.enqueue(event); dropped {
		metrics.GetProvider().RecordEventDropped(agentID, "queue_overflow")
		logger.Warn("Queue overflow for agent %s, dropping newest event %s", agentID, event.EventID)
		metrics.GetProvider().UpdateAgentQueueSize(agentID, conn.size())
		return &QueueOverflowError{AgentID: agentID}
	}
	metrics.GetProvider().UpdateAgentQueueSize(agentID, conn.size())
	return nil
}

// Poll drains up to max events from agentID's queue, waiting up to
// timeout if it starts empty. Polling an unregistered agent returns nil.
func (r *AgentRegistry) Poll(ctx context.Context, agentID string, max int, timeout time.Duration) []Event {
	r.mu.RLock()
	conn, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	events := conn.poll(ctx, max, timeout)
	conn.touch()
	metrics.GetProvider().UpdateAgentQueueSize(agentID, conn.size())
	return events
}

// QueueSize reports the current depth of agentID's queue, or -1 if the
// agent is not registered.
func (r *AgentRegistry) QueueSize(agentID string) int {
	r.mu.RLock()
	conn, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return -1
	}
	return conn.size()
}

// Count returns the number of registered agents.
func (r *AgentRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// AgentIDs returns a snapshot of every registered agent id, used by the
// system.agent.list introspection event.
func (r *AgentRegistry) AgentIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}

// LastSeen reports agentID's last Poll/Enqueue heartbeat timestamp, used
// by the HTTP adapter's /health handler to surface per-agent liveness.
func (r *AgentRegistry) LastSeen(agentID string) (time.Time, bool) {
	r.mu.RLock()
	conn, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.lastSeen, true
}
