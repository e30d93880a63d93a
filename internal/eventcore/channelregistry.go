package eventcore

import (
	"sync"

	"github.com/openagents/eventcore/pkg/logger"
)

// ChannelRegistry is the sole source of truth for channel membership
// (§4.D). Mods MUST NOT maintain a parallel copy of this state.
type ChannelRegistry struct {
	mu             sync.RWMutex
	members        map[string]map[string]bool // channel -> agent ids
	agentChannels  map[string]map[string]bool // agent id -> channels
}

// NewChannelRegistry creates an empty channel registry.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{
		members:       make(map[string]map[string]bool),
		agentChannels: make(map[string]map[string]bool),
	}
}

// CreateChannel creates an empty channel if it does not already exist.
func (r *ChannelRegistry) CreateChannel(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[name]; !ok {
		r.members[name] = make(map[string]bool)
		logger.Info("Channel created: %s", name)
	}
}

// RemoveChannel deletes a channel and clears it from every member's
// channel set.
func (r *ChannelRegistry) RemoveChannel(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for agentID := range r.members[name] {
		delete(r.agentChannels[agentID], name)
	}
	delete(r.members, name)
	logger.Info("Channel removed: %s", name)
}

// AddMember adds agentID to channel name, creating the channel if needed.
func (r *ChannelRegistry) AddMember(name, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[name] == nil {
		r.members[name] = make(map[string]bool)
	}
	r.members[name][agentID] = true
	if r.agentChannels[agentID] == nil {
		r.agentChannels[agentID] = make(map[string]bool)
	}
	r.agentChannels[agentID][name] = true
}

// RemoveMember removes agentID from channel name.
func (r *ChannelRegistry) RemoveMember(name, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[name], agentID)
	delete(r.agentChannels[agentID], name)
}

// RemoveAgent removes agentID from every channel it belongs to; called
// on agent unregistration (§3 lifecycle cascade).
func (r *ChannelRegistry) RemoveAgent(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for channel := range r.agentChannels[agentID] {
		delete(r.members[channel], agentID)
	}
	delete(r.agentChannels, agentID)
}

// GetMembers returns a snapshot of channel name's member set.
func (r *ChannelRegistry) GetMembers(name string) map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSet(r.members[name])
}

// GetAgentChannels returns a snapshot of agentID's channel membership.
// This implements the ChannelLookup interface the SubscriptionIndex
// consults for channel-visibility checks.
func (r *ChannelRegistry) GetAgentChannels(agentID string) map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSet(r.agentChannels[agentID])
}

// ChannelNames returns every known channel name, used by the
// system.channel.list introspection event.
func (r *ChannelRegistry) ChannelNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.members))
	for name := range r.members {
		names = append(names, name)
	}
	return names
}

func cloneSet(s map[string]bool) map[string]bool {
	if s == nil {
		return nil
	}
	out := make(map[string]bool, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
