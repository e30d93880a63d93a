package eventcore

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Subscription is an agent's standing interest in some subset of events,
// expressed as patterns plus optional filters. See §3.
type Subscription struct {
	SubscriptionID string
	AgentID        string
	EventPatterns  []string
	ModFilter      *string
	ChannelFilter  *string
	AgentFilter    map[string]bool
	IsActive       bool
}

// NewSubscription validates and constructs a Subscription. At least one
// pattern is required per §3's invariant.
func NewSubscription(agentID string, patterns []string, modFilter, channelFilter *string, agentFilter []string) (*Subscription, error) {
	if len(patterns) == 0 {
		return nil, newValidationError("event_patterns", "at least one pattern is required")
	}
	var filterSet map[string]bool
	if len(agentFilter) > 0 {
		filterSet = make(map[string]bool, len(agentFilter))
		for _, a := range agentFilter {
			filterSet[a] = true
		}
	}
	return &Subscription{
		SubscriptionID: uuid.New().String(),
		AgentID:        agentID,
		EventPatterns:  append([]string(nil), patterns...),
		ModFilter:      modFilter,
		ChannelFilter:  channelFilter,
		AgentFilter:    filterSet,
		IsActive:       true,
	}, nil
}

// ChannelLookup resolves an agent's current channel membership; it is
// how the SubscriptionIndex asks the ChannelRegistry for the set used in
// a visibility check, without creating an import cycle between the two.
type ChannelLookup interface {
	GetAgentChannels(agentID string) map[string]bool
}

// SubscriptionIndex maps event-name patterns and filters to subscribers.
// Per §4.B it is implementation-free to pre-index by exact name vs
// prefix; this implementation keeps two maps for that reason, but the
// contract only requires Match be deterministic and side-effect-free.
type SubscriptionIndex struct {
	mu            sync.RWMutex
	byID          map[string]*Subscription
	exactByName   map[string]map[string]bool // event name -> subscription ids
	prefixByStem  map[string]map[string]bool // prefix (without trailing *) -> subscription ids
	wildcard      map[string]bool            // subscription ids subscribed to "*"
	channels      ChannelLookup
}

// NewSubscriptionIndex creates an index that consults channels for
// channel-visibility checks during Match.
func NewSubscriptionIndex(channels ChannelLookup) *SubscriptionIndex {
	return &SubscriptionIndex{
		byID:         make(map[string]*Subscription),
		exactByName:  make(map[string]map[string]bool),
		prefixByStem: make(map[string]map[string]bool),
		wildcard:     make(map[string]bool),
		channels:     channels,
	}
}

// Add inserts a subscription and returns its id.
func (idx *SubscriptionIndex) Add(sub *Subscription) (string, error) {
	if sub == nil {
		return "", fmt.Errorf("subscription must not be nil")
	}
	if len(sub.EventPatterns) == 0 {
		return "", newValidationError("event_patterns", "at least one pattern is required")
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.byID[sub.SubscriptionID] = sub
	for _, pattern := range sub.EventPatterns {
		switch {
		case pattern == "*":
			idx.wildcard[sub.SubscriptionID] = true
		case len(pattern) > 0 && pattern[len(pattern)-1] == '*':
			stem := pattern[:len(pattern)-1]
			if idx.prefixByStem[stem] == nil {
				idx.prefixByStem[stem] = make(map[string]bool)
			}
			idx.prefixByStem[stem][sub.SubscriptionID] = true
		default:
			if idx.exactByName[pattern] == nil {
				idx.exactByName[pattern] = make(map[string]bool)
			}
			idx.exactByName[pattern][sub.SubscriptionID] = true
		}
	}
	return sub.SubscriptionID, nil
}

// Remove deletes a subscription by id, returning false if it did not exist.
func (idx *SubscriptionIndex) Remove(id string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.removeLocked(id)
}

func (idx *SubscriptionIndex) removeLocked(id string) bool {
	sub, ok := idx.byID[id]
	if !ok {
		return false
	}
	delete(idx.byID, id)
	delete(idx.wildcard, id)
	for _, pattern := range sub.EventPatterns {
		switch {
		case pattern == "*":
		case len(pattern) > 0 && pattern[len(pattern)-1] == '*':
			stem := pattern[:len(pattern)-1]
			delete(idx.prefixByStem[stem], id)
		default:
			delete(idx.exactByName[pattern], id)
		}
	}
	return true
}

// RemoveForAgent removes every subscription owned by agentID, returning
// the count removed. Called on agent unregistration (§3 lifecycle).
func (idx *SubscriptionIndex) RemoveForAgent(agentID string) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var ids []string
	for id, sub := range idx.byID {
		if sub.AgentID == agentID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		idx.removeLocked(id)
	}
	return len(ids)
}

// Match returns every active subscription that should receive event,
// per the five-step procedure in §4.B. The index's ChannelLookup
// (idx.channels) supplies each candidate subscriber's channel membership
// for the visibility check.
func (idx *SubscriptionIndex) Match(event *Event) []*Subscription {
	idx.mu.RLock()
	candidates := make(map[string]bool)
	for id := range idx.wildcard {
		candidates[id] = true
	}
	for id := range idx.exactByName[event.EventName] {
		candidates[id] = true
	}
	for stem, ids := range idx.prefixByStem {
		if len(event.EventName) >= len(stem) && event.EventName[:len(stem)] == stem {
			for id := range ids {
				candidates[id] = true
			}
		}
	}

	var result []*Subscription
	for id := range candidates {
		sub, ok := idx.byID[id]
		if !ok || !sub.IsActive {
			continue
		}
		result = append(result, sub)
	}
	idx.mu.RUnlock()

	matched := result[:0]
	for _, sub := range result {
		if !idx.matchesFilters(event, sub) {
			continue
		}
		matched = append(matched, sub)
	}
	return matched
}

func (idx *SubscriptionIndex) matchesFilters(event *Event, sub *Subscription) bool {
	var channels map[string]bool
	if idx.channels != nil {
		channels = idx.channels.GetAgentChannels(sub.AgentID)
	}
	if !event.IsVisibleTo(sub.AgentID, channels) {
		return false
	}

	matchedPattern := false
	for _, p := range sub.EventPatterns {
		if event.MatchesPattern(p) {
			matchedPattern = true
			break
		}
	}
	if !matchedPattern {
		return false
	}

	if sub.ModFilter != nil {
		if event.RelevantMod == nil || *event.RelevantMod != *sub.ModFilter {
			return false
		}
	}
	if sub.ChannelFilter != nil {
		if event.TargetChannel == nil || *event.TargetChannel != *sub.ChannelFilter {
			return false
		}
	}
	if sub.AgentFilter != nil {
		if !sub.AgentFilter[event.SourceID] {
			return false
		}
	}
	return true
}

// Count returns the number of active subscriptions, used by system
// introspection events and tests.
func (idx *SubscriptionIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byID)
}
