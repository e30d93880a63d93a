// Package echomod is a reference Mod Contract implementation. It binds
// every event and, whenever an event's payload carries a "mentions"
// array, emits one mod.echo.mentioned follow-up event per mentioned
// agent with response_to set to the originating event. It exists to
// show mods how to derive a meaningful follow-up event name instead of
// a placeholder one, and how to keep a handler idempotent per
// event_id.
package echomod

import (
	"context"
	"fmt"
	"sync"

	"github.com/openagents/eventcore/internal/eventcore"
	"github.com/openagents/eventcore/pkg/logger"
)

// Config configures how much idempotency history the mod retains.
type Config struct {
	MaxSeen int
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.MaxSeen == 0 {
		c.MaxSeen = 4096
	}
}

// Mod implements eventcore.Mod. A single instance is stateful and must
// not be registered on more than one gateway.
type Mod struct {
	cfg Config
	gw  *eventcore.EventGateway

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// New constructs an unbound echo mod. Call BindNetwork (done for you by
// ModRegistry.RegisterMod's caller) before routing events to it.
func New(cfg Config) *Mod {
	cfg.ApplyDefaults()
	return &Mod{
		cfg:  cfg,
		seen: make(map[string]struct{}),
	}
}

// Name returns the mod's stable dotted identifier.
func (m *Mod) Name() string { return "openagents.mods.echo" }

// Bindings binds every event name; ModRegistry's "*" stem matches
// regardless of the event's own name, same as any other prefix binding.
func (m *Mod) Bindings() map[string]eventcore.ModHandler {
	return map[string]eventcore.ModHandler{
		"*": m.handle,
	}
}

// Initialize has nothing to set up beyond what New already built.
func (m *Mod) Initialize() error { return nil }

// BindNetwork records the gateway this mod emits follow-up events on.
func (m *Mod) BindNetwork(gw *eventcore.EventGateway) error {
	m.gw = gw
	return nil
}

// Shutdown has no resources to release.
func (m *Mod) Shutdown() error { return nil }

// OnAgentRegistered is a no-op; this mod tracks no per-agent state.
func (m *Mod) OnAgentRegistered(agentID string) {}

// OnAgentUnregistered is a no-op; this mod tracks no per-agent state.
func (m *Mod) OnAgentUnregistered(agentID string) {}

func (m *Mod) handle(event *eventcore.Event) (*eventcore.EventResponse, error) {
	if !m.markSeen(event.EventID) {
		return &eventcore.EventResponse{Success: true, Message: "already handled"}, nil
	}

	mentions := event.Payload.StringSlice("mentions")
	if len(mentions) == 0 {
		return &eventcore.EventResponse{Success: true}, nil
	}

	if m.gw == nil {
		return nil, fmt.Errorf("echomod: not bound to a network")
	}

	for _, mentioned := range mentions {
		dest := mentioned
		followUp, err := eventcore.NewEvent(eventcore.NewEventParams{
			EventName:     "mod.echo.mentioned",
			SourceID:      "mod:openagents.mods.echo",
			SourceType:    eventcore.SourceMod,
			DestinationID: &dest,
			ResponseTo:    &event.EventID,
			Payload: map[string]interface{}{
				"mentioned_agent": mentioned,
				"origin_event_id": event.EventID,
				"origin_event":    event.EventName,
			},
		})
		if err != nil {
			logger.Warn("echomod: build follow-up for %s: %v", mentioned, err)
			continue
		}
		if _, err := m.gw.ProcessEvent(context.Background(), followUp); err != nil {
			logger.Warn("echomod: emit follow-up for %s: %v", mentioned, err)
		}
	}

	return &eventcore.EventResponse{Success: true, Data: map[string]interface{}{
		"mentioned_count": len(mentions),
	}}, nil
}

// markSeen reports whether event_id has not been handled before,
// recording it if so. The seen set is capped at cfg.MaxSeen, evicting
// the oldest id once full, since handler idempotency only needs to
// cover events still plausibly in flight or retried, not the network's
// entire lifetime.
func (m *Mod) markSeen(eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[eventID]; ok {
		return false
	}
	if len(m.order) >= m.cfg.MaxSeen {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.seen, oldest)
	}
	m.seen[eventID] = struct{}{}
	m.order = append(m.order, eventID)
	return true
}
