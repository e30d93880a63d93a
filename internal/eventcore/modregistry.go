package eventcore

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openagents/eventcore/pkg/logger"
	"github.com/openagents/eventcore/pkg/metrics"
)

// ModHandler processes one event bound to a mod and optionally returns
// a response. A nil response with a nil error means the handler chose
// not to answer (valid when requires_response is false).
type ModHandler func(event *Event) (*EventResponse, error)

// Mod is the contract a mod implements per §4.H: a stable dotted name,
// a set of (pattern -> handler) bindings, and optional lifecycle hooks.
type Mod interface {
	Name() string
	Bindings() map[string]ModHandler

	Initialize() error
	BindNetwork(gw *EventGateway) error
	Shutdown() error

	// OnAgentRegistered and OnAgentUnregistered are optional lifecycle
	// hooks; mods with nothing to do on agent changes are free to make
	// these no-ops.
	OnAgentRegistered(agentID string)
	OnAgentUnregistered(agentID string)
}

type modBinding struct {
	modName string
	handler ModHandler
}

// ModRegistry maps event names to ordered lists of mod handlers and
// dispatches events to them (§4.E). Dispatch for a single event is
// serialized across its matched handlers: each runs to completion
// before the next starts.
type ModRegistry struct {
	mu            sync.RWMutex
	mods          map[string]Mod
	exactBindings map[string][]modBinding
	prefixStems   []string
	prefixBindings map[string][]modBinding
}

// NewModRegistry creates an empty mod registry.
func NewModRegistry() *ModRegistry {
	return &ModRegistry{
		mods:           make(map[string]Mod),
		exactBindings:  make(map[string][]modBinding),
		prefixBindings: make(map[string][]modBinding),
	}
}

// RegisterMod enumerates mod's declared bindings and inserts them.
// Later registrations for the same event name append to the ordered
// list for that name, in registration order.
func (r *ModRegistry) RegisterMod(mod Mod) error {
	if mod == nil {
		return fmt.Errorf("mod must not be nil")
	}
	name := mod.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("mod must declare a non-empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.mods[name]; exists {
		return fmt.Errorf("mod already registered: %s", name)
	}
	r.mods[name] = mod

	for pattern, handler := range mod.Bindings() {
		binding := modBinding{modName: name, handler: handler}
		if strings.HasSuffix(pattern, "*") {
			stem := strings.TrimSuffix(pattern, "*")
			if _, ok := r.prefixBindings[stem]; !ok {
				r.prefixStems = append(r.prefixStems, stem)
			}
			r.prefixBindings[stem] = append(r.prefixBindings[stem], binding)
		} else {
			r.exactBindings[pattern] = append(r.exactBindings[pattern], binding)
		}
	}

	sort.Strings(r.prefixStems)
	logger.Info("Mod registered: %s", name)
	return nil
}

// Mod returns the registered mod by name, if any.
func (r *ModRegistry) Mod(name string) (Mod, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mods[name]
	return m, ok
}

// ModNames returns every registered mod's name, used by the
// system.mod.list introspection event.
func (r *ModRegistry) ModNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.mods))
	for name := range r.mods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch invokes every handler bound to event.EventName: exact
// bindings first, then prefix bindings in stem order, registration
// order within each group. A handler panic or returned error is
// recovered, logged, reported to error tracking, and converted to
// EventResponse{success:false} without aborting the remaining handlers.
func (r *ModRegistry) Dispatch(event *Event) []EventResponse {
	r.mu.RLock()
	bindings := append([]modBinding(nil), r.exactBindings[event.EventName]...)
	for _, stem := range r.prefixStems {
		if strings.HasPrefix(event.EventName, stem) {
			bindings = append(bindings, r.prefixBindings[stem]...)
		}
	}
	r.mu.RUnlock()

	responses := make([]EventResponse, 0, len(bindings))
	for _, b := range bindings {
		responses = append(responses, r.invoke(b, event))
	}
	return responses
}

func (r *ModRegistry) invoke(b modBinding, event *Event) (resp EventResponse) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.GetProvider().RecordPanic("ModRegistry.Dispatch")
			err := logger.HandlePanic(fmt.Sprintf("mod:%s:%s", b.modName, event.EventName), rec)
			resp = EventResponse{Success: false, Message: err.Error()}
		}
	}()

	out, err := b.handler(event)
	if err != nil {
		dispatchErr := &DispatchError{ModName: b.modName, EventName: event.EventName, Cause: err}
		logger.Error("%v", dispatchErr)
		return EventResponse{Success: false, Message: dispatchErr.Error()}
	}
	if out == nil {
		return EventResponse{Success: true}
	}
	return *out
}
