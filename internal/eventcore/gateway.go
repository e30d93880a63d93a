package eventcore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openagents/eventcore/pkg/logger"
	"github.com/openagents/eventcore/pkg/metrics"
	"github.com/openagents/eventcore/pkg/tracing"
)

const defaultHistorySize = 10000

// Reserved system event names, implemented directly by the gateway per
// §6 — never by a mod. Registration itself is an RPC (RegisterAgent/
// UnregisterAgent, called directly by transport adapters, not routed
// through ProcessEvent as an event); only the resulting notifications
// are events, emitted by emitSystemNotification and fanned out like
// any other event below.
const (
	SystemAgentRegistered   = "system.agent.registered"
	SystemAgentUnregistered = "system.agent.unregistered"
	SystemChannelList       = "system.channel.list"
	SystemModList           = "system.mod.list"
	SystemModManifest       = "system.mod.manifest"
	SystemAgentList         = "system.agent.list"
)

var reservedSystemEvents = map[string]bool{
	SystemAgentRegistered:   true,
	SystemAgentUnregistered: true,
	SystemChannelList:       true,
	SystemModList:           true,
	SystemModManifest:       true,
	SystemAgentList:         true,
}

// pendingResponse is one in-flight-table entry: a response-requiring
// event awaiting correlation via event_id.
type pendingResponse struct {
	ch   chan EventResponse
	once sync.Once
}

func (p *pendingResponse) resolve(r EventResponse) {
	p.once.Do(func() {
		p.ch <- r
		close(p.ch)
	})
}

// GatewayConfig configures an EventGateway's bounded resources.
type GatewayConfig struct {
	NetworkID          string
	AgentQueueSize     int
	HistorySize        int
	DefaultPollTimeout time.Duration
	ResponseTimeout    time.Duration
}

// EventGateway is the single entry point for event processing (§4.F).
// It validates, applies visibility, fans out to mods and to subscriber
// queues, and holds the in-flight response table for request/response
// correlation.
type EventGateway struct {
	cfg GatewayConfig

	agents      *AgentRegistry
	channels    *ChannelRegistry
	subs        *SubscriptionIndex
	mods        *ModRegistry

	historyMu sync.Mutex
	history   []Event

	inflightMu sync.Mutex
	inflight   map[string]*pendingResponse

	seenMu sync.Mutex
	seen   map[string]struct{}
	seenQ  []string
}

// NewEventGateway constructs a gateway with fresh, empty registries.
func NewEventGateway(cfg GatewayConfig) *EventGateway {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.AgentQueueSize <= 0 {
		cfg.AgentQueueSize = defaultAgentQueueSize
	}
	if cfg.DefaultPollTimeout <= 0 {
		cfg.DefaultPollTimeout = 30 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 10 * time.Second
	}

	channels := NewChannelRegistry()
	gw := &EventGateway{
		cfg:      cfg,
		agents:   NewAgentRegistry(cfg.AgentQueueSize),
		channels: channels,
		subs:     NewSubscriptionIndex(channels),
		mods:     NewModRegistry(),
		inflight: make(map[string]*pendingResponse),
		seen:     make(map[string]struct{}),
	}
	return gw
}

// Agents, Channels, Subscriptions and Mods expose the gateway's
// registries to transport adapters and mods that need to call through
// to them directly (e.g. a mod looking up channel membership).
func (gw *EventGateway) Agents() *AgentRegistry            { return gw.agents }
func (gw *EventGateway) Channels() *ChannelRegistry        { return gw.channels }
func (gw *EventGateway) Subscriptions() *SubscriptionIndex { return gw.subs }
func (gw *EventGateway) Mods() *ModRegistry                { return gw.mods }

// RegisterMod registers mod and calls its Initialize/BindNetwork hooks.
func (gw *EventGateway) RegisterMod(mod Mod) error {
	if err := mod.Initialize(); err != nil {
		return fmt.Errorf("initialize mod %s: %w", mod.Name(), err)
	}
	if err := gw.mods.RegisterMod(mod); err != nil {
		return err
	}
	return mod.BindNetwork(gw)
}

// RegisterAgent implements the system.agent.register RPC semantics
// (§6): registers an agent connection, replacing an existing one only
// if forceReconnect is set (§7, DuplicateRegistrationError otherwise).
func (gw *EventGateway) RegisterAgent(agentID string, metadata map[string]interface{}, forceReconnect bool) error {
	if err := gw.agents.Register(agentID, metadata, forceReconnect); err != nil {
		return err
	}
	for _, name := range gw.mods.ModNames() {
		if mod, ok := gw.mods.Mod(name); ok {
			mod.OnAgentRegistered(agentID)
		}
	}
	gw.emitSystemNotification(SystemAgentRegistered, agentID)
	return nil
}

// UnregisterAgent implements §3's unregister cascade: drop subscriptions,
// drop the queue, remove from every channel.
func (gw *EventGateway) UnregisterAgent(agentID string) bool {
	if !gw.agents.Unregister(agentID) {
		return false
	}
	gw.subs.RemoveForAgent(agentID)
	gw.channels.RemoveAgent(agentID)
	for _, name := range gw.mods.ModNames() {
		if mod, ok := gw.mods.Mod(name); ok {
			mod.OnAgentUnregistered(agentID)
		}
	}
	gw.emitSystemNotification(SystemAgentUnregistered, agentID)
	return true
}

func (gw *EventGateway) emitSystemNotification(eventName, agentID string) {
	notice, err := NewEvent(NewEventParams{
		EventName:  eventName,
		SourceID:   "system:system",
		SourceType: SourceMod,
		Payload:    map[string]interface{}{"agent_id": agentID},
		Visibility: VisibilityNetwork,
	})
	if err != nil {
		logger.Warn("Failed to build system notification %s: %v", eventName, err)
		return
	}
	if _, err := gw.ProcessEvent(context.Background(), notice); err != nil {
		logger.Warn("Failed to process system notification %s: %v", eventName, err)
	}
}

// Subscribe validates and installs a subscription. This reference
// gateway has no restricted-event-class registry of its own, so it never
// returns a VisibilityError (§7) and simply trusts the caller's agent_id
// to be their own.
func (gw *EventGateway) Subscribe(agentID string, patterns []string, modFilter, channelFilter *string, agentFilter []string) (*Subscription, error) {
	sub, err := NewSubscription(agentID, patterns, modFilter, channelFilter, agentFilter)
	if err != nil {
		return nil, err
	}
	if _, err := gw.subs.Add(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes a subscription by id. Per the no-op-unsubscribe
// invariant (§8, property 7), removing an unknown id returns false and
// does not alter state.
func (gw *EventGateway) Unsubscribe(subscriptionID string) bool {
	return gw.subs.Remove(subscriptionID)
}

// ProcessEvent is the gateway's central operation (§4.F). It runs the
// eight-step pipeline: validate (already done by NewEvent), mod
// dispatch, subscriber fan-out, response correlation, history
// persistence, and metrics.
func (gw *EventGateway) ProcessEvent(ctx context.Context, event *Event) (EventResponse, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "EventGateway.ProcessEvent",
		attribute.String("event_name", event.EventName),
		attribute.String("source_id", event.SourceID),
	)
	defer span.End()

	metrics.GetProvider().RecordEventPublished(event.SourceID, event.EventName)

	if resp, handled := gw.handleReservedSystemEvent(event); handled {
		status := "completed"
		if !resp.Success {
			status = "failed"
		}
		return gw.finish(event, resp, nil, start, status)
	}

	var pending *pendingResponse
	if event.RequiresResponse {
		pending = gw.registerInflight(event.EventID)
		defer gw.clearInflight(event.EventID)
	}

	var modResponse EventResponse
	modRan := false
	if event.RelevantMod != nil && *event.RelevantMod != "" {
		responses := gw.mods.Dispatch(event)
		modRan = true
		modResponse = combineResponses(responses)
		if pending != nil {
			pending.resolve(modResponse)
		}
	}

	gw.fanOut(event)

	if event.ResponseTo != nil {
		gw.resolveInflight(*event.ResponseTo, responseFromResolvingEvent(event))
	}

	gw.appendHistory(*event)

	var resp EventResponse
	var procErr error
	switch {
	case pending != nil:
		resp, procErr = gw.awaitResponse(ctx, event.EventID, pending)
	case modRan:
		resp = modResponse
	default:
		resp = EventResponse{Success: true}
	}

	status := "completed"
	if !resp.Success || procErr != nil {
		status = "failed"
	}
	return gw.finish(event, resp, procErr, start, status)
}

func (gw *EventGateway) finish(event *Event, resp EventResponse, err error, start time.Time, status string) (EventResponse, error) {
	metrics.GetProvider().RecordEventProcessed(event.SourceID, event.EventName, status, time.Since(start))
	return resp, err
}

// fanOut implements step 4/5 of §4.F: for each matched subscription,
// enqueue the event onto that subscriber's queue. The source only
// receives the event via its own matching subscription — there is no
// forced delivery.
func (gw *EventGateway) fanOut(event *Event) {
	for _, sub := range gw.subs.Match(event) {
		if err := gw.agents.Enqueue(sub.AgentID, *event); err != nil {
			switch err.(type) {
			case *QueueOverflowError, *UnknownAgentError:
				// local error, already logged/metered by AgentRegistry.Enqueue
			default:
				logger.Warn("Unexpected enqueue error for agent %s: %v", sub.AgentID, err)
			}
		}
	}
}

func (gw *EventGateway) registerInflight(eventID string) *pendingResponse {
	p := &pendingResponse{ch: make(chan EventResponse, 1)}
	gw.inflightMu.Lock()
	gw.inflight[eventID] = p
	gw.inflightMu.Unlock()
	metrics.GetProvider().UpdateInFlightResponses(gw.inflightCount())
	return p
}

func (gw *EventGateway) clearInflight(eventID string) {
	gw.inflightMu.Lock()
	delete(gw.inflight, eventID)
	gw.inflightMu.Unlock()
	metrics.GetProvider().UpdateInFlightResponses(gw.inflightCount())
}

func (gw *EventGateway) inflightCount() int {
	gw.inflightMu.Lock()
	defer gw.inflightMu.Unlock()
	return len(gw.inflight)
}

// responseFromResolvingEvent derives the EventResponse handed back to an
// Emit caller blocked on event_id when the correlation resolves via a
// follow-up event (a mod or agent answering via response_to rather than
// a synchronous mod return), per §4.F step 6 and §8 property 6: R is
// derived from the resolving event's own content, not a synthetic
// placeholder. The resolving event's Payload becomes Data, its
// TextRepresentation becomes Message (payload-carried "success"/
// "message" keys take precedence, mirroring EventResponse's own JSON
// shape for mods that reply by emitting an event shaped like one), and
// response_event_id is recorded for traceability without shadowing a
// real payload key of that name.
func responseFromResolvingEvent(event *Event) EventResponse {
	data, err := event.Payload.ToMap()
	if err != nil || data == nil {
		data = make(map[string]interface{})
	}
	resp := EventResponse{Success: true, Data: data}
	if event.TextRepresentation != nil {
		resp.Message = *event.TextRepresentation
	}
	if v, ok := data["success"]; ok {
		if b, ok := v.(bool); ok {
			resp.Success = b
		}
	}
	if v, ok := data["message"]; ok {
		if s, ok := v.(string); ok {
			resp.Message = s
		}
	}
	if _, exists := data["response_event_id"]; !exists {
		data["response_event_id"] = event.EventID
	}
	return resp
}

func (gw *EventGateway) resolveInflight(eventID string, resp EventResponse) {
	gw.inflightMu.Lock()
	p, ok := gw.inflight[eventID]
	gw.inflightMu.Unlock()
	if ok {
		p.resolve(resp)
	}
}

// awaitResponse blocks for a correlated response per §4.F step 6. A
// timeout is a TimeoutError surfaced as a real Go error, per spec.md's
// §7 grouping of TimeoutError with ValidationError/VisibilityError as
// "surfaced to the caller" — the same bucket NewEvent's ValidationError
// already uses, rather than a string folded into a success response.
func (gw *EventGateway) awaitResponse(ctx context.Context, eventID string, pending *pendingResponse) (EventResponse, error) {
	timeout := gw.cfg.ResponseTimeout
	select {
	case resp := <-pending.ch:
		return resp, nil
	case <-time.After(timeout):
		logger.Warn("Response timeout for event %s after %s", eventID, timeout)
		return EventResponse{}, &TimeoutError{EventID: eventID, After: timeout.String()}
	case <-ctx.Done():
		return EventResponse{}, ctx.Err()
	}
}

func (gw *EventGateway) appendHistory(event Event) {
	gw.historyMu.Lock()
	defer gw.historyMu.Unlock()
	gw.history = append(gw.history, event)
	if len(gw.history) > gw.cfg.HistorySize {
		gw.history = gw.history[len(gw.history)-gw.cfg.HistorySize:]
	}
}

// History returns a snapshot of the bounded event history ring, in
// insertion order, for diagnostic retrieval.
func (gw *EventGateway) History() []Event {
	gw.historyMu.Lock()
	defer gw.historyMu.Unlock()
	out := make([]Event, len(gw.history))
	copy(out, gw.history)
	return out
}

// markSeen records event_id in a small bounded seen-set (oldest entry
// evicted first). Only handleReservedSystemEvent consults it, so a
// redelivered reserved system event is acknowledged without running its
// handling again; metrics, ordinary subscriber fan-out and mod dispatch
// do not consult it.
func (gw *EventGateway) markSeen(eventID string) (alreadySeen bool) {
	const seenCap = 4096
	gw.seenMu.Lock()
	defer gw.seenMu.Unlock()
	if _, ok := gw.seen[eventID]; ok {
		return true
	}
	gw.seen[eventID] = struct{}{}
	gw.seenQ = append(gw.seenQ, eventID)
	if len(gw.seenQ) > seenCap {
		oldest := gw.seenQ[0]
		gw.seenQ = gw.seenQ[1:]
		delete(gw.seen, oldest)
	}
	return false
}

// handleReservedSystemEvent implements the §6 reserved system events
// directly in the gateway. It returns the response to hand back to the
// caller and whether event was a reserved system event at all; a false
// second value means the normal pipeline should run instead.
func (gw *EventGateway) handleReservedSystemEvent(event *Event) (EventResponse, bool) {
	if !reservedSystemEvents[event.EventName] {
		return EventResponse{}, false
	}
	defer gw.appendHistory(*event)

	if gw.markSeen(event.EventID) {
		return EventResponse{Success: true}, true
	}

	switch event.EventName {
	case SystemChannelList:
		names := gw.channels.ChannelNames()
		sort.Strings(names)
		return EventResponse{Success: true, Data: map[string]interface{}{"channels": names}}, true
	case SystemModList:
		return EventResponse{Success: true, Data: map[string]interface{}{"mods": gw.mods.ModNames()}}, true
	case SystemModManifest:
		name := event.Payload.String("mod_name", "")
		mod, ok := gw.mods.Mod(name)
		if !ok {
			return EventResponse{Success: false, Message: fmt.Sprintf("unknown mod: %s", name)}, true
		}
		bindings := mod.Bindings()
		patterns := make([]string, 0, len(bindings))
		for p := range bindings {
			patterns = append(patterns, p)
		}
		sort.Strings(patterns)
		return EventResponse{Success: true, Data: map[string]interface{}{
			"name":     mod.Name(),
			"patterns": patterns,
		}}, true
	case SystemAgentList:
		ids := gw.agents.AgentIDs()
		sort.Strings(ids)
		return EventResponse{Success: true, Data: map[string]interface{}{"agents": ids}}, true
	default:
		// system.agent.registered/unregistered: the state change
		// itself already happened through RegisterAgent/
		// UnregisterAgent before this notification was built; what's
		// left for the reserved-event path is the same delivery a
		// non-reserved event would get — fan out to subscribers —
		// before acknowledging.
		gw.fanOut(event)
		return EventResponse{Success: true}, true
	}
}
