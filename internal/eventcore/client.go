package eventcore

import (
	"context"
	"time"
)

// AgentClient is the in-process Agent Client Contract (§4.I): how an
// agent emits events, awaits responses, manages subscriptions, and
// drains its inbound queue. Transport adapters (HTTP, WebSocket, MQTT,
// NATS) wrap one AgentClient per connected agent; tests and in-process
// mods can use it directly without a transport in between.
type AgentClient struct {
	gw      *EventGateway
	agentID string
}

// NewAgentClient returns a client bound to agentID. The caller is
// responsible for having already registered agentID with the gateway
// (via RegisterAgent) before using Emit/Poll.
func NewAgentClient(gw *EventGateway, agentID string) *AgentClient {
	return &AgentClient{gw: gw, agentID: agentID}
}

// AgentID returns the identity this client acts as.
func (c *AgentClient) AgentID() string { return c.agentID }

// Emit constructs an event from p (forcing SourceID/SourceType to this
// client's identity) and runs it through the gateway. If p.RequiresResponse
// is true, Emit blocks until the gateway correlates a response or the
// configured response timeout elapses.
//
// SourceID is set to this client's bare agent_id, the same identifier
// space used by Subscription.AgentID, DestinationID, AllowedAgents and
// AgentFilter throughout this package: §3's "agent:<id>" convention is
// a wire/display convention for distinguishing agent/mod/system
// origins, not an internal identity encoding, so it is not applied
// here — doing so would make the source-always-sees-its-own-event rule
// (§8 property 3) and agent_filter matching compare two different
// representations of the same agent.
func (c *AgentClient) Emit(ctx context.Context, p NewEventParams) (EventResponse, error) {
	p.SourceID = c.agentID
	p.SourceType = SourceAgent
	event, err := NewEvent(p)
	if err != nil {
		return EventResponse{}, err
	}
	return c.gw.ProcessEvent(ctx, event)
}

// Subscribe installs a standing subscription for this client's agent.
func (c *AgentClient) Subscribe(patterns []string, modFilter, channelFilter *string, agentFilter []string) (*Subscription, error) {
	return c.gw.Subscribe(c.agentID, patterns, modFilter, channelFilter, agentFilter)
}

// Unsubscribe removes a previously-installed subscription.
func (c *AgentClient) Unsubscribe(subscriptionID string) bool {
	return c.gw.Unsubscribe(subscriptionID)
}

// Poll drains up to max queued inbound events, waiting up to timeout if
// the queue starts empty. A zero timeout uses the gateway's configured
// default poll timeout.
func (c *AgentClient) Poll(ctx context.Context, max int, timeout time.Duration) []Event {
	if timeout <= 0 {
		timeout = c.gw.cfg.DefaultPollTimeout
	}
	return c.gw.agents.Poll(ctx, c.agentID, max, timeout)
}

// QueueSize reports the current depth of this client's inbound queue.
func (c *AgentClient) QueueSize() int {
	return c.gw.agents.QueueSize(c.agentID)
}

// Stream pushes every inbound event to handler until ctx is cancelled or
// handler returns false. It is a push-style alternative to repeated
// Poll calls, suited to a transport that holds a live connection (e.g.
// a WebSocket) rather than one that re-polls on a request/response cycle.
func (c *AgentClient) Stream(ctx context.Context, handler func(Event) bool) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		events := c.Poll(ctx, 0, c.gw.cfg.DefaultPollTimeout)
		for _, e := range events {
			if !handler(e) {
				return
			}
		}
	}
}
