package natsbridge

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/openagents/eventcore/internal/eventcore"
)

type fakePublisher struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(map[string][][]byte)}
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published[subject] = append(p.published[subject], data)
	return nil
}

func (p *fakePublisher) last(subject string) (outFrame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	frames := p.published[subject]
	if len(frames) == 0 {
		return outFrame{}, false
	}
	var f outFrame
	if err := json.Unmarshal(frames[len(frames)-1], &f); err != nil {
		return outFrame{}, false
	}
	return f, true
}

func newTestAdapter() (*Adapter, *fakePublisher, *eventcore.EventGateway) {
	gw := eventcore.NewEventGateway(eventcore.GatewayConfig{
		AgentQueueSize:     10,
		HistorySize:        100,
		DefaultPollTimeout: 100 * time.Millisecond,
		ResponseTimeout:    500 * time.Millisecond,
	})
	cfg := Config{NetworkID: "test"}
	cfg.ApplyDefaults()
	pub := newFakePublisher()
	a := newWithConn(gw, cfg, nil, pub)
	return a, pub, gw
}

func send(a *Adapter, agentID string, frame inFrame) {
	body, _ := json.Marshal(frame)
	a.handleInbound(a.inSubject(agentID), body)
}

func TestNATSBridge_RegisterEmitAndStream(t *testing.T) {
	a, pub, gw := newTestAdapter()

	send(a, "b", inFrame{ID: "r1", Type: frameRegister})
	send(a, "b", inFrame{ID: "s1", Type: frameSubscribe, EventPatterns: []string{"agent.direct_message.sent"}})

	ack, ok := pub.last(a.outSubject("b"))
	if !ok || ack.Type != frameSubscribed || ack.SubscriptionID == "" {
		t.Fatalf("expected a subscribed ack, got %+v (ok=%v)", ack, ok)
	}

	send(a, "a", inFrame{ID: "reg-a", Type: frameRegister})
	dest := "b"
	send(a, "a", inFrame{
		ID:            "e1",
		Type:          frameEmit,
		EventName:     "agent.direct_message.sent",
		DestinationID: &dest,
		Payload:       map[string]interface{}{"text": "hi"},
	})

	resp, ok := pub.last(a.outSubject("a"))
	if !ok || resp.Type != frameResponse || resp.Response == nil || !resp.Response.Success {
		t.Fatalf("expected a successful response ack, got %+v (ok=%v)", resp, ok)
	}

	deadline := time.After(time.Second)
	for {
		if ev, ok := pub.last(a.outSubject("b")); ok && ev.Type == frameEvent {
			if ev.Event.Payload.String("text", "") != "hi" {
				t.Fatalf("expected payload text 'hi', got %q", ev.Event.Payload.String("text", ""))
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for streamed event frame")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if !gw.Agents().IsRegistered("a") || !gw.Agents().IsRegistered("b") {
		t.Fatal("expected both agents registered on the gateway")
	}

	send(a, "b", inFrame{ID: "u1", Type: frameUnregister})
	time.Sleep(10 * time.Millisecond)
	if gw.Agents().IsRegistered("b") {
		t.Fatal("expected agent b unregistered after an unregister frame")
	}
}

func TestNATSBridge_EmitWithoutRegisterIsRejected(t *testing.T) {
	a, pub, _ := newTestAdapter()

	send(a, "ghost", inFrame{ID: "e1", Type: frameEmit, EventName: "agent.direct_message.sent"})

	resp, ok := pub.last(a.outSubject("ghost"))
	if !ok || resp.Type != frameError {
		t.Fatalf("expected an error frame for an unregistered agent, got %+v (ok=%v)", resp, ok)
	}
}

func TestNATSBridge_SubjectNamespacingByNetwork(t *testing.T) {
	a, _, _ := newTestAdapter()
	if got := a.inSubject("x"); got != "openagents.test.x.in" {
		t.Fatalf("unexpected inbound subject: %s", got)
	}
	if _, ok := a.agentIDFromSubject("openagents.other.x.in"); ok {
		t.Fatal("expected subjects from a different network to be ignored")
	}
}
