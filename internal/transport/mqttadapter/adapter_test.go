package mqttadapter

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/openagents/eventcore/internal/eventcore"
)

// fakeBroker is an in-memory stand-in for the broker interface, letting
// these tests exercise Adapter's frame handling without a real MQTT
// connection.
type fakeBroker struct {
	mu        sync.Mutex
	published map[string][][]byte
	inbound   messageCallback
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{published: make(map[string][][]byte)}
}

func (b *fakeBroker) Start(ctx context.Context) error { return nil }
func (b *fakeBroker) Stop(ctx context.Context) error  { return nil }

func (b *fakeBroker) Publish(topic string, qos byte, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[topic] = append(b.published[topic], payload)
	return nil
}

func (b *fakeBroker) Subscribe(topicFilter string, qos byte, callback messageCallback) error {
	b.inbound = callback
	return nil
}

func (b *fakeBroker) last(topic string) (outFrame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	frames := b.published[topic]
	if len(frames) == 0 {
		return outFrame{}, false
	}
	var f outFrame
	if err := json.Unmarshal(frames[len(frames)-1], &f); err != nil {
		return outFrame{}, false
	}
	return f, true
}

func newTestAdapter() (*Adapter, *fakeBroker, *eventcore.EventGateway) {
	gw := eventcore.NewEventGateway(eventcore.GatewayConfig{
		AgentQueueSize:     10,
		HistorySize:        100,
		DefaultPollTimeout: 100 * time.Millisecond,
		ResponseTimeout:    500 * time.Millisecond,
	})
	cfg := Config{}
	cfg.ApplyDefaults()
	fb := newFakeBroker()
	a := &Adapter{gw: gw, broker: fb, cfg: cfg, clients: make(map[string]*agentSession)}
	if err := a.Start(context.Background()); err != nil {
		panic(err)
	}
	return a, fb, gw
}

func publish(a *Adapter, fb *fakeBroker, agentID string, frame inFrame) {
	body, _ := json.Marshal(frame)
	fb.inbound(a.inTopic(agentID), body)
}

func TestMQTTAdapter_RegisterEmitAndStream(t *testing.T) {
	a, fb, gw := newTestAdapter()
	defer a.Stop(context.Background())

	publish(a, fb, "b", inFrame{ID: "r1", Type: frameRegister})
	publish(a, fb, "b", inFrame{ID: "s1", Type: frameSubscribe, EventPatterns: []string{"agent.direct_message.sent"}})

	ack, ok := fb.last(a.outTopic("b"))
	if !ok || ack.Type != frameSubscribed || ack.SubscriptionID == "" {
		t.Fatalf("expected a subscribed ack, got %+v (ok=%v)", ack, ok)
	}

	publish(a, fb, "a", inFrame{ID: "reg-a", Type: frameRegister})
	dest := "b"
	publish(a, fb, "a", inFrame{
		ID:            "e1",
		Type:          frameEmit,
		EventName:     "agent.direct_message.sent",
		DestinationID: &dest,
		Payload:       map[string]interface{}{"text": "hi"},
	})

	resp, ok := fb.last(a.outTopic("a"))
	if !ok || resp.Type != frameResponse || resp.Response == nil || !resp.Response.Success {
		t.Fatalf("expected a successful response ack, got %+v (ok=%v)", resp, ok)
	}

	deadline := time.After(time.Second)
	for {
		if ev, ok := fb.last(a.outTopic("b")); ok && ev.Type == frameEvent {
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

	publish(a, fb, "b", inFrame{ID: "u1", Type: frameUnregister})
	time.Sleep(10 * time.Millisecond)
	if gw.Agents().IsRegistered("b") {
		t.Fatal("expected agent b unregistered after an unregister frame")
	}
}

func TestMQTTAdapter_EmitWithoutRegisterIsRejected(t *testing.T) {
	a, fb, _ := newTestAdapter()
	defer a.Stop(context.Background())

	publish(a, fb, "ghost", inFrame{ID: "e1", Type: frameEmit, EventName: "agent.direct_message.sent"})

	resp, ok := fb.last(a.outTopic("ghost"))
	if !ok || resp.Type != frameError {
		t.Fatalf("expected an error frame for an unregistered agent, got %+v (ok=%v)", resp, ok)
	}
}
