package echomod

import (
	"context"
	"testing"
	"time"

	"github.com/openagents/eventcore/internal/eventcore"
)

func newTestGateway() *eventcore.EventGateway {
	return eventcore.NewEventGateway(eventcore.GatewayConfig{
		AgentQueueSize:     10,
		HistorySize:        100,
		DefaultPollTimeout: 100 * time.Millisecond,
		ResponseTimeout:    500 * time.Millisecond,
	})
}

func TestEchoMod_EmitsFollowUpPerMention(t *testing.T) {
	gw := newTestGateway()
	mod := New(Config{})
	if err := gw.RegisterMod(mod); err != nil {
		t.Fatalf("register mod: %v", err)
	}

	if err := gw.RegisterAgent("a", nil, false); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := gw.RegisterAgent("b", nil, false); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if err := gw.RegisterAgent("c", nil, false); err != nil {
		t.Fatalf("register c: %v", err)
	}

	b := eventcore.NewAgentClient(gw, "b")
	if _, err := b.Subscribe([]string{"mod.echo.mentioned"}, nil, nil, nil); err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	c := eventcore.NewAgentClient(gw, "c")
	if _, err := c.Subscribe([]string{"mod.echo.mentioned"}, nil, nil, nil); err != nil {
		t.Fatalf("subscribe c: %v", err)
	}

	relevantMod := "openagents.mods.echo"
	event, err := eventcore.NewEvent(eventcore.NewEventParams{
		EventName:   "agent.channel_message.posted",
		SourceID:    "a",
		RelevantMod: &relevantMod,
		Payload: map[string]interface{}{
			"text":     "hi @b and @c",
			"mentions": []interface{}{"b", "c"},
		},
	})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	resp, err := gw.ProcessEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("process event: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected a successful response, got %+v", resp)
	}

	for _, agentClient := range []*eventcore.AgentClient{b, c} {
		events := agentClient.Poll(context.Background(), 10, time.Second)
		var found *eventcore.Event
		for i := range events {
			if events[i].EventName == "mod.echo.mentioned" {
				found = &events[i]
				break
			}
		}
		if found == nil {
			t.Fatalf("expected a mod.echo.mentioned follow-up for agent %s", agentClient.AgentID())
		}
		if found.ResponseTo == nil || *found.ResponseTo != event.EventID {
			t.Fatalf("expected response_to %s, got %+v", event.EventID, found.ResponseTo)
		}
		if found.SourceType != eventcore.SourceMod {
			t.Fatalf("expected follow-up source_type mod, got %s", found.SourceType)
		}
	}
}

func TestEchoMod_NoMentionsProducesNoFollowUp(t *testing.T) {
	gw := newTestGateway()
	mod := New(Config{})
	if err := gw.RegisterMod(mod); err != nil {
		t.Fatalf("register mod: %v", err)
	}
	if err := gw.RegisterAgent("a", nil, false); err != nil {
		t.Fatalf("register a: %v", err)
	}

	relevantMod := "openagents.mods.echo"
	event, err := eventcore.NewEvent(eventcore.NewEventParams{
		EventName:   "agent.channel_message.posted",
		SourceID:    "a",
		RelevantMod: &relevantMod,
		Payload:     map[string]interface{}{"text": "no mentions here"},
	})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	resp, err := gw.ProcessEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("process event: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
}

func TestEchoMod_HandlerIsIdempotentPerEventID(t *testing.T) {
	gw := newTestGateway()
	mod := New(Config{})
	if err := gw.RegisterAgent("a", nil, false); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := mod.BindNetwork(gw); err != nil {
		t.Fatalf("bind network: %v", err)
	}

	relevantMod := "openagents.mods.echo"
	event, err := eventcore.NewEvent(eventcore.NewEventParams{
		EventName:   "agent.channel_message.posted",
		SourceID:    "a",
		RelevantMod: &relevantMod,
		Payload: map[string]interface{}{
			"mentions": []interface{}{"b"},
		},
	})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}

	first, err := mod.handle(event)
	if err != nil {
		t.Fatalf("first handle: %v", err)
	}
	if first.Message == "already handled" {
		t.Fatal("first call should not be treated as a repeat")
	}

	second, err := mod.handle(event)
	if err != nil {
		t.Fatalf("second handle: %v", err)
	}
	if second.Message != "already handled" {
		t.Fatalf("expected the repeat to be recognized, got %+v", second)
	}
}
