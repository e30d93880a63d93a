package eventcore

import (
	"encoding/json"
	"testing"
)

func TestNewEvent_RejectsBadNames(t *testing.T) {
	tests := []struct {
		name      string
		eventName string
	}{
		{"placeholder", "event"},
		{"single part", "message"},
		{"uppercase", "Domain.Entity.Action"},
		{"empty part", "agent..sent"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEvent(NewEventParams{EventName: tt.eventName, SourceID: "agent:a"})
			if err == nil {
				t.Fatalf("expected ValidationError for %q, got nil", tt.eventName)
			}
			if _, ok := err.(*ValidationError); !ok {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestNewEvent_RequiresSourceID(t *testing.T) {
	_, err := NewEvent(NewEventParams{EventName: "agent.message.sent", SourceID: "  "})
	if err == nil {
		t.Fatal("expected error for empty source_id")
	}
}

func TestNewEvent_RestrictedRequiresAllowedAgents(t *testing.T) {
	_, err := NewEvent(NewEventParams{
		EventName:  "agent.secret.shared",
		SourceID:   "agent:a",
		Visibility: VisibilityRestricted,
	})
	if err == nil {
		t.Fatal("expected error when restricted visibility has no allowed_agents")
	}

	e, err := NewEvent(NewEventParams{
		EventName:     "agent.secret.shared",
		SourceID:      "agent:a",
		Visibility:    VisibilityRestricted,
		AllowedAgents: []string{"b", "a"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.AllowedAgents[0] != "a" || e.AllowedAgents[1] != "b" {
		t.Fatalf("expected sorted allowed_agents, got %v", e.AllowedAgents)
	}
}

func TestNewEvent_DerivesVisibility(t *testing.T) {
	dest := "b"
	channel := "#general"
	mod := "openagents.mods.echo"

	direct, err := NewEvent(NewEventParams{EventName: "agent.direct_message.sent", SourceID: "agent:a", DestinationID: &dest})
	if err != nil || direct.Visibility != VisibilityDirect {
		t.Fatalf("expected direct visibility, got %v (err=%v)", direct.Visibility, err)
	}

	chanEvt, err := NewEvent(NewEventParams{EventName: "channel.message.posted", SourceID: "agent:a", TargetChannel: &channel})
	if err != nil || chanEvt.Visibility != VisibilityChannel {
		t.Fatalf("expected channel visibility, got %v (err=%v)", chanEvt.Visibility, err)
	}

	modEvt, err := NewEvent(NewEventParams{EventName: "project.creation.requested", SourceID: "agent:a", RelevantMod: &mod})
	if err != nil || modEvt.Visibility != VisibilityModOnly {
		t.Fatalf("expected mod_only visibility, got %v (err=%v)", modEvt.Visibility, err)
	}

	network, err := NewEvent(NewEventParams{EventName: "agent.status.updated", SourceID: "agent:a"})
	if err != nil || network.Visibility != VisibilityNetwork {
		t.Fatalf("expected network visibility, got %v (err=%v)", network.Visibility, err)
	}
}

func TestNewEvent_ExplicitVisibilityOverridesDerivation(t *testing.T) {
	dest := "b"
	e, err := NewEvent(NewEventParams{
		EventName:     "agent.direct_message.sent",
		SourceID:      "agent:a",
		DestinationID: &dest,
		Visibility:    VisibilityPublic,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Visibility != VisibilityPublic {
		t.Fatalf("expected explicit visibility to win, got %v", e.Visibility)
	}
}

func TestEvent_MatchesPattern(t *testing.T) {
	e, err := NewEvent(NewEventParams{EventName: "channel.message.posted", SourceID: "agent:a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		pattern string
		want    bool
	}{
		{"*", true},
		{"channel.message.posted", true},
		{"channel.message.*", true},
		{"channel.*", true},
		{"agent.*", false},
		{"channel.message.edited", false},
	}
	for _, tt := range tests {
		if got := e.MatchesPattern(tt.pattern); got != tt.want {
			t.Errorf("MatchesPattern(%q) = %v, want %v", tt.pattern, got, tt.want)
		}
	}
}

func TestEvent_IsVisibleTo(t *testing.T) {
	dest := "b"
	channel := "#general"

	direct, _ := NewEvent(NewEventParams{EventName: "agent.direct_message.sent", SourceID: "agent:a", DestinationID: &dest})
	if !direct.IsVisibleTo("b", nil) {
		t.Error("expected destination agent to see direct event")
	}
	if direct.IsVisibleTo("c", nil) {
		t.Error("expected non-destination agent to not see direct event")
	}
	if !direct.IsVisibleTo("agent:a", nil) {
		t.Error("expected source to always see its own event")
	}

	chanEvt, _ := NewEvent(NewEventParams{EventName: "channel.message.posted", SourceID: "agent:a", TargetChannel: &channel})
	if !chanEvt.IsVisibleTo("c", map[string]bool{"#general": true}) {
		t.Error("expected channel member to see channel event")
	}
	if chanEvt.IsVisibleTo("c", map[string]bool{"#other": true}) {
		t.Error("expected non-member to not see channel event")
	}

	mod := "openagents.mods.echo"
	modEvt, _ := NewEvent(NewEventParams{EventName: "project.creation.requested", SourceID: "agent:a", RelevantMod: &mod})
	if modEvt.IsVisibleTo("x", nil) {
		t.Error("expected mod_only event to be invisible to ordinary subscribers")
	}
	if modEvt.IsVisibleTo("agent:a", nil) {
		t.Error("expected mod_only event to be invisible even to its own source (§8 property 3)")
	}
}

// TestEvent_RoundTripsUnknownFields verifies §6's "unknown fields on the
// wire MUST be preserved round-trip" requirement: a field this version
// of Event doesn't declare must survive an unmarshal/marshal cycle, as
// happens whenever the NATS/MQTT bridges or the Redis history mirror
// relay an event they did not originate.
func TestEvent_RoundTripsUnknownFields(t *testing.T) {
	e, err := NewEvent(NewEventParams{
		EventName: "agent.status.updated",
		SourceID:  "agent:a",
		Payload:   map[string]interface{}{"ok": true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	encoded, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var withExtra map[string]interface{}
	if err := json.Unmarshal(encoded, &withExtra); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	withExtra["trace_id"] = "abc-123"
	withExtra["future_client_field"] = map[string]interface{}{"nested": 1}
	injected, err := json.Marshal(withExtra)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(injected, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.EventID != e.EventID {
		t.Fatalf("expected known fields to decode normally, got event_id %q", decoded.EventID)
	}

	reEncoded, err := json.Marshal(decoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var roundTripped map[string]interface{}
	if err := json.Unmarshal(reEncoded, &roundTripped); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if roundTripped["trace_id"] != "abc-123" {
		t.Fatalf("expected unknown field trace_id to round-trip, got %+v", roundTripped)
	}
	nested, ok := roundTripped["future_client_field"].(map[string]interface{})
	if !ok || nested["nested"] != float64(1) {
		t.Fatalf("expected unknown field future_client_field to round-trip, got %+v", roundTripped)
	}
}
