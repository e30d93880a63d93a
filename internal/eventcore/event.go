package eventcore

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Visibility controls which agents a subscriber fan-out may deliver an
// Event to. See the visibility decision table in §4.F.
type Visibility string

const (
	VisibilityUnset      Visibility = ""
	VisibilityPublic     Visibility = "public"
	VisibilityNetwork    Visibility = "network"
	VisibilityChannel    Visibility = "channel"
	VisibilityDirect     Visibility = "direct"
	VisibilityRestricted Visibility = "restricted"
	VisibilityModOnly    Visibility = "mod_only"
)

// SourceType distinguishes agent-originated events from mod-originated ones.
type SourceType string

const (
	SourceAgent SourceType = "agent"
	SourceMod   SourceType = "mod"
)

var eventNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// forbiddenEventNames are placeholder names that carry no semantic
// meaning; §3 requires they be rejected even when they happen to match
// the dotted-name grammar.
var forbiddenEventNames = map[string]bool{
	"event":            true,
	"message":          true,
	"test":             true,
	"temp":              true,
	"tmp":              true,
	"default":          true,
	"generic":          true,
	"sample":           true,
	"example":          true,
	"placeholder":      true,
	"unknown":          true,
	"transport.message": true,
	"base.event":        true,
	"system.event":      true,
}

// Event is an immutable record of a single interaction: the only
// inter-component message type in the event core. Events are produced
// once by NewEvent and never mutated; a follow-up event is built as a
// new Event (see WithResponseTo), never by changing the one it answers.
type Event struct {
	EventID   string     `json:"event_id"`
	EventName string     `json:"event_name"`
	Timestamp int64      `json:"timestamp"`

	SourceID   string     `json:"source_id"`
	SourceType SourceType `json:"source_type"`

	DestinationID *string `json:"destination_id,omitempty"`
	TargetChannel *string `json:"target_channel,omitempty"`
	RelevantMod   *string `json:"relevant_mod,omitempty"`

	RequiresResponse bool    `json:"requires_response"`
	ResponseTo       *string `json:"response_to,omitempty"`

	Payload Value `json:"payload"`
	Metadata Value `json:"metadata"`

	TextRepresentation *string `json:"text_representation,omitempty"`

	Visibility    Visibility `json:"visibility"`
	AllowedAgents []string   `json:"allowed_agents,omitempty"`

	// extra holds any wire fields this version of Event doesn't
	// recognize, captured by UnmarshalJSON and reproduced verbatim by
	// MarshalJSON so an event relayed through a transport that doesn't
	// originate it (the NATS/MQTT bridges, the Redis history mirror)
	// round-trips forward-compatibly per §6.
	extra map[string]json.RawMessage
}

// eventKnownFields names every field the §6 wire format declares; any
// other top-level JSON key on an encoded Event is unknown and must be
// preserved round-trip rather than dropped.
var eventKnownFields = map[string]bool{
	"event_id":            true,
	"event_name":          true,
	"timestamp":           true,
	"source_id":           true,
	"source_type":         true,
	"destination_id":      true,
	"target_channel":      true,
	"relevant_mod":        true,
	"requires_response":   true,
	"response_to":         true,
	"payload":             true,
	"metadata":            true,
	"text_representation": true,
	"visibility":          true,
	"allowed_agents":      true,
}

// eventAlias has Event's exact field set without its MarshalJSON/
// UnmarshalJSON methods, so those methods can delegate the known-field
// encode/decode to the default struct-tag behavior without recursing.
type eventAlias Event

// MarshalJSON encodes the event's known fields via the default
// struct-tag behavior, then splices back in any unknown fields captured
// by UnmarshalJSON, per §6's forward-compat requirement.
func (e Event) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(eventAlias(e))
	if err != nil {
		return nil, err
	}
	if len(e.extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the event's known fields and captures every
// other top-level key into extra, so a later MarshalJSON of this value
// reproduces them (§6: "Unknown fields on the wire MUST be preserved
// round-trip").
func (e *Event) UnmarshalJSON(data []byte) error {
	var a eventAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = Event(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var extra map[string]json.RawMessage
	for k, v := range raw {
		if eventKnownFields[k] {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}
	e.extra = extra
	return nil
}

// NewEventParams are the constructor inputs for NewEvent. Only
// EventName and SourceID are required; everything else defaults per §3.
type NewEventParams struct {
	EventName string
	SourceID  string

	SourceType SourceType

	DestinationID *string
	TargetChannel *string
	RelevantMod   *string

	RequiresResponse bool
	ResponseTo       *string

	Payload  map[string]interface{}
	Metadata map[string]interface{}

	TextRepresentation *string

	// Visibility, if non-empty, is taken as an explicit override and
	// always wins over auto-derivation. Leave empty to let NewEvent
	// derive it from the targeting fields below.
	Visibility    Visibility
	AllowedAgents []string
}

// NewEvent constructs and validates an Event, enforcing the §3
// invariants synchronously. It returns a *ValidationError on failure;
// nothing is enqueued or dispatched for an invalid event.
func NewEvent(p NewEventParams) (*Event, error) {
	if err := validateEventName(p.EventName); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.SourceID) == "" {
		return nil, newValidationError("source_id", "must not be empty")
	}

	sourceType := p.SourceType
	if sourceType == "" {
		sourceType = SourceAgent
	}

	payload, err := ValueFromMap(p.Payload)
	if err != nil {
		return nil, newValidationError("payload", err.Error())
	}
	metadata, err := ValueFromMap(p.Metadata)
	if err != nil {
		return nil, newValidationError("metadata", err.Error())
	}

	visibility := p.Visibility
	if visibility == VisibilityUnset {
		visibility = deriveVisibility(p.DestinationID, p.TargetChannel, p.RelevantMod)
	}

	if visibility == VisibilityRestricted && len(p.AllowedAgents) == 0 {
		return nil, newValidationError("allowed_agents", "required when visibility is restricted")
	}

	allowed := append([]string(nil), p.AllowedAgents...)
	sort.Strings(allowed)

	return &Event{
		EventID:            uuid.New().String(),
		EventName:          p.EventName,
		Timestamp:          time.Now().Unix(),
		SourceID:           p.SourceID,
		SourceType:         sourceType,
		DestinationID:      p.DestinationID,
		TargetChannel:      p.TargetChannel,
		RelevantMod:        p.RelevantMod,
		RequiresResponse:   p.RequiresResponse,
		ResponseTo:         p.ResponseTo,
		Payload:            payload,
		Metadata:           metadata,
		TextRepresentation: p.TextRepresentation,
		Visibility:         visibility,
		AllowedAgents:      allowed,
	}, nil
}

// deriveVisibility implements the auto-derivation rule from §3: applied
// only when the caller left Visibility unset.
func deriveVisibility(destinationID, targetChannel, relevantMod *string) Visibility {
	switch {
	case destinationID != nil && *destinationID != "":
		return VisibilityDirect
	case targetChannel != nil && *targetChannel != "":
		return VisibilityChannel
	case relevantMod != nil && *relevantMod != "":
		return VisibilityModOnly
	default:
		return VisibilityNetwork
	}
}

func validateEventName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return newValidationError("event_name", "must not be empty")
	}
	if len(trimmed) < 3 {
		return newValidationError("event_name", "must be at least 3 characters")
	}
	lower := strings.ToLower(trimmed)
	if forbiddenEventNames[lower] {
		return newValidationError("event_name", fmt.Sprintf("%q is a placeholder name", name))
	}
	if !eventNameRe.MatchString(trimmed) {
		return newValidationError("event_name", "must match domain.entity.action with lowercase letters, digits, underscores and dots")
	}
	parts := strings.Split(trimmed, ".")
	if len(parts) < 2 {
		return newValidationError("event_name", "must have at least two dotted parts")
	}
	return nil
}

// MatchesPattern reports whether the event's name matches a subscription
// pattern: exact, "*", or "prefix.*".
func (e *Event) MatchesPattern(pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(e.EventName, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == e.EventName
}

// IsVisibleTo implements the visibility decision table in §4.F. agentChannels
// is the channel membership of the observing agent.
func (e *Event) IsVisibleTo(agentID string, agentChannels map[string]bool) bool {
	// mod_only is never delivered to agents, including the source
	// agent itself (§4.F's visibility table; §8 property 3).
	if e.Visibility == VisibilityModOnly {
		return false
	}
	if agentID == e.SourceID {
		return true
	}
	switch e.Visibility {
	case VisibilityPublic, VisibilityNetwork, VisibilityUnset:
		return true
	case VisibilityDirect:
		return e.DestinationID != nil && *e.DestinationID == agentID
	case VisibilityChannel:
		if e.TargetChannel == nil || agentChannels == nil {
			return false
		}
		return agentChannels[*e.TargetChannel]
	case VisibilityRestricted:
		for _, a := range e.AllowedAgents {
			if a == agentID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// WithResponseTo returns a copy of p with ResponseTo set to original's
// event_id, per §4.H: follow-up events set response_to on themselves,
// they never mutate the event they are answering.
func WithResponseTo(p NewEventParams, original *Event) NewEventParams {
	id := original.EventID
	p.ResponseTo = &id
	return p
}
