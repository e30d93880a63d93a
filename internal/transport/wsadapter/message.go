package wsadapter

import "github.com/openagents/eventcore/internal/eventcore"

// MessageType distinguishes the handful of control frames this adapter
// speaks over a single WebSocket connection. Every frame here carries
// an event or a subscription control, never a schema/entity pair.
type MessageType string

const (
	MessageTypeEmit         MessageType = "emit"
	MessageTypeSubscribe    MessageType = "subscribe"
	MessageTypeUnsubscribe  MessageType = "unsubscribe"
	MessageTypeEvent        MessageType = "event"
	MessageTypeResponse     MessageType = "response"
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeUnsubscribed MessageType = "unsubscribed"
	MessageTypeError        MessageType = "error"
)

// inMessage is a client-to-server frame.
type inMessage struct {
	ID   string      `json:"id,omitempty"`
	Type MessageType `json:"type"`

	// Populated when Type == emit.
	EventName        string                 `json:"event_name,omitempty"`
	DestinationID    *string                `json:"destination_id,omitempty"`
	TargetChannel    *string                `json:"target_channel,omitempty"`
	RelevantMod      *string                `json:"relevant_mod,omitempty"`
	RequiresResponse bool                   `json:"requires_response,omitempty"`
	ResponseTo       *string                `json:"response_to,omitempty"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Visibility       string                 `json:"visibility,omitempty"`
	AllowedAgents    []string               `json:"allowed_agents,omitempty"`

	// Populated when Type == subscribe.
	EventPatterns []string `json:"event_patterns,omitempty"`
	ModFilter     *string  `json:"mod_filter,omitempty"`
	ChannelFilter *string  `json:"channel_filter,omitempty"`
	AgentFilter   []string `json:"agent_filter,omitempty"`

	// Populated when Type == unsubscribe.
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// outMessage is a server-to-client frame.
type outMessage struct {
	ID             string              `json:"id,omitempty"`
	Type           MessageType         `json:"type"`
	Response       *eventcore.EventResponse `json:"response,omitempty"`
	Event          *eventcore.Event    `json:"event,omitempty"`
	SubscriptionID string              `json:"subscription_id,omitempty"`
	Error          string              `json:"error,omitempty"`
}

// toParams builds the event construction params for an emit frame.
// SourceID/SourceType are left zero: AgentClient.Emit fills them in from
// the connection's bound agent identity.
func (m inMessage) toParams() eventcore.NewEventParams {
	return eventcore.NewEventParams{
		EventName:        m.EventName,
		DestinationID:    m.DestinationID,
		TargetChannel:    m.TargetChannel,
		RelevantMod:      m.RelevantMod,
		RequiresResponse: m.RequiresResponse,
		ResponseTo:       m.ResponseTo,
		Payload:          m.Payload,
		Metadata:         m.Metadata,
		Visibility:       eventcore.Visibility(m.Visibility),
		AllowedAgents:    m.AllowedAgents,
	}
}
