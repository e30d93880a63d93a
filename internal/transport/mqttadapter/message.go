package mqttadapter

import "github.com/openagents/eventcore/internal/eventcore"

// frameType discriminates the JSON payload carried on a topic. Unlike
// wsadapter's connection-scoped envelope, this transport has no implicit
// connect/disconnect signal, so registration and teardown travel as
// explicit frames too.
type frameType string

const (
	frameRegister    frameType = "register"
	frameUnregister  frameType = "unregister"
	frameEmit        frameType = "emit"
	frameSubscribe   frameType = "subscribe"
	frameUnsubscribe frameType = "unsubscribe"
	frameEvent        frameType = "event"
	frameResponse     frameType = "response"
	frameSubscribed   frameType = "subscribed"
	frameUnsubscribed frameType = "unsubscribed"
	frameError        frameType = "error"
)

// inFrame is published by an agent on {prefix}/{agent_id}/in.
type inFrame struct {
	ID   string    `json:"id,omitempty"`
	Type frameType `json:"type"`

	ForceReconnect bool                   `json:"force_reconnect,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`

	EventName        string                 `json:"event_name,omitempty"`
	DestinationID    *string                `json:"destination_id,omitempty"`
	TargetChannel    *string                `json:"target_channel,omitempty"`
	RelevantMod      *string                `json:"relevant_mod,omitempty"`
	RequiresResponse bool                   `json:"requires_response,omitempty"`
	ResponseTo       *string                `json:"response_to,omitempty"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
	EventMetadata    map[string]interface{} `json:"event_metadata,omitempty"`
	Visibility       string                 `json:"visibility,omitempty"`
	AllowedAgents    []string               `json:"allowed_agents,omitempty"`

	EventPatterns []string `json:"event_patterns,omitempty"`
	ModFilter     *string  `json:"mod_filter,omitempty"`
	ChannelFilter *string  `json:"channel_filter,omitempty"`
	AgentFilter   []string `json:"agent_filter,omitempty"`

	SubscriptionID string `json:"subscription_id,omitempty"`
}

func (m inFrame) toParams() eventcore.NewEventParams {
	return eventcore.NewEventParams{
		EventName:        m.EventName,
		DestinationID:    m.DestinationID,
		TargetChannel:    m.TargetChannel,
		RelevantMod:      m.RelevantMod,
		RequiresResponse: m.RequiresResponse,
		ResponseTo:       m.ResponseTo,
		Payload:          m.Payload,
		Metadata:         m.EventMetadata,
		Visibility:       eventcore.Visibility(m.Visibility),
		AllowedAgents:    m.AllowedAgents,
	}
}

// outFrame is published by the adapter on {prefix}/{agent_id}/out.
type outFrame struct {
	ID             string                   `json:"id,omitempty"`
	Type           frameType                `json:"type"`
	Response       *eventcore.EventResponse `json:"response,omitempty"`
	Event          *eventcore.Event         `json:"event,omitempty"`
	SubscriptionID string                   `json:"subscription_id,omitempty"`
	Error          string                   `json:"error,omitempty"`
}
