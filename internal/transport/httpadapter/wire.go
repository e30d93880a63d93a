package httpadapter

import "github.com/openagents/eventcore/internal/eventcore"

// registerAgentRequest is the wire body for POST /agents.
type registerAgentRequest struct {
	AgentID        string                 `json:"agent_id"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	ForceReconnect bool                   `json:"force_reconnect,omitempty"`
}

// processEventRequest is the wire body for POST /events, mirroring
// eventcore.NewEventParams field-for-field on the wire.
type processEventRequest struct {
	EventName        string                 `json:"event_name"`
	SourceID         string                 `json:"source_id"`
	DestinationID    *string                `json:"destination_id,omitempty"`
	TargetChannel    *string                `json:"target_channel,omitempty"`
	RelevantMod      *string                `json:"relevant_mod,omitempty"`
	RequiresResponse bool                   `json:"requires_response,omitempty"`
	ResponseTo       *string                `json:"response_to,omitempty"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Visibility       string                 `json:"visibility,omitempty"`
	AllowedAgents    []string               `json:"allowed_agents,omitempty"`
}

func (p processEventRequest) toParams() eventcore.NewEventParams {
	return eventcore.NewEventParams{
		EventName:        p.EventName,
		SourceID:         p.SourceID,
		SourceType:       eventcore.SourceAgent,
		DestinationID:    p.DestinationID,
		TargetChannel:    p.TargetChannel,
		RelevantMod:      p.RelevantMod,
		RequiresResponse: p.RequiresResponse,
		ResponseTo:       p.ResponseTo,
		Payload:          p.Payload,
		Metadata:         p.Metadata,
		Visibility:       eventcore.Visibility(p.Visibility),
		AllowedAgents:    p.AllowedAgents,
	}
}

// subscribeRequest is the wire body for POST /agents/{agentID}/subscriptions.
type subscribeRequest struct {
	EventPatterns []string `json:"event_patterns"`
	ModFilter     *string  `json:"mod_filter,omitempty"`
	ChannelFilter *string  `json:"channel_filter,omitempty"`
	AgentFilter   []string `json:"agent_filter,omitempty"`
}

type subscribeResponse struct {
	SubscriptionID string `json:"subscription_id"`
}

type pollEventsResponse struct {
	Events []eventcore.Event `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
}
