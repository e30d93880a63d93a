package eventcore

// EventResponse is the return value from a mod handler, and the value
// delivered back to an agent's Emit call once a response is correlated.
type EventResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// combineResponses implements §3's EventResponse combination rule: the
// first success=false response becomes the aggregate failure, otherwise
// Data is merged in handler order.
func combineResponses(responses []EventResponse) EventResponse {
	if len(responses) == 0 {
		return EventResponse{Success: true}
	}
	for _, r := range responses {
		if !r.Success {
			return r
		}
	}
	merged := EventResponse{Success: true, Data: make(map[string]interface{})}
	var messages []string
	for _, r := range responses {
		for k, v := range r.Data {
			merged.Data[k] = v
		}
		if r.Message != "" {
			messages = append(messages, r.Message)
		}
	}
	if len(messages) > 0 {
		merged.Message = messages[len(messages)-1]
	}
	return merged
}
