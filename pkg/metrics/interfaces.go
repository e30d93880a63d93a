package metrics

import (
	"log"
	"net/http"
	"time"
)

// Provider defines the interface for metric collection
type Provider interface {
	// RecordHTTPRequest records metrics for an HTTP request
	RecordHTTPRequest(method, path, status string, duration time.Duration)

	// IncRequestsInFlight increments the in-flight requests counter
	IncRequestsInFlight()

	// DecRequestsInFlight decrements the in-flight requests counter
	DecRequestsInFlight()

	// RecordEventPublished records an event accepted into the gateway
	RecordEventPublished(source, eventType string)

	// RecordEventProcessed records an event that completed the dispatch pipeline
	RecordEventProcessed(source, eventType, status string, duration time.Duration)

	// RecordEventDropped records an event dropped before delivery (queue overflow,
	// unknown agent, duplicate, etc)
	RecordEventDropped(agentID, reason string)

	// UpdateAgentQueueSize reports the current depth of one agent's inbound queue
	UpdateAgentQueueSize(agentID string, size int)

	// UpdateAgentsRegistered reports the current number of registered agents
	UpdateAgentsRegistered(count int)

	// UpdateInFlightResponses reports the current size of the response correlation table
	UpdateInFlightResponses(count int)

	// RecordPanic records a recovered panic, tagged by the method it occurred in
	RecordPanic(methodName string)

	// Handler returns an HTTP handler for exposing metrics (e.g., /metrics endpoint)
	Handler() http.Handler
}

// globalProvider is the global metrics provider
var globalProvider Provider

// SetProvider sets the global metrics provider
func SetProvider(p Provider) {
	globalProvider = p
}

// GetProvider returns the current metrics provider
func GetProvider() Provider {
	if globalProvider == nil {
		// Return no-op provider if none is set
		return &NoOpProvider{}
	}
	return globalProvider
}

// NoOpProvider is a no-op implementation of Provider
type NoOpProvider struct{}

func (n *NoOpProvider) RecordHTTPRequest(method, path, status string, duration time.Duration) {}
func (n *NoOpProvider) IncRequestsInFlight()                                                  {}
func (n *NoOpProvider) DecRequestsInFlight()                                                  {}
func (n *NoOpProvider) RecordEventPublished(source, eventType string)                         {}
func (n *NoOpProvider) RecordEventProcessed(source, eventType, status string, duration time.Duration) {
}
func (n *NoOpProvider) RecordEventDropped(agentID, reason string)    {}
func (n *NoOpProvider) UpdateAgentQueueSize(agentID string, size int) {}
func (n *NoOpProvider) UpdateAgentsRegistered(count int)              {}
func (n *NoOpProvider) UpdateInFlightResponses(count int)             {}
func (n *NoOpProvider) RecordPanic(methodName string)                 {}
func (n *NoOpProvider) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Metrics provider not configured"))
		if err != nil {
			log.Printf("Failed to write. %v", err)
		}
	})
}
