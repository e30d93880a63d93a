package httpadapter

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/openagents/eventcore/internal/eventcore"
	"github.com/openagents/eventcore/pkg/logger"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("httpadapter: failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// handleRegisterAgent implements the register_agent RPC.
func (a *Adapter) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, &eventcore.ValidationError{Field: "agent_id", Reason: "must not be empty"})
		return
	}

	if err := a.gw.RegisterAgent(req.AgentID, req.Metadata, req.ForceReconnect); err != nil {
		if _, ok := err.(*eventcore.DuplicateRegistrationError); ok {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"agent_id": req.AgentID})
}

// handleUnregisterAgent implements the unregister_agent RPC.
func (a *Adapter) handleUnregisterAgent(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentID"]
	if !a.gw.UnregisterAgent(agentID) {
		writeError(w, http.StatusNotFound, &eventcore.UnknownAgentError{AgentID: agentID})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleProcessEvent implements the process_event RPC: validates and
// constructs an Event, runs it through the gateway, and returns its
// EventResponse. A validation failure never reaches the gateway.
func (a *Adapter) handleProcessEvent(w http.ResponseWriter, r *http.Request) {
	var req processEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	event, err := eventcore.NewEvent(req.toParams())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.gw.ProcessEvent(r.Context(), event)
	if err != nil {
		if _, ok := err.(*eventcore.TimeoutError); ok {
			writeError(w, http.StatusGatewayTimeout, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePollEvents implements the poll_events RPC: ?max= caps the number
// of events drained, ?timeout_ms= bounds how long to wait on an empty
// queue (defaults to the gateway's configured default poll timeout).
func (a *Adapter) handlePollEvents(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentID"]
	if !a.gw.Agents().IsRegistered(agentID) {
		writeError(w, http.StatusNotFound, &eventcore.UnknownAgentError{AgentID: agentID})
		return
	}

	max := 0
	if raw := r.URL.Query().Get("max"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			max = n
		}
	}
	timeout := defaultPollTimeout(r.URL.Query().Get("timeout_ms"), 0)

	events := eventcore.NewAgentClient(a.gw, agentID).Poll(r.Context(), max, timeout)
	if events == nil {
		events = []eventcore.Event{}
	}
	writeJSON(w, http.StatusOK, pollEventsResponse{Events: events})
}

// handleSubscribe implements the subscribe RPC.
func (a *Adapter) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentID"]
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sub, err := a.gw.Subscribe(agentID, req.EventPatterns, req.ModFilter, req.ChannelFilter, req.AgentFilter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, subscribeResponse{SubscriptionID: sub.SubscriptionID})
}

// handleUnsubscribe implements the unsubscribe RPC.
func (a *Adapter) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	subscriptionID := mux.Vars(r)["subscriptionID"]
	if !a.gw.Unsubscribe(subscriptionID) {
		writeError(w, http.StatusNotFound, &eventcore.ValidationError{Field: "subscription_id", Reason: "unknown subscription"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth reports per-agent last-seen heartbeats, a liveness
// surface operators can use to decide when force_reconnect is safe.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	ids := a.gw.Agents().AgentIDs()
	agents := make(map[string]string, len(ids))
	for _, id := range ids {
		if seen, ok := a.gw.Agents().LastSeen(id); ok {
			agents[id] = seen.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"agents": agents,
	})
}
