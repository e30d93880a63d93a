// Package wsadapter implements the WebSocket Transport Adapter: one
// connection per agent, an outbound goroutine draining
// AgentRegistry.Poll (via AgentClient.Stream) and an inbound goroutine
// feeding EventGateway.ProcessEvent.
package wsadapter

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/openagents/eventcore/internal/eventcore"
	"github.com/openagents/eventcore/pkg/logger"
)

// Adapter upgrades inbound HTTP requests to WebSocket connections bound
// to a single agent identity supplied via the ?agent_id= query parameter.
type Adapter struct {
	gw       *eventcore.EventGateway
	upgrader websocket.Upgrader
}

// New builds an Adapter bound to gw. CheckOrigin is left permissive; an
// operator fronting this with a reverse proxy is expected to enforce
// origin policy there.
func New(gw *eventcore.EventGateway) *Adapter {
	return &Adapter{
		gw: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades the request, registers the agent (honoring
// ?force_reconnect=true), and runs the connection until it closes.
func (a *Adapter) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		http.Error(w, "agent_id query parameter is required", http.StatusBadRequest)
		return
	}
	forceReconnect := r.URL.Query().Get("force_reconnect") == "true"

	if err := a.gw.RegisterAgent(agentID, nil, forceReconnect); err != nil {
		if _, ok := err.(*eventcore.DuplicateRegistrationError); ok {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("wsadapter: upgrade failed for agent %s: %v", agentID, err)
		a.gw.UnregisterAgent(agentID)
		return
	}

	client := eventcore.NewAgentClient(a.gw, agentID)
	conn := newConnection(ws, client)

	go conn.streamEvents()
	go conn.writePump()
	conn.readPump()

	a.gw.UnregisterAgent(agentID)
}
