package wsadapter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openagents/eventcore/internal/eventcore"
	"github.com/openagents/eventcore/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// connection binds one WebSocket to one registered agent. outbound drains
// AgentRegistry.Poll via AgentClient.Stream and writes each event as a
// frame; inbound reads client frames and feeds emit/subscribe/unsubscribe
// calls back into the gateway. Per §4.G, failures here never propagate
// into the gateway: a write error just tears down this connection.
type connection struct {
	agentID string
	ws      *websocket.Conn
	client  *eventcore.AgentClient
	send    chan outMessage

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func newConnection(ws *websocket.Conn, client *eventcore.AgentClient) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		agentID: client.AgentID(),
		ws:      ws,
		client:  client,
		send:    make(chan outMessage, 256),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.ws.Close()
		close(c.send)
	})
}

// readPump parses inbound frames and translates them into gateway calls.
// It runs until the connection closes or a read fails.
func (c *connection) readPump() {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("wsadapter: agent %s read error: %v", c.agentID, err)
			}
			return
		}
		c.handleFrame(raw)
	}
}

func (c *connection) handleFrame(raw []byte) {
	var msg inMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.trySend(outMessage{Type: MessageTypeError, Error: "invalid frame: " + err.Error()})
		return
	}

	switch msg.Type {
	case MessageTypeEmit:
		resp, err := c.client.Emit(c.ctx, msg.toParams())
		if err != nil {
			c.trySend(outMessage{ID: msg.ID, Type: MessageTypeError, Error: err.Error()})
			return
		}
		c.trySend(outMessage{ID: msg.ID, Type: MessageTypeResponse, Response: &resp})
	case MessageTypeSubscribe:
		sub, err := c.client.Subscribe(msg.EventPatterns, msg.ModFilter, msg.ChannelFilter, msg.AgentFilter)
		if err != nil {
			c.trySend(outMessage{ID: msg.ID, Type: MessageTypeError, Error: err.Error()})
			return
		}
		c.trySend(outMessage{ID: msg.ID, Type: MessageTypeSubscribed, SubscriptionID: sub.SubscriptionID})
	case MessageTypeUnsubscribe:
		c.client.Unsubscribe(msg.SubscriptionID)
		c.trySend(outMessage{ID: msg.ID, Type: MessageTypeUnsubscribed, SubscriptionID: msg.SubscriptionID})
	default:
		c.trySend(outMessage{ID: msg.ID, Type: MessageTypeError, Error: "unknown message type: " + string(msg.Type)})
	}
}

func (c *connection) trySend(m outMessage) {
	select {
	case c.send <- m:
	case <-c.ctx.Done():
	default:
		logger.Warn("wsadapter: agent %s outbound buffer full, dropping frame", c.agentID)
	}
}

// writePump drains c.send onto the wire and sends periodic pings; it is
// the only goroutine that writes to the socket. Event frames reach c.send
// from streamEvents, which HandleWebSocket runs in its own goroutine.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case m, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// streamEvents pushes every event the gateway enqueues for this agent out
// over the connection, until the connection closes.
func (c *connection) streamEvents() {
	c.client.Stream(c.ctx, func(e eventcore.Event) bool {
		c.trySend(outMessage{Type: MessageTypeEvent, Event: &e})
		return true
	})
}
