package wsadapter

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openagents/eventcore/internal/eventcore"
)

func newTestGateway() *eventcore.EventGateway {
	return eventcore.NewEventGateway(eventcore.GatewayConfig{
		AgentQueueSize:     10,
		HistorySize:        100,
		DefaultPollTimeout: 100 * time.Millisecond,
		ResponseTimeout:    500 * time.Millisecond,
	})
}

func dial(t *testing.T, srv *httptest.Server, agentID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?agent_id=" + agentID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func TestWSAdapter_SubscribeAndReceiveEvent(t *testing.T) {
	gw := newTestGateway()
	adapter := New(gw)
	srv := httptest.NewServer(http.HandlerFunc(adapter.HandleWebSocket))
	defer srv.Close()

	b := dial(t, srv, "b")
	defer b.Close()

	if err := b.WriteJSON(inMessage{
		ID:            "s1",
		Type:          MessageTypeSubscribe,
		EventPatterns: []string{"agent.direct_message.sent"},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	var subAck outMessage
	if err := b.ReadJSON(&subAck); err != nil {
		t.Fatalf("read subscribe ack: %v", err)
	}
	if subAck.Type != MessageTypeSubscribed || subAck.SubscriptionID == "" {
		t.Fatalf("expected a subscribed ack, got %+v", subAck)
	}

	a := dial(t, srv, "a")
	defer a.Close()

	dest := "b"
	if err := a.WriteJSON(inMessage{
		ID:            "e1",
		Type:          MessageTypeEmit,
		EventName:     "agent.direct_message.sent",
		DestinationID: &dest,
		Payload:       map[string]interface{}{"text": "hi"},
	}); err != nil {
		t.Fatalf("write emit: %v", err)
	}

	var emitAck outMessage
	if err := a.ReadJSON(&emitAck); err != nil {
		t.Fatalf("read emit ack: %v", err)
	}
	if emitAck.Type != MessageTypeResponse || emitAck.Response == nil || !emitAck.Response.Success {
		t.Fatalf("expected a successful response ack, got %+v", emitAck)
	}

	var delivered outMessage
	if err := b.ReadJSON(&delivered); err != nil {
		t.Fatalf("read delivered event: %v", err)
	}
	if delivered.Type != MessageTypeEvent || delivered.Event == nil {
		t.Fatalf("expected an event frame, got %+v", delivered)
	}
	if delivered.Event.Payload.String("text", "") != "hi" {
		t.Fatalf("expected payload text 'hi', got %q", delivered.Event.Payload.String("text", ""))
	}
}

func TestWSAdapter_UnsubscribeAck(t *testing.T) {
	gw := newTestGateway()
	adapter := New(gw)
	srv := httptest.NewServer(http.HandlerFunc(adapter.HandleWebSocket))
	defer srv.Close()

	conn := dial(t, srv, "a")
	defer conn.Close()

	if err := conn.WriteJSON(inMessage{ID: "s1", Type: MessageTypeSubscribe, EventPatterns: []string{"*"}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	var ack outMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}

	if err := conn.WriteJSON(inMessage{ID: "u1", Type: MessageTypeUnsubscribe, SubscriptionID: ack.SubscriptionID}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	var unsubAck outMessage
	if err := conn.ReadJSON(&unsubAck); err != nil {
		t.Fatalf("read unsubscribe ack: %v", err)
	}
	if unsubAck.Type != MessageTypeUnsubscribed {
		t.Fatalf("expected an unsubscribed ack, got %+v", unsubAck)
	}
}
