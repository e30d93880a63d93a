// Package natsbridge implements an optional NATS transport adapter:
// agents that prefer a NATS subject space over long-poll/websocket
// publish control and emit frames on {prefix}.{agent_id}.in and the
// bridge relays streamed events and RPC acks on
// {prefix}.{agent_id}.out, scoped to a single network rather than
// federating across them.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/openagents/eventcore/internal/eventcore"
	"github.com/openagents/eventcore/pkg/logger"
)

// publisher is the subset of *nats.Conn this bridge depends on, narrowed
// so tests can substitute a fake without a running NATS server.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Adapter bridges an EventGateway to a NATS subject namespace.
type Adapter struct {
	gw   *eventcore.EventGateway
	cfg  Config
	conn *nats.Conn
	pub  publisher
	sub  *nats.Subscription

	mu      sync.Mutex
	clients map[string]*agentSession
}

type agentSession struct {
	client *eventcore.AgentClient
	cancel context.CancelFunc
}

// New dials the configured NATS server and returns a bridge ready to Start.
func New(gw *eventcore.EventGateway, cfg Config) (*Adapter, error) {
	cfg.ApplyDefaults()
	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("natsbridge: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("natsbridge: reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbridge: connect: %w", err)
	}
	return newWithConn(gw, cfg, conn, conn), nil
}

func newWithConn(gw *eventcore.EventGateway, cfg Config, conn *nats.Conn, pub publisher) *Adapter {
	return &Adapter{
		gw:      gw,
		cfg:     cfg,
		conn:    conn,
		pub:     pub,
		clients: make(map[string]*agentSession),
	}
}

// Start subscribes to every agent's inbound subject.
func (a *Adapter) Start(ctx context.Context) error {
	inSubject := a.cfg.subjectPrefix() + ".*.in"
	sub, err := a.conn.Subscribe(inSubject, func(msg *nats.Msg) {
		a.handleInbound(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("natsbridge: subscribe %s: %w", inSubject, err)
	}
	a.sub = sub
	logger.Info("natsbridge: listening on %s", inSubject)
	return nil
}

// Stop tears down every tracked agent session and closes the connection.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.sub != nil {
		_ = a.sub.Unsubscribe()
	}

	a.mu.Lock()
	sessions := a.clients
	a.clients = make(map[string]*agentSession)
	a.mu.Unlock()

	for agentID, sess := range sessions {
		sess.cancel()
		a.gw.UnregisterAgent(agentID)
	}

	if a.conn != nil {
		a.conn.Close()
	}
	return nil
}

func (a *Adapter) inSubject(agentID string) string {
	return fmt.Sprintf("%s.%s.in", a.cfg.subjectPrefix(), agentID)
}

func (a *Adapter) outSubject(agentID string) string {
	return fmt.Sprintf("%s.%s.out", a.cfg.subjectPrefix(), agentID)
}

func (a *Adapter) agentIDFromSubject(subject string) (string, bool) {
	prefix := a.cfg.subjectPrefix() + "."
	if !strings.HasPrefix(subject, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(subject, prefix)
	rest = strings.TrimSuffix(rest, ".in")
	if rest == "" || strings.Contains(rest, ".") {
		return "", false
	}
	return rest, true
}

func (a *Adapter) publish(agentID string, frame outFrame) {
	body, err := json.Marshal(frame)
	if err != nil {
		logger.Error("natsbridge: marshal frame for %s: %v", agentID, err)
		return
	}
	if err := a.pub.Publish(a.outSubject(agentID), body); err != nil {
		logger.Error("natsbridge: publish to %s: %v", agentID, err)
	}
}

func (a *Adapter) handleInbound(subject string, payload []byte) {
	agentID, ok := a.agentIDFromSubject(subject)
	if !ok {
		logger.Warn("natsbridge: ignoring message on unrecognized subject %s", subject)
		return
	}

	var msg inFrame
	if err := json.Unmarshal(payload, &msg); err != nil {
		a.publish(agentID, outFrame{Type: frameError, Error: "invalid frame: " + err.Error()})
		return
	}

	if msg.Type == frameRegister {
		a.register(agentID, msg)
		return
	}

	a.mu.Lock()
	sess := a.clients[agentID]
	a.mu.Unlock()
	if sess == nil {
		a.publish(agentID, outFrame{ID: msg.ID, Type: frameError, Error: "agent not registered, send a register frame first"})
		return
	}

	switch msg.Type {
	case frameUnregister:
		a.unregister(agentID)
	case frameEmit:
		resp, err := sess.client.Emit(context.Background(), msg.toParams())
		if err != nil {
			a.publish(agentID, outFrame{ID: msg.ID, Type: frameError, Error: err.Error()})
			return
		}
		a.publish(agentID, outFrame{ID: msg.ID, Type: frameResponse, Response: &resp})
	case frameSubscribe:
		sub, err := sess.client.Subscribe(msg.EventPatterns, msg.ModFilter, msg.ChannelFilter, msg.AgentFilter)
		if err != nil {
			a.publish(agentID, outFrame{ID: msg.ID, Type: frameError, Error: err.Error()})
			return
		}
		a.publish(agentID, outFrame{ID: msg.ID, Type: frameSubscribed, SubscriptionID: sub.SubscriptionID})
	case frameUnsubscribe:
		sess.client.Unsubscribe(msg.SubscriptionID)
		a.publish(agentID, outFrame{ID: msg.ID, Type: frameUnsubscribed, SubscriptionID: msg.SubscriptionID})
	default:
		a.publish(agentID, outFrame{ID: msg.ID, Type: frameError, Error: "unknown frame type: " + string(msg.Type)})
	}
}

func (a *Adapter) register(agentID string, msg inFrame) {
	a.mu.Lock()
	if _, exists := a.clients[agentID]; exists {
		a.mu.Unlock()
		a.publish(agentID, outFrame{ID: msg.ID, Type: frameError, Error: "agent already registered on this bridge"})
		return
	}
	a.mu.Unlock()

	if err := a.gw.RegisterAgent(agentID, msg.Metadata, msg.ForceReconnect); err != nil {
		a.publish(agentID, outFrame{ID: msg.ID, Type: frameError, Error: err.Error()})
		return
	}

	client := eventcore.NewAgentClient(a.gw, agentID)
	ctx, cancel := context.WithCancel(context.Background())
	sess := &agentSession{client: client, cancel: cancel}

	a.mu.Lock()
	a.clients[agentID] = sess
	a.mu.Unlock()

	go client.Stream(ctx, func(e eventcore.Event) bool {
		a.publish(agentID, outFrame{Type: frameEvent, Event: &e})
		return true
	})

	a.publish(agentID, outFrame{ID: msg.ID, Type: frameRegister})
}

func (a *Adapter) unregister(agentID string) {
	a.mu.Lock()
	sess, ok := a.clients[agentID]
	if ok {
		delete(a.clients, agentID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	sess.cancel()
	a.gw.UnregisterAgent(agentID)
}
