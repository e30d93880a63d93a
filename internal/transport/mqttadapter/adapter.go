// Package mqttadapter implements the MQTT Transport Adapter: agents
// publish control and emit frames on {prefix}/{agent_id}/in and the
// adapter publishes streamed events and RPC responses on
// {prefix}/{agent_id}/out, backed by eclipse/paho.mqtt.golang and
// mochi-mqtt/server/v2.
package mqttadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/openagents/eventcore/internal/eventcore"
	"github.com/openagents/eventcore/pkg/logger"
)

// Adapter bridges an EventGateway to an MQTT broker, embedded or external.
type Adapter struct {
	gw     *eventcore.EventGateway
	broker broker
	cfg    Config

	mu      sync.Mutex
	clients map[string]*agentSession
}

type agentSession struct {
	client *eventcore.AgentClient
	cancel context.CancelFunc
}

// NewEmbedded builds an Adapter backed by an in-process Mochi MQTT server.
func NewEmbedded(gw *eventcore.EventGateway, cfg Config) *Adapter {
	cfg.ApplyDefaults()
	return &Adapter{
		gw:      gw,
		broker:  newEmbeddedBroker(cfg.Broker),
		cfg:     cfg,
		clients: make(map[string]*agentSession),
	}
}

// NewExternal builds an Adapter backed by a Paho client connected to an
// external broker.
func NewExternal(gw *eventcore.EventGateway, cfg Config) *Adapter {
	cfg.ApplyDefaults()
	return &Adapter{
		gw:      gw,
		broker:  newExternalBrokerClient(cfg.ExternalBroker),
		cfg:     cfg,
		clients: make(map[string]*agentSession),
	}
}

// Start connects/starts the underlying broker and subscribes to every
// agent's inbound topic.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.broker.Start(ctx); err != nil {
		return fmt.Errorf("mqttadapter: start broker: %w", err)
	}
	inFilter := fmt.Sprintf("%s/+/in", a.cfg.Topics.Prefix)
	if err := a.broker.Subscribe(inFilter, a.cfg.QoS.In, a.handleInbound); err != nil {
		return fmt.Errorf("mqttadapter: subscribe %s: %w", inFilter, err)
	}
	logger.Info("mqttadapter: listening on %s", inFilter)
	return nil
}

// Stop tears down every tracked agent session and stops the broker.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sessions := a.clients
	a.clients = make(map[string]*agentSession)
	a.mu.Unlock()

	for agentID, sess := range sessions {
		sess.cancel()
		a.gw.UnregisterAgent(agentID)
	}
	return a.broker.Stop(ctx)
}

func (a *Adapter) inTopic(agentID string) string  { return fmt.Sprintf("%s/%s/in", a.cfg.Topics.Prefix, agentID) }
func (a *Adapter) outTopic(agentID string) string { return fmt.Sprintf("%s/%s/out", a.cfg.Topics.Prefix, agentID) }

func (a *Adapter) agentIDFromTopic(topic string) (string, bool) {
	prefix := a.cfg.Topics.Prefix + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(topic, prefix)
	rest = strings.TrimSuffix(rest, "/in")
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

func (a *Adapter) publish(agentID string, frame outFrame) {
	body, err := json.Marshal(frame)
	if err != nil {
		logger.Error("mqttadapter: marshal frame for %s: %v", agentID, err)
		return
	}
	if err := a.broker.Publish(a.outTopic(agentID), a.cfg.QoS.Out, body); err != nil {
		logger.Error("mqttadapter: publish to %s: %v", agentID, err)
	}
}

func (a *Adapter) handleInbound(topic string, payload []byte) {
	agentID, ok := a.agentIDFromTopic(topic)
	if !ok {
		logger.Warn("mqttadapter: ignoring message on unrecognized topic %s", topic)
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
		a.publish(agentID, outFrame{ID: msg.ID, Type: frameError, Error: "agent already registered on this adapter"})
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
