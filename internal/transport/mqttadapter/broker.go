package mqttadapter

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/openagents/eventcore/pkg/logger"
)

// messageCallback is invoked with a topic and raw payload for each message
// delivered to a subscribed filter.
type messageCallback func(topic string, payload []byte)

// broker abstracts the two ways this adapter can speak MQTT: an embedded
// Mochi server, or a client connection to an external broker.
type broker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Publish(topic string, qos byte, payload []byte) error
	Subscribe(topicFilter string, qos byte, callback messageCallback) error
}

// embeddedBroker wraps a Mochi MQTT server running in-process.
type embeddedBroker struct {
	config BrokerConfig
	server *mqtt.Server

	mu      sync.RWMutex
	started bool

	subMu         sync.RWMutex
	subscriptions map[string]messageCallback
}

func newEmbeddedBroker(config BrokerConfig) *embeddedBroker {
	return &embeddedBroker{config: config, subscriptions: make(map[string]messageCallback)}
}

func (eb *embeddedBroker) Start(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.started {
		return fmt.Errorf("mqttadapter: broker already started")
	}

	eb.server = mqtt.New(&mqtt.Options{InlineClient: true})

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "tcp",
		Address: fmt.Sprintf("%s:%d", eb.config.Host, eb.config.Port),
	})
	if err := eb.server.AddListener(tcp); err != nil {
		return fmt.Errorf("mqttadapter: add tcp listener: %w", err)
	}
	if eb.config.EnableWebSocket {
		ws := listeners.NewWebsocket(listeners.Config{
			ID:      "ws",
			Address: fmt.Sprintf("%s:%d", eb.config.Host, eb.config.WSPort),
		})
		if err := eb.server.AddListener(ws); err != nil {
			return fmt.Errorf("mqttadapter: add websocket listener: %w", err)
		}
	}

	go func() {
		if err := eb.server.Serve(); err != nil {
			logger.Error("mqttadapter: embedded broker error: %v", err)
		}
	}()

	eb.started = true
	logger.Info("mqttadapter: embedded broker listening on %s:%d", eb.config.Host, eb.config.Port)
	return nil
}

func (eb *embeddedBroker) Stop(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if !eb.started {
		return nil
	}
	if err := eb.server.Close(); err != nil {
		logger.Error("mqttadapter: error closing embedded broker: %v", err)
	}
	eb.started = false
	return nil
}

func (eb *embeddedBroker) Publish(topic string, qos byte, payload []byte) error {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if !eb.started {
		return fmt.Errorf("mqttadapter: broker not started")
	}
	return eb.server.Publish(topic, payload, false, qos)
}

// Subscribe registers callback for topicFilter. As in the broker this is
// adapted from, the embedded path doesn't hook into Mochi's internal
// pub/sub dispatch; an operator who needs the embedded broker to also
// carry the in-process agent's own messages back to it should run it
// alongside the external client path instead.
func (eb *embeddedBroker) Subscribe(topicFilter string, qos byte, callback messageCallback) error {
	eb.mu.RLock()
	started := eb.started
	eb.mu.RUnlock()
	if !started {
		return fmt.Errorf("mqttadapter: broker not started")
	}
	eb.subMu.Lock()
	eb.subscriptions[topicFilter] = callback
	eb.subMu.Unlock()
	return nil
}

// externalBrokerClient wraps a Paho client connected to an external broker.
type externalBrokerClient struct {
	config ExternalBrokerConfig
	client pahomqtt.Client

	mu          sync.RWMutex
	connected   bool
	resubscribe []func()
}

func newExternalBrokerClient(config ExternalBrokerConfig) *externalBrokerClient {
	return &externalBrokerClient{config: config}
}

func (ebc *externalBrokerClient) Start(ctx context.Context) error {
	ebc.mu.Lock()
	defer ebc.mu.Unlock()
	if ebc.connected {
		return fmt.Errorf("mqttadapter: already connected")
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(ebc.config.BrokerURL)
	opts.SetClientID(ebc.config.ClientID)
	opts.SetUsername(ebc.config.Username)
	opts.SetPassword(ebc.config.Password)
	opts.SetCleanSession(ebc.config.CleanSession)
	opts.SetKeepAlive(ebc.config.KeepAlive)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(ebc.config.ReconnectDelay)
	if ebc.config.TLSConfig != nil {
		opts.SetTLSConfig(ebc.config.TLSConfig)
	}
	opts.SetConnectionLostHandler(func(c pahomqtt.Client, err error) {
		logger.Error("mqttadapter: external broker connection lost: %v", err)
		ebc.mu.Lock()
		ebc.connected = false
		ebc.mu.Unlock()
	})
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		ebc.mu.Lock()
		ebc.connected = true
		fns := append([]func(){}, ebc.resubscribe...)
		ebc.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	})

	ebc.client = pahomqtt.NewClient(opts)
	token := ebc.client.Connect()
	if !token.WaitTimeout(ebc.config.ConnectTimeout) {
		return fmt.Errorf("mqttadapter: connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttadapter: connect: %w", err)
	}
	ebc.connected = true
	logger.Info("mqttadapter: connected to external broker %s", ebc.config.BrokerURL)
	return nil
}

func (ebc *externalBrokerClient) Stop(ctx context.Context) error {
	ebc.mu.Lock()
	defer ebc.mu.Unlock()
	if !ebc.connected {
		return nil
	}
	ebc.client.Disconnect(uint(ebc.config.ConnectTimeout.Milliseconds()))
	ebc.connected = false
	return nil
}

func (ebc *externalBrokerClient) Publish(topic string, qos byte, payload []byte) error {
	ebc.mu.RLock()
	connected := ebc.connected
	ebc.mu.RUnlock()
	if !connected {
		return fmt.Errorf("mqttadapter: not connected")
	}
	token := ebc.client.Publish(topic, qos, false, payload)
	token.Wait()
	return token.Error()
}

func (ebc *externalBrokerClient) Subscribe(topicFilter string, qos byte, callback messageCallback) error {
	subscribeFn := func() {
		token := ebc.client.Subscribe(topicFilter, qos, func(c pahomqtt.Client, msg pahomqtt.Message) {
			callback(msg.Topic(), msg.Payload())
		})
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Error("mqttadapter: subscribe %s: %v", topicFilter, err)
		}
	}

	ebc.mu.Lock()
	ebc.resubscribe = append(ebc.resubscribe, subscribeFn)
	connected := ebc.connected
	ebc.mu.Unlock()

	if connected {
		subscribeFn()
	}
	return nil
}
