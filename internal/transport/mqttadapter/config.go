package mqttadapter

import (
	"crypto/tls"
	"time"
)

// BrokerMode selects how the adapter talks MQTT.
type BrokerMode string

const (
	// BrokerModeEmbedded runs a Mochi MQTT broker in-process.
	BrokerModeEmbedded BrokerMode = "embedded"
	// BrokerModeExternal connects to an external MQTT broker as a client.
	BrokerModeExternal BrokerMode = "external"
)

// Config holds all mqttadapter configuration.
type Config struct {
	BrokerMode     BrokerMode
	Broker         BrokerConfig
	ExternalBroker ExternalBrokerConfig
	Topics         TopicConfig
	QoS            QoSConfig
	Timeouts       TimeoutConfig
}

// BrokerConfig configures the embedded Mochi MQTT broker.
type BrokerConfig struct {
	Host            string
	Port            int
	EnableWebSocket bool
	WSPort          int
	KeepAlive       time.Duration
}

// ExternalBrokerConfig configures connecting as a client to an external broker.
type ExternalBrokerConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	CleanSession   bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	TLSConfig      *tls.Config
}

// TopicConfig controls the topic namespace this adapter owns.
// Per-agent topics are {Prefix}/{agent_id}/in and {Prefix}/{agent_id}/out.
type TopicConfig struct {
	Prefix string
}

// QoSConfig sets the QoS level used for inbound and outbound frames.
type QoSConfig struct {
	In  byte
	Out byte
}

// TimeoutConfig bounds broker lifecycle operations.
type TimeoutConfig struct {
	Connect    time.Duration
	Publish    time.Duration
	Disconnect time.Duration
}

// ApplyDefaults fills zero-valued fields with conservative defaults.
func (c *Config) ApplyDefaults() {
	if c.BrokerMode == "" {
		c.BrokerMode = BrokerModeEmbedded
	}
	if c.Broker.Host == "" {
		c.Broker.Host = "localhost"
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = 1883
	}
	if c.Broker.KeepAlive == 0 {
		c.Broker.KeepAlive = 60 * time.Second
	}
	if c.ExternalBroker.KeepAlive == 0 {
		c.ExternalBroker.KeepAlive = 60 * time.Second
	}
	if c.ExternalBroker.ConnectTimeout == 0 {
		c.ExternalBroker.ConnectTimeout = 30 * time.Second
	}
	if c.ExternalBroker.ReconnectDelay == 0 {
		c.ExternalBroker.ReconnectDelay = 5 * time.Second
	}
	if c.Topics.Prefix == "" {
		c.Topics.Prefix = "openagents"
	}
	if c.QoS.In == 0 {
		c.QoS.In = 1
	}
	if c.QoS.Out == 0 {
		c.QoS.Out = 1
	}
	if c.Timeouts.Connect == 0 {
		c.Timeouts.Connect = 30 * time.Second
	}
	if c.Timeouts.Publish == 0 {
		c.Timeouts.Publish = 5 * time.Second
	}
	if c.Timeouts.Disconnect == 0 {
		c.Timeouts.Disconnect = 10 * time.Second
	}
}
