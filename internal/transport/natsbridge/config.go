package natsbridge

import "time"

// Config configures the NATS fan-out bridge. The bridge mirrors agent
// traffic onto NATS subjects scoped to a single network; it never
// federates across networks and carries no durability guarantee for
// relayed events (core NATS pub/sub, not JetStream).
type Config struct {
	// URL is the NATS server URL, e.g. "nats://localhost:4222".
	URL string

	// NetworkID scopes this bridge's subject namespace so multiple
	// networks can share one NATS deployment without collision.
	NetworkID string

	// SubjectPrefix overrides the subject namespace derived from
	// NetworkID. Leave empty to use "openagents.{NetworkID}".
	SubjectPrefix string

	// ConnectTimeout bounds the initial dial.
	ConnectTimeout time.Duration

	// ReconnectWait is passed through to the nats.go client.
	ReconnectWait time.Duration
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = "nats://localhost:4222"
	}
	if c.NetworkID == "" {
		c.NetworkID = "default"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
}

func (c Config) subjectPrefix() string {
	if c.SubjectPrefix != "" {
		return c.SubjectPrefix
	}
	return "openagents." + c.NetworkID
}
