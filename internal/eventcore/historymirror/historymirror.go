// Package historymirror relays every event its pseudo-agent can see into
// a capped Redis stream, purely for diagnostic replay outside the
// process. The pseudo-agent subscribes to "*" under the normal
// visibility rules, so public and network events are relayed, while
// direct, channel, restricted and mod_only events not visible to it are
// not. It is explicitly non-authoritative: the gateway's in-memory
// history ring (EventGateway.History) remains the only source of truth,
// and nothing here turns this into a durable event log or a delivery
// guarantee. Grounded on pkg/eventbroker/provider_redis.go's
// RedisProvider, trimmed down from a distributed consumer-group
// provider to a single mirroring subscriber.
package historymirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openagents/eventcore/internal/eventcore"
	"github.com/openagents/eventcore/pkg/logger"
)

// Config configures the mirror's Redis stream.
type Config struct {
	Addr       string
	Password   string
	DB         int
	StreamName string
	MaxLen     int64
	AgentID    string
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.StreamName == "" {
		c.StreamName = "openagents:history"
	}
	if c.MaxLen == 0 {
		c.MaxLen = 10000
	}
	if c.AgentID == "" {
		c.AgentID = "_historymirror"
	}
}

// streamStore is the subset of *redis.Client this mirror depends on,
// narrowed so tests can substitute a fake without a running Redis.
type streamStore interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd
}

// Mirror subscribes a pseudo-agent to every event name on a gateway and
// relays each event delivered to it to Redis as it is processed.
type Mirror struct {
	gw          *eventcore.EventGateway
	redisClient *redis.Client
	store       streamStore
	cfg         Config

	agentClient *eventcore.AgentClient
	cancel      context.CancelFunc
}

// New connects to Redis and registers the mirror's pseudo-agent on gw,
// subscribed to every event. It does not start relaying until Start is
// called.
func New(gw *eventcore.EventGateway, cfg Config) (*Mirror, error) {
	cfg.ApplyDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("historymirror: connect to redis: %w", err)
	}

	m, err := newWithStore(gw, cfg, client)
	if err != nil {
		return nil, err
	}
	m.redisClient = client
	return m, nil
}

func newWithStore(gw *eventcore.EventGateway, cfg Config, store streamStore) (*Mirror, error) {
	cfg.ApplyDefaults()

	if err := gw.RegisterAgent(cfg.AgentID, map[string]interface{}{"role": "history_mirror"}, true); err != nil {
		return nil, fmt.Errorf("historymirror: register pseudo-agent: %w", err)
	}
	agentClient := eventcore.NewAgentClient(gw, cfg.AgentID)
	if _, err := agentClient.Subscribe([]string{"*"}, nil, nil, nil); err != nil {
		gw.UnregisterAgent(cfg.AgentID)
		return nil, fmt.Errorf("historymirror: subscribe to all events: %w", err)
	}

	return &Mirror{gw: gw, store: store, cfg: cfg, agentClient: agentClient}, nil
}

// Start relays events until ctx is cancelled or Close is called.
func (m *Mirror) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.agentClient.Stream(ctx, func(e eventcore.Event) bool {
		m.mirror(ctx, e)
		return true
	})
}

func (m *Mirror) mirror(ctx context.Context, event eventcore.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("historymirror: marshal event %s: %v", event.EventID, err)
		return
	}

	args := &redis.XAddArgs{
		Stream: m.cfg.StreamName,
		MaxLen: m.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event_id":   event.EventID,
			"event_name": event.EventName,
			"event":      data,
		},
	}
	if _, err := m.store.XAdd(ctx, args).Result(); err != nil {
		logger.Error("historymirror: xadd %s: %v", event.EventID, err)
	}
}

// Replay returns up to limit of the most recently mirrored events, newest
// first, for diagnostic inspection outside the process. It reads only
// what the capped stream still retains; it is not a durable archive.
func (m *Mirror) Replay(ctx context.Context, limit int64) ([]eventcore.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	entries, err := m.store.XRevRangeN(ctx, m.cfg.StreamName, "+", "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("historymirror: xrevrange: %w", err)
	}

	events := make([]eventcore.Event, 0, len(entries))
	for _, entry := range entries {
		var raw []byte
		switch v := entry.Values["event"].(type) {
		case string:
			raw = []byte(v)
		case []byte:
			raw = v
		default:
			continue
		}
		var event eventcore.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			logger.Warn("historymirror: unmarshal entry %s: %v", entry.ID, err)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Close stops relaying, unregisters the pseudo-agent, and closes the
// Redis client, if one was opened by New.
func (m *Mirror) Close(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.gw.UnregisterAgent(m.cfg.AgentID)
	if m.redisClient != nil {
		return m.redisClient.Close()
	}
	return nil
}
