// Command eventnetwork runs an OpenAgents event network: the
// in-process EventGateway plus whichever bundled transport adapters
// and mods are enabled by configuration.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openagents/eventcore/internal/eventcore"
	"github.com/openagents/eventcore/internal/eventcore/historymirror"
	"github.com/openagents/eventcore/internal/mods/echomod"
	"github.com/openagents/eventcore/internal/transport/httpadapter"
	"github.com/openagents/eventcore/internal/transport/mqttadapter"
	"github.com/openagents/eventcore/internal/transport/natsbridge"
	"github.com/openagents/eventcore/internal/transport/wsadapter"
	"github.com/openagents/eventcore/pkg/config"
	"github.com/openagents/eventcore/pkg/errortracking"
	"github.com/openagents/eventcore/pkg/logger"
	"github.com/openagents/eventcore/pkg/metrics"
	"github.com/openagents/eventcore/pkg/middleware"
	"github.com/openagents/eventcore/pkg/server"
	"github.com/openagents/eventcore/pkg/tracing"
)

func main() {
	cfgMgr := config.NewManager()
	if err := cfgMgr.Load(); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	cfg, err := cfgMgr.GetConfig()
	if err != nil {
		log.Fatalf("failed to parse configuration: %v", err)
	}

	logger.Init(cfg.Logger.Dev)
	if cfg.Logger.Path != "" {
		logger.UpdateLoggerPath(cfg.Logger.Path, cfg.Logger.Dev)
	}

	errTracker, err := errortracking.NewProviderFromConfig(cfg.ErrorTracking)
	if err != nil {
		logger.Error("failed to initialize error tracking: %v", err)
		os.Exit(1)
	}
	logger.InitErrorTracking(errTracker)
	defer logger.CloseErrorTracking()

	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Endpoint:       cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.Error("failed to initialize tracing: %v", err)
		os.Exit(1)
	}
	defer shutdownTracer(context.Background())

	if cfg.Metrics.Enabled && cfg.Metrics.Provider == "prometheus" {
		metricsCfg := cfg.Metrics
		metricsCfg.ApplyDefaults()
		metrics.SetProvider(metrics.NewPrometheusProvider(&metricsCfg))
	} else {
		metrics.SetProvider(&metrics.NoOpProvider{})
	}

	networkID := cfg.Network.NetworkID
	if networkID == "" {
		networkID = "default"
	}
	gw := eventcore.NewEventGateway(eventcore.GatewayConfig{
		NetworkID:          networkID,
		AgentQueueSize:     cfg.Network.AgentQueueSize,
		HistorySize:        cfg.Network.HistorySize,
		DefaultPollTimeout: cfg.Network.DefaultPollTimeout,
		ResponseTimeout:    cfg.Network.ResponseTimeout,
	})
	logger.Info("event network %q starting (instance %s)", networkID, cfg.Network.InstanceID)

	if err := gw.RegisterMod(echomod.New(echomod.Config{})); err != nil {
		logger.Error("failed to register echo mod: %v", err)
		os.Exit(1)
	}

	handler, adapterShutdowns := buildHandler(gw, cfg)
	for _, cb := range adapterShutdowns {
		server.RegisterShutdownCallback(cb)
	}

	gs := server.NewGracefulServer(server.Config{
		Addr:            cfg.Server.Addr,
		Handler:         handler,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		DrainTimeout:    cfg.Server.DrainTimeout,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
	})

	run(gs, cfg.Server.ShutdownTimeout)
	logger.Info("event network %q stopped", networkID)
}

// buildHandler wires the HTTP long-poll and WebSocket transport
// adapters onto one mux, starts whichever optional adapters
// configuration enables, and returns their shutdown callbacks
// alongside the composed handler.
func buildHandler(gw *eventcore.EventGateway, cfg *config.Config) (http.Handler, []server.ShutdownCallback) {
	httpAdapter := httpadapter.New(gw, httpadapter.Config{
		RateLimitRPS:   cfg.Middleware.RateLimitRPS,
		RateLimitBurst: cfg.Middleware.RateLimitBurst,
		MaxRequestSize: cfg.Middleware.MaxRequestSize,
	})
	wsAdapter := wsadapter.New(gw)

	mux := http.NewServeMux()
	mux.Handle("/", httpAdapter.Router())
	mux.HandleFunc("/ws", wsAdapter.HandleWebSocket)
	mux.Handle("/metrics", metrics.GetProvider().Handler())

	blacklist := middleware.NewIPBlacklist(middleware.BlacklistConfig{UseProxy: true})
	mux.Handle("/admin/blacklist", blacklist.StatsHandler())
	sanitizer := middleware.DefaultSanitizer()

	var handler http.Handler = mux
	handler = blacklist.Middleware(handler)
	handler = sanitizer.Middleware(handler)

	var shutdowns []server.ShutdownCallback

	if cfg.Network.MQTT.Enabled {
		mqttCfg := mqttadapter.Config{}
		mqttCfg.ApplyDefaults()
		if cfg.Network.MQTT.TopicRoot != "" {
			mqttCfg.Topics.Prefix = cfg.Network.MQTT.TopicRoot
		}
		mqttCfg.Broker.Host, mqttCfg.Broker.Port = splitHostPort(cfg.Network.MQTT.Addr, mqttCfg.Broker.Port)
		mqttAdapter := mqttadapter.NewEmbedded(gw, mqttCfg)
		startCtx, cancel := context.WithTimeout(context.Background(), mqttCfg.Timeouts.Connect)
		err := mqttAdapter.Start(startCtx)
		cancel()
		if err != nil {
			logger.Error("failed to start mqtt adapter: %v", err)
			os.Exit(1)
		}
		shutdowns = append(shutdowns, mqttAdapter.Stop)
		logger.Info("mqtt adapter listening on %s:%d", mqttCfg.Broker.Host, mqttCfg.Broker.Port)
	}

	if cfg.Network.NATS.Enabled {
		natsCfg := natsbridge.Config{
			URL:           cfg.Network.NATS.URL,
			NetworkID:     cfg.Network.NetworkID,
			SubjectPrefix: cfg.Network.NATS.SubjectPfx,
		}
		natsCfg.ApplyDefaults()
		natsAdapter, err := natsbridge.New(gw, natsCfg)
		if err != nil {
			logger.Error("failed to connect nats bridge: %v", err)
			os.Exit(1)
		}
		if err := natsAdapter.Start(context.Background()); err != nil {
			logger.Error("failed to start nats bridge: %v", err)
			os.Exit(1)
		}
		shutdowns = append(shutdowns, natsAdapter.Stop)
		logger.Info("nats bridge connected to %s", natsCfg.URL)
	}

	if cfg.Network.Redis.Enabled {
		mirror, err := historymirror.New(gw, historymirror.Config{
			Addr:       fmt.Sprintf("%s:%d", cfg.Network.Redis.Host, cfg.Network.Redis.Port),
			Password:   cfg.Network.Redis.Password,
			DB:         cfg.Network.Redis.DB,
			StreamName: cfg.Network.Redis.StreamName,
			MaxLen:     cfg.Network.Redis.MaxLen,
		})
		if err != nil {
			logger.Error("failed to start history mirror: %v", err)
			os.Exit(1)
		}
		mirrorCtx, cancel := context.WithCancel(context.Background())
		mirror.Start(mirrorCtx)
		shutdowns = append(shutdowns, func(ctx context.Context) error {
			cancel()
			return mirror.Close(ctx)
		})
		logger.Info("history mirror relaying to redis at %s", cfg.Network.Redis.Host)
	}

	return handler, shutdowns
}

// run starts gs and blocks until either it exits on its own or a
// termination signal arrives, in which case ShutdownWithCallbacks runs
// the registered shutdown callbacks (transport adapters, the history
// mirror) and then Shutdown. ListenAndServe reacts to the same signal
// with its own plain Shutdown, so the HTTP server may already be
// shutting down while the callbacks run.
func run(gs *server.GracefulServer, shutdownTimeout time.Duration) {
	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- gs.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server exited: %v", err)
		}
	case <-signalCtx.Done():
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := gs.ShutdownWithCallbacks(ctx); err != nil {
			logger.Error("graceful shutdown error: %v", err)
		}
		<-serverErr
	}
}

// splitHostPort parses "host:port" or ":port" the same way the host
// process's own config addresses are parsed, falling back to
// defaultPort when addr is empty or malformed.
func splitHostPort(addr string, defaultPort int) (string, int) {
	if addr == "" {
		return "localhost", defaultPort
	}
	host := "localhost"
	port := defaultPort
	i := len(addr) - 1
	for i >= 0 && addr[i] != ':' {
		i--
	}
	if i < 0 {
		return addr, defaultPort
	}
	if i > 0 {
		host = addr[:i]
	}
	fmt.Sscanf(addr[i+1:], "%d", &port)
	return host, port
}
