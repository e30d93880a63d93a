// Package httpadapter implements the HTTP long-poll Transport Adapter:
// the abstract register_agent/unregister_agent/process_event/poll_events/
// subscribe/unsubscribe RPCs exposed as routes over a single *mux.Router.
package httpadapter

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openagents/eventcore/internal/eventcore"
	"github.com/openagents/eventcore/pkg/metrics"
	"github.com/openagents/eventcore/pkg/middleware"
	"github.com/openagents/eventcore/pkg/tracing"
)

// Config controls the adapter's own middleware, independent of the
// gateway it wraps.
type Config struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxRequestSize int64
}

// ApplyDefaults fills zero-valued fields with conservative HTTP
// defaults.
func (c *Config) ApplyDefaults() {
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = 50
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 100
	}
	if c.MaxRequestSize <= 0 {
		c.MaxRequestSize = middleware.DefaultMaxRequestSize
	}
}

// Adapter is the HTTP long-poll transport adapter: a thin translation
// layer between wire RPCs and an *eventcore.EventGateway.
// Transport failures (bad JSON, unknown agent) never propagate into the
// gateway; they are reported as HTTP error responses only.
type Adapter struct {
	gw          *eventcore.EventGateway
	rateLimiter *middleware.RateLimiter
	sizeLimiter *middleware.RequestSizeLimiter
}

// New builds an Adapter bound to gw.
func New(gw *eventcore.EventGateway, cfg Config) *Adapter {
	cfg.ApplyDefaults()
	return &Adapter{
		gw:          gw,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		sizeLimiter: middleware.NewRequestSizeLimiter(cfg.MaxRequestSize),
	}
}

// Router builds the route table for the six abstract transport RPCs plus
// a /health liveness handler, wrapped in panic-recovery, rate-limiting,
// and size-limiting middleware, and gzip response compression on
// poll_events via gzhttp.
func (a *Adapter) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/agents", a.handleRegisterAgent).Methods(http.MethodPost)
	r.HandleFunc("/agents/{agentID}", a.handleUnregisterAgent).Methods(http.MethodDelete)
	r.Handle("/agents/{agentID}/events", gzhttp.GzipHandler(http.HandlerFunc(a.handlePollEvents))).Methods(http.MethodGet)
	r.HandleFunc("/agents/{agentID}/subscriptions", a.handleSubscribe).Methods(http.MethodPost)
	r.HandleFunc("/subscriptions/{subscriptionID}", a.handleUnsubscribe).Methods(http.MethodDelete)
	r.HandleFunc("/events", a.handleProcessEvent).Methods(http.MethodPost)
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)

	var handler http.Handler = r
	handler = a.sizeLimiter.Middleware(handler)
	handler = a.rateLimiter.Middleware(handler)
	handler = instrument(handler)
	handler = middleware.PanicRecovery(handler)
	return handler
}

// instrument opens a trace span per request and records standard HTTP
// metrics, matching EventGateway.ProcessEvent's own per-event span so a
// process_event request shows up as a parent span in traces.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracing.StartSpan(r.Context(), "httpadapter."+r.Method+" "+r.URL.Path,
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()

		rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r.WithContext(ctx))

		metrics.GetProvider().RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode), time.Since(start))
	})
}

// statusRecorder captures the status code written by a handler so it can
// be fed into the HTTP request metric after ServeHTTP returns.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func defaultPollTimeout(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	ms, err := time.ParseDuration(raw + "ms")
	if err != nil || ms <= 0 {
		return fallback
	}
	return ms
}
