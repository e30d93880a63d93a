package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PrometheusProvider implements the Provider interface using Prometheus.
type PrometheusProvider struct {
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	requestsInFlight prometheus.Gauge

	eventPublished     *prometheus.CounterVec
	eventProcessed     *prometheus.CounterVec
	eventDuration      *prometheus.HistogramVec
	eventDropped       *prometheus.CounterVec
	agentQueueSize     *prometheus.GaugeVec
	agentsRegistered   prometheus.Gauge
	inFlightResponses  prometheus.Gauge
	panicsTotal        *prometheus.CounterVec

	// Pushgateway fields (optional)
	pushgatewayURL     string
	pushgatewayJobName string
	pusher             *push.Pusher
	pushTicker         *time.Ticker
	pushStop           chan bool
}

// NewPrometheusProvider creates a new Prometheus metrics provider.
// If cfg is nil, default configuration will be used.
func NewPrometheusProvider(cfg *Config) *PrometheusProvider {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg.ApplyDefaults()
	}

	metricName := func(name string) string {
		if cfg.Namespace != "" {
			return cfg.Namespace + "_" + name
		}
		return name
	}

	p := &PrometheusProvider{
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricName("http_request_duration_seconds"),
				Help:    "HTTP request duration in seconds",
				Buckets: cfg.HTTPRequestBuckets,
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricName("http_requests_total"),
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: metricName("http_requests_in_flight"),
				Help: "Current number of HTTP requests being processed",
			},
		),
		eventPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricName("events_published_total"),
				Help: "Total number of events accepted by the gateway",
			},
			[]string{"source", "event_type"},
		),
		eventProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricName("events_processed_total"),
				Help: "Total number of events that completed the dispatch pipeline",
			},
			[]string{"source", "event_type", "status"},
		),
		eventDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricName("event_processing_duration_seconds"),
				Help:    "Time from ProcessEvent call to pipeline completion",
				Buckets: cfg.EventProcessingBuckets,
			},
			[]string{"source", "event_type"},
		),
		eventDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricName("events_dropped_total"),
				Help: "Total number of events dropped before delivery",
			},
			[]string{"agent_id", "reason"},
		),
		agentQueueSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricName("agent_queue_size"),
				Help: "Current number of queued events per agent",
			},
			[]string{"agent_id"},
		),
		agentsRegistered: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: metricName("agents_registered"),
				Help: "Current number of registered agents",
			},
		),
		inFlightResponses: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: metricName("inflight_responses"),
				Help: "Current number of events awaiting a correlated response",
			},
		),
		panicsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricName("panics_total"),
				Help: "Total number of recovered panics",
			},
			[]string{"method"},
		),

		pushgatewayURL:     cfg.PushgatewayURL,
		pushgatewayJobName: cfg.PushgatewayJobName,
	}

	if cfg.PushgatewayURL != "" {
		p.pusher = push.New(cfg.PushgatewayURL, cfg.PushgatewayJobName).
			Gatherer(prometheus.DefaultGatherer)

		if cfg.PushgatewayInterval > 0 {
			p.pushStop = make(chan bool)
			p.pushTicker = time.NewTicker(time.Duration(cfg.PushgatewayInterval) * time.Second)
			go p.startAutoPush()
		}
	}

	return p
}

// ResponseWriter wraps http.ResponseWriter to capture status code
type ResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordHTTPRequest implements Provider interface
func (p *PrometheusProvider) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	p.requestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	p.requestTotal.WithLabelValues(method, path, status).Inc()
}

// IncRequestsInFlight implements Provider interface
func (p *PrometheusProvider) IncRequestsInFlight() {
	p.requestsInFlight.Inc()
}

// DecRequestsInFlight implements Provider interface
func (p *PrometheusProvider) DecRequestsInFlight() {
	p.requestsInFlight.Dec()
}

// RecordEventPublished implements Provider interface
func (p *PrometheusProvider) RecordEventPublished(source, eventType string) {
	p.eventPublished.WithLabelValues(source, eventType).Inc()
}

// RecordEventProcessed implements Provider interface
func (p *PrometheusProvider) RecordEventProcessed(source, eventType, status string, duration time.Duration) {
	p.eventProcessed.WithLabelValues(source, eventType, status).Inc()
	p.eventDuration.WithLabelValues(source, eventType).Observe(duration.Seconds())
}

// RecordEventDropped implements Provider interface
func (p *PrometheusProvider) RecordEventDropped(agentID, reason string) {
	p.eventDropped.WithLabelValues(agentID, reason).Inc()
}

// UpdateAgentQueueSize implements Provider interface
func (p *PrometheusProvider) UpdateAgentQueueSize(agentID string, size int) {
	p.agentQueueSize.WithLabelValues(agentID).Set(float64(size))
}

// UpdateAgentsRegistered implements Provider interface
func (p *PrometheusProvider) UpdateAgentsRegistered(count int) {
	p.agentsRegistered.Set(float64(count))
}

// UpdateInFlightResponses implements Provider interface
func (p *PrometheusProvider) UpdateInFlightResponses(count int) {
	p.inFlightResponses.Set(float64(count))
}

// RecordPanic implements the Provider interface
func (p *PrometheusProvider) RecordPanic(methodName string) {
	p.panicsTotal.WithLabelValues(methodName).Inc()
}

// Handler implements Provider interface
func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that collects metrics
func (p *PrometheusProvider) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		p.IncRequestsInFlight()
		defer p.DecRequestsInFlight()

		rw := NewResponseWriter(w)
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		status := strconv.Itoa(rw.statusCode)

		p.RecordHTTPRequest(r.Method, r.URL.Path, status, duration)
	})
}

// Push manually pushes metrics to the configured Pushgateway
func (p *PrometheusProvider) Push() error {
	if p.pusher == nil {
		return nil
	}
	return p.pusher.Push()
}

// startAutoPush runs in a goroutine and periodically pushes metrics to Pushgateway
func (p *PrometheusProvider) startAutoPush() {
	for {
		select {
		case <-p.pushTicker.C:
			_ = p.Push()
		case <-p.pushStop:
			p.pushTicker.Stop()
			return
		}
	}
}

// StopAutoPush stops the automatic push goroutine
func (p *PrometheusProvider) StopAutoPush() {
	if p.pushStop != nil {
		close(p.pushStop)
	}
}
