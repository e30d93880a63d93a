package metrics

// Config holds configuration for the metrics provider
type Config struct {
	// Enabled determines whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled"`

	// Provider specifies which metrics provider to use (prometheus, noop)
	Provider string `mapstructure:"provider"`

	// Namespace is an optional prefix for all metric names
	Namespace string `mapstructure:"namespace"`

	// HTTPRequestBuckets defines histogram buckets for HTTP request duration (in seconds)
	// Default: [0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10]
	HTTPRequestBuckets []float64 `mapstructure:"http_request_buckets"`

	// EventProcessingBuckets defines histogram buckets for event dispatch/fan-out
	// duration (in seconds). Events are expected to route in well under a second.
	// Default: [0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5]
	EventProcessingBuckets []float64 `mapstructure:"event_processing_buckets"`

	// PushgatewayURL, if set, enables pushing metrics to a Prometheus Pushgateway
	// in addition to (or instead of) being scraped.
	PushgatewayURL string `mapstructure:"pushgateway_url"`

	// PushgatewayJobName is the job label used when pushing to the Pushgateway.
	PushgatewayJobName string `mapstructure:"pushgateway_job_name"`

	// PushgatewayInterval, in seconds, enables automatic periodic pushing.
	// Zero disables automatic pushing; Push() may still be called manually.
	PushgatewayInterval int `mapstructure:"pushgateway_interval"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Enabled:  true,
		Provider: "prometheus",
		// HTTP requests typically take longer than event dispatch
		HTTPRequestBuckets:      []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		EventProcessingBuckets:  []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		PushgatewayJobName:      "openagents_eventcore",
	}
}

// ApplyDefaults fills in any missing values with defaults
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "prometheus"
	}
	if len(c.HTTPRequestBuckets) == 0 {
		c.HTTPRequestBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	}
	if len(c.EventProcessingBuckets) == 0 {
		c.EventProcessingBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	}
	if c.PushgatewayJobName == "" {
		c.PushgatewayJobName = "openagents_eventcore"
	}
}
