package config

import "testing"

func TestNewManagerDefaults(t *testing.T) {
	m := NewManager()
	if err := m.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cfg, err := m.GetConfig()
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}

	if cfg.Network.AgentQueueSize != 1000 {
		t.Errorf("AgentQueueSize = %d, want 1000", cfg.Network.AgentQueueSize)
	}
	if cfg.Network.HistorySize != 10000 {
		t.Errorf("HistorySize = %d, want 10000", cfg.Network.HistorySize)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
}

func TestManagerSetOverridesDefault(t *testing.T) {
	m := NewManager()
	m.Set("network.agent_queue_size", 50)

	cfg, err := m.GetConfig()
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	if cfg.Network.AgentQueueSize != 50 {
		t.Errorf("AgentQueueSize = %d, want 50", cfg.Network.AgentQueueSize)
	}
}

func TestWithEnvPrefix(t *testing.T) {
	m := NewManagerWithOptions(WithEnvPrefix("OATEST"))
	t.Setenv("OATEST_NETWORK_HISTORY_SIZE", "42")

	cfg, err := m.GetConfig()
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	if cfg.Network.HistorySize != 42 {
		t.Errorf("HistorySize = %d, want 42", cfg.Network.HistorySize)
	}
}
