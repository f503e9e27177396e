package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_Metrics(t *testing.T) {
	cfg := &Config{}
	cfg.Metrics.Enabled = true
	ApplyDefaults(cfg)

	if cfg.Metrics.Port != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
}

func TestApplyDefaults_MetricsDisabledLeavesPortZero(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Metrics.Port != 0 {
		t.Errorf("Expected port to stay 0 when metrics disabled, got %d", cfg.Metrics.Port)
	}
}

func TestApplyDefaults_Callback(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Callback.MaxSlots != 8 {
		t.Errorf("Expected default max slots 8, got %d", cfg.Callback.MaxSlots)
	}
	if cfg.Callback.MaxRetries != 3 {
		t.Errorf("Expected default max retries 3, got %d", cfg.Callback.MaxRetries)
	}
	if cfg.Callback.MinTimeout != time.Second {
		t.Errorf("Expected default min timeout 1s, got %v", cfg.Callback.MinTimeout)
	}
	if cfg.Callback.DelayRetryInterval != 2*time.Second {
		t.Errorf("Expected default delay retry interval 2s, got %v", cfg.Callback.DelayRetryInterval)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "DEBUG", Format: "json", Output: "/var/log/nfs4cb.log"},
		Callback: CallbackConfig{
			MaxSlots:           4,
			MaxRetries:         5,
			MinTimeout:         3 * time.Second,
			DelayRetryInterval: 500 * time.Millisecond,
		},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected explicit log level preserved, got %q", cfg.Logging.Level)
	}
	if cfg.Callback.MaxSlots != 4 {
		t.Errorf("Expected explicit max slots preserved, got %d", cfg.Callback.MaxSlots)
	}
	if cfg.Callback.DelayRetryInterval != 500*time.Millisecond {
		t.Errorf("Expected explicit delay retry interval preserved, got %v", cfg.Callback.DelayRetryInterval)
	}
}
