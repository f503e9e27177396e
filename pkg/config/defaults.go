package config

import "time"

// ApplyDefaults fills unset fields with sensible defaults after a
// config file and environment overrides have been unmarshalled.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyCallbackDefaults(&cfg.Callback)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyCallbackDefaults(cfg *CallbackConfig) {
	if cfg.MaxSlots == 0 {
		cfg.MaxSlots = 8
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MinTimeout == 0 {
		cfg.MinTimeout = time.Second
	}
	if cfg.DelayRetryInterval == 0 {
		cfg.DelayRetryInterval = 2 * time.Second
	}
}

// GetDefaultConfig returns a Config with every field at its default
// value, used when no config file is found and for `nfs4cbd init`.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
