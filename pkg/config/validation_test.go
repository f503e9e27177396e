package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidMetricsPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_ZeroCallbackMaxSlotsSkipped(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Callback.MaxSlots = 0

	// MaxSlots is omitempty,min=1: a zero value is treated as absent and
	// skips validation (ApplyDefaults is what actually fills it in), so
	// this must NOT error by itself.
	if err := Validate(cfg); err != nil {
		t.Errorf("Expected zero MaxSlots to be skipped by omitempty, got error: %v", err)
	}
}

func TestValidate_NegativeMinTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Callback.MinTimeout = -1

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for non-positive min timeout")
	}
}
