package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "DEBUG"

metrics:
  enabled: true
  port: 9191

callback:
  max_slots: 2
  max_retries: 5
  delay_retry_interval: 500ms
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected log level DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text' to fill in, got %q", cfg.Logging.Format)
	}
	if cfg.Metrics.Port != 9191 {
		t.Errorf("Expected metrics port 9191, got %d", cfg.Metrics.Port)
	}
	if cfg.Callback.MaxSlots != 2 {
		t.Errorf("Expected max slots 2, got %d", cfg.Callback.MaxSlots)
	}
	if cfg.Callback.DelayRetryInterval != 500*time.Millisecond {
		t.Errorf("Expected delay retry interval 500ms, got %v", cfg.Callback.DelayRetryInterval)
	}
	if cfg.Callback.MinTimeout != time.Second {
		t.Errorf("Expected default min timeout 1s to fill in, got %v", cfg.Callback.MinTimeout)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error for missing config file, got: %v", err)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level INFO, got %q", cfg.Logging.Level)
	}
}

func TestLoad_InvalidConfigFails(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "NOT_A_LEVEL"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
}

func TestSaveAndReloadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Logging.Level = "WARN"
	cfg.Callback.MaxSlots = 4

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	reloaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if reloaded.Logging.Level != "WARN" {
		t.Errorf("Expected reloaded log level WARN, got %q", reloaded.Logging.Level)
	}
	if reloaded.Callback.MaxSlots != 4 {
		t.Errorf("Expected reloaded max slots 4, got %d", reloaded.Callback.MaxSlots)
	}
}

func TestMustLoad_MissingExplicitFileErrors(t *testing.T) {
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	if _, err := MustLoad(nonExistentPath); err == nil {
		t.Fatal("Expected error for missing explicit config file")
	}
}
