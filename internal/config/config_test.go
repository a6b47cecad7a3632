package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPPort != "8090" {
		t.Errorf("default port = %q", cfg.HTTPPort)
	}
	if cfg.QuickScanCron != "*/30 * * * *" {
		t.Errorf("default quick cron = %q", cfg.QuickScanCron)
	}
	if cfg.FullScanCron != "0 */6 * * *" {
		t.Errorf("default full cron = %q", cfg.FullScanCron)
	}
	if cfg.BridgeRetries != 3 {
		t.Errorf("default retries = %d", cfg.BridgeRetries)
	}
	if cfg.BridgeTimeout != 30*time.Second {
		t.Errorf("default timeout = %v", cfg.BridgeTimeout)
	}
	if cfg.DefaultConfidence != 0.5 {
		t.Errorf("default confidence = %v", cfg.DefaultConfidence)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BRIDGE_TIMEOUT_MS", "5000")
	t.Setenv("BRIDGE_RETRIES", "5")
	t.Setenv("ENHANCE_DEFAULT_CONFIDENCE", "0.7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BridgeTimeout != 5*time.Second {
		t.Errorf("timeout = %v", cfg.BridgeTimeout)
	}
	if cfg.BridgeRetries != 5 {
		t.Errorf("retries = %d", cfg.BridgeRetries)
	}
	if cfg.DefaultConfidence != 0.7 {
		t.Errorf("confidence = %v", cfg.DefaultConfidence)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("BRIDGE_RETRIES", "zero")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric BRIDGE_RETRIES")
	}

	t.Setenv("BRIDGE_RETRIES", "3")
	t.Setenv("ENHANCE_DEFAULT_CONFIDENCE", "1.5")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for out-of-range confidence")
	}
}
