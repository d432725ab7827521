package config

import "testing"

func TestParseCSV(t *testing.T) {
	got := parseCSV("a, b, ,c,,")
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestParseAnyCSV(t *testing.T) {
	raw := []any{"x", " ", "y"}
	got := parseAnyCSV(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0] != "x" || got[1] != "y" {
		t.Fatalf("unexpected values: %#v", got)
	}
}

func TestLoadDefaultsBridgeSettings(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("CONFIG_PATH", "")
	cfg, _ := Load("bridge", 8091)
	if cfg.BridgePublishTimeoutMS != 5000 {
		t.Fatalf("expected default publish timeout 5000, got %d", cfg.BridgePublishTimeoutMS)
	}
	if cfg.BridgeBackoffMinMS != 1000 || cfg.BridgeBackoffMaxMS != 30000 {
		t.Fatalf("unexpected backoff bounds: %d..%d", cfg.BridgeBackoffMinMS, cfg.BridgeBackoffMaxMS)
	}
	if cfg.MQTTNamespace != "riverpulse" {
		t.Fatalf("expected namespace riverpulse, got %q", cfg.MQTTNamespace)
	}
	if !cfg.RegistryAutoRegister {
		t.Fatalf("expected auto-register policy to default on")
	}
}

func TestLoadRejectsInvertedBackoffBounds(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("BRIDGE_BACKOFF_MIN_MS", "5000")
	t.Setenv("BRIDGE_BACKOFF_MAX_MS", "1000")
	cfg, problems := Load("bridge", 8091)
	found := false
	for _, p := range problems {
		if p.Field == "BRIDGE_BACKOFF_MAX_MS" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a problem for BRIDGE_BACKOFF_MAX_MS, got %#v", problems)
	}
	if cfg.BridgeBackoffMaxMS != cfg.BridgeBackoffMinMS {
		t.Fatalf("expected max clamped to min, got %d..%d", cfg.BridgeBackoffMinMS, cfg.BridgeBackoffMaxMS)
	}
}
