package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TICK_INTERVAL_MS", "")
	t.Setenv("ALLOWED_ORIGINS", "")

	cfg := Load()
	if cfg.TickInterval != time.Second {
		t.Fatalf("TickInterval = %s, want 1s", cfg.TickInterval)
	}
	if cfg.AllowedOrigins != nil {
		t.Fatalf("AllowedOrigins = %v, want nil", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TICK_INTERVAL_MS", "250")
	t.Setenv("PERSIST_TIMEOUT_SECONDS", "bogus")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg := Load()
	if cfg.TickInterval != 250*time.Millisecond {
		t.Fatalf("TickInterval = %s", cfg.TickInterval)
	}
	if cfg.PersistTimeout != 10*time.Second {
		t.Fatalf("PersistTimeout = %s, want fallback", cfg.PersistTimeout)
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}
