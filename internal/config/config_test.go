package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.DefaultCols != 80 || cfg.DefaultRows != 24 {
		t.Fatalf("unexpected default geometry: %dx%d", cfg.DefaultCols, cfg.DefaultRows)
	}
	if cfg.QuiescenceWindow != 200*time.Millisecond {
		t.Fatalf("expected 200ms quiescence window, got %v", cfg.QuiescenceWindow)
	}
	if cfg.ScrollbackLines != 20000 {
		t.Fatalf("expected 20000 scrollback lines, got %d", cfg.ScrollbackLines)
	}
	if cfg.SubscriberQueueCapacity != 1024 {
		t.Fatalf("expected 1024 subscriber queue capacity, got %d", cfg.SubscriberQueueCapacity)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	os.Setenv("HTTY_DEFAULT_COLS", "132")
	os.Setenv("HTTY_QUIESCENCE_WINDOW_MS", "50")
	defer os.Unsetenv("HTTY_DEFAULT_COLS")
	defer os.Unsetenv("HTTY_QUIESCENCE_WINDOW_MS")

	cfg := Load()
	if cfg.DefaultCols != 132 {
		t.Fatalf("expected DefaultCols=132, got %d", cfg.DefaultCols)
	}
	if cfg.QuiescenceWindow != 50*time.Millisecond {
		t.Fatalf("expected 50ms quiescence window, got %v", cfg.QuiescenceWindow)
	}
}

func TestTestSpawnOverrideReadsEnv(t *testing.T) {
	if got := TestSpawnOverride(); got != "" {
		t.Fatalf("expected empty override by default, got %q", got)
	}
	os.Setenv("HTTY_TEST_SPAWN_PROGRAM", "/bin/true")
	defer os.Unsetenv("HTTY_TEST_SPAWN_PROGRAM")
	if got := TestSpawnOverride(); got != "/bin/true" {
		t.Fatalf("expected /bin/true, got %q", got)
	}
}
