package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	path := writeConfig(t, "aging:\n  enabled: true\n")
	initial, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	reloaded := make(chan [2]*Config, 4)
	w := NewWatcher(path, initial, func(prev, next *Config) {
		reloaded <- [2]*Config{prev, next}
	})
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)

	// An invalid file is ignored.
	os.WriteFile(path, []byte("store:\n  backend: postgres\n"), 0644)
	time.Sleep(200 * time.Millisecond)
	select {
	case <-reloaded:
		t.Fatal("invalid configuration was applied")
	default:
	}

	os.WriteFile(path, []byte("aging:\n  enabled: false\ntelemetry:\n  logging:\n    level: debug\n"), 0644)

	select {
	case pair := <-reloaded:
		if pair[0] != initial {
			t.Error("prev should be the initial configuration")
		}
		if pair[1].Aging.Enabled || pair[1].Telemetry.Logging.Level != "debug" {
			t.Errorf("next = %+v", pair[1])
		}
		if w.Current() != pair[1] {
			t.Error("Current() should return the reloaded configuration")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after file change")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch() did not return after cancel")
	}
}
