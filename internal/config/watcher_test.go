package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alicecore.yaml")
	writeConfigFile(t, path, "server:\n  listen_addr: \":7777\"\n")

	w, err := NewWatcher(path, nil, WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.ListenAddr; got != ":7777" {
		t.Fatalf("listen_addr = %q, want :7777", got)
	}
}

func TestWatcher_InvalidInitialConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alicecore.yaml")
	writeConfigFile(t, path, "server:\n  log_level: loud\n")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("want error for invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alicecore.yaml")
	writeConfigFile(t, path, "server:\n  log_level: info\n")

	changed := make(chan *Config, 1)
	w, err := NewWatcher(path, func(old, new *Config) {
		changed <- new
	}, WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Backdate the mtime comparison by ensuring the rewrite happens after
	// the initial load's timestamp granularity.
	time.Sleep(30 * time.Millisecond)
	writeConfigFile(t, path, "server:\n  log_level: debug\n")

	select {
	case cfg := <-changed:
		if cfg.Server.LogLevel != LogDebug {
			t.Fatalf("log_level = %q, want debug", cfg.Server.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change callback")
	}

	if w.Current().Server.LogLevel != LogDebug {
		t.Fatal("Current not updated after reload")
	}
}

func TestWatcher_KeepsOldConfigOnInvalidEdit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alicecore.yaml")
	writeConfigFile(t, path, "server:\n  log_level: info\n")

	w, err := NewWatcher(path, nil, WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(30 * time.Millisecond)
	writeConfigFile(t, path, "server:\n  log_level: loud\n")
	time.Sleep(100 * time.Millisecond)

	if got := w.Current().Server.LogLevel; got != LogInfo {
		t.Fatalf("log_level = %q, want the previous valid value", got)
	}
}
