package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/atlas/internal/config"
)

func writeConfig(t *testing.T, path, body string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_ReportsValidChanges(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "atlas.yaml")
	base := time.Now().Add(-time.Hour)
	writeConfig(t, path, "server:\n  log_level: info\n", base)

	var (
		mu      sync.Mutex
		changes []config.Changes
	)
	w, err := config.NewWatcher(path, func(_, _ *config.Config, c config.Changes) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.Initial().Server.LogLevel != config.LogInfo {
		t.Fatalf("initial log level = %q", w.Initial().Server.LogLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// An invalid edit is ignored.
	writeConfig(t, path, "server:\n  log_level: shouting\n", base.Add(time.Minute))
	time.Sleep(50 * time.Millisecond)

	writeConfig(t, path, "server:\n  log_level: debug\n", base.Add(2*time.Minute))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(changes)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 {
		t.Fatalf("got %d change callbacks, want 1", len(changes))
	}
	if !changes[0].LogLevelChanged || changes[0].NewLogLevel != config.LogDebug {
		t.Errorf("change = %+v", changes[0])
	}
}

func TestNewWatcher_InvalidInitialConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "atlas.yaml")
	writeConfig(t, path, "bogus: true\n", time.Now())
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}
