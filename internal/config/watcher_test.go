package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherReportsConfigWrites(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(ConfigPath(home), []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(home, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	if err := os.WriteFile(ConfigPath(home), []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev, ok := <-w.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		if ev.Path != ConfigPath(home) {
			t.Fatalf("event path = %q, want %q", ev.Path, ConfigPath(home))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload event after config write")
	}
}

func TestWatcherClosesOnCancel(t *testing.T) {
	home := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	w := NewWatcher(home, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	cancel()

	select {
	case _, ok := <-w.Events():
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("events channel not closed after cancel")
	}
}
