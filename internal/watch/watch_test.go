package watch

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Debounce = 100 * time.Millisecond
	return cfg
}

// TestNew verifies constructor validation.
func TestNew(t *testing.T) {
	noop := func(context.Context, []string) error { return nil }

	if _, err := New(t.TempDir(), nil, nil); err == nil {
		t.Error("New() with nil sync function should fail")
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing"), noop, nil); err == nil {
		t.Error("New() on a missing directory should fail")
	}
	w, err := New(t.TempDir(), noop, &Config{})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if w.config.Debounce != DefaultConfig().Debounce {
		t.Errorf("Debounce = %v, want default", w.config.Debounce)
	}
}

// TestReadyWaitsForQuiet verifies debouncing of queued paths.
func TestReadyWaitsForQuiet(t *testing.T) {
	w, err := New(t.TempDir(), func(context.Context, []string) error { return nil }, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	now := time.Now()
	w.queue("b.txt", now)
	w.queue("a.txt", now.Add(50*time.Millisecond))

	if got := w.ready(now.Add(100 * time.Millisecond)); got != nil {
		t.Errorf("ready() before quiet period = %v, want nil", got)
	}
	got := w.ready(now.Add(200 * time.Millisecond))
	if want := []string{"a.txt", "b.txt"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ready() = %v, want %v", got, want)
	}
	if got := w.ready(now.Add(time.Second)); got != nil {
		t.Errorf("queue not cleared: %v", got)
	}
}

// TestRelativeSkipsIgnored verifies that .git paths never reach the queue.
func TestRelativeSkipsIgnored(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, func(context.Context, []string) error { return nil }, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{filepath.Join(root, "notes.txt"), "notes.txt", true},
		{filepath.Join(root, "docs", "intro.md"), "docs/intro.md", true},
		{filepath.Join(root, ".git", "index"), "", false},
		{filepath.Join(root, ".git", "refs", "heads", "main"), "", false},
		{root, "", false},
		{filepath.Join(filepath.Dir(root), "elsewhere"), "", false},
	}
	for _, tt := range tests {
		got, ok := w.relative(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("relative(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

// TestRunBatchesChanges verifies that a burst of writes produces one sync.
func TestRunBatchesChanges(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0755); err != nil {
		t.Fatalf("Failed to create .git: %v", err)
	}

	var mu sync.Mutex
	var batches [][]string
	fn := func(_ context.Context, changed []string) error {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, changed)
		return nil
	}
	w, err := New(root, fn, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the tree.
	time.Sleep(100 * time.Millisecond)
	for _, name := range []string{"a.txt", "b.txt", filepath.Join(".git", "index")} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && w.Syncs() == 0 {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1: %v", len(batches), batches)
	}
	if want := []string{"a.txt", "b.txt"}; !reflect.DeepEqual(batches[0], want) {
		t.Errorf("batch = %v, want %v", batches[0], want)
	}
}
