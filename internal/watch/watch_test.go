package watch_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"discnorm/internal/logging"
	"discnorm/internal/pipeline"
	"discnorm/internal/storage"
	"discnorm/internal/watch"
)

type collector struct {
	mu     sync.Mutex
	groups []pipeline.Group
	ch     chan struct{}
}

func (c *collector) handle(_ context.Context, g pipeline.Group) {
	c.mu.Lock()
	c.groups = append(c.groups, g)
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func startWatcher(t *testing.T, dir string, opts watch.Options) (*collector, context.CancelFunc) {
	t.Helper()
	c := &collector{ch: make(chan struct{}, 16)}
	w := watch.New(dir, storage.NewLocal(""), opts, c.handle, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	})
	return c, cancel
}

func waitGroups(t *testing.T, c *collector, n int) []pipeline.Group {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-deadline:
			t.Fatalf("timed out waiting for %d groups", n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pipeline.Group(nil), c.groups...)
}

func TestWatcherGroupsSettledFiles(t *testing.T) {
	dir := t.TempDir()
	c, _ := startWatcher(t, dir, watch.Options{Settle: 100 * time.Millisecond})
	time.Sleep(50 * time.Millisecond)

	for _, name := range []string{"game.cue", "game.bin", ".partial"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	groups := waitGroups(t, c, 1)
	if len(groups) != 1 || groups[0].Name != "game" || len(groups[0].Files) != 2 {
		t.Fatalf("unexpected groups: %+v", groups)
	}
}

func TestWatcherQueuesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.zip", "b.zip"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	c, _ := startWatcher(t, dir, watch.Options{Settle: 50 * time.Millisecond, Initial: true})

	groups := waitGroups(t, c, 2)
	if groups[0].Name != "a" || groups[1].Name != "b" {
		t.Fatalf("unexpected groups: %+v", groups)
	}
}

func TestWatcherRequiresDirectory(t *testing.T) {
	w := watch.New(filepath.Join(t.TempDir(), "missing"), storage.NewLocal(""), watch.Options{}, func(context.Context, pipeline.Group) {}, logging.NewNop())
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
