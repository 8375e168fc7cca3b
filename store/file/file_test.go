package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmlago/sessionguard-go/store"
	"github.com/jmlago/sessionguard-go/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := New(t.TempDir())
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestRejectsUnsafeKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	for _, key := range []string{"", "../escape", "a/b", `a\b`, ".hidden"} {
		if err := s.Set(ctx, key, []byte("v")); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("Set(%q) = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	ctx := context.Background()
	if _, err := s.Get(ctx, store.KeyAccessToken); err != store.ErrClosed {
		t.Fatalf("Get() after close = %v, want ErrClosed", err)
	}
	if err := s.Set(ctx, store.KeyAccessToken, []byte("x")); err != store.ErrClosed {
		t.Fatalf("Set() after close = %v, want ErrClosed", err)
	}
	if err := s.Delete(ctx, store.KeyAccessToken); err != store.ErrClosed {
		t.Fatalf("Delete() after close = %v, want ErrClosed", err)
	}
	if _, err := s.Watch(ctx, func(store.Event) {}); err != store.ErrClosed {
		t.Fatalf("Watch() after close = %v, want ErrClosed", err)
	}
}

func TestObservesExternalWriter(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	other, err := New(dir)
	if err != nil {
		t.Fatalf("New() for second store failed: %v", err)
	}
	defer other.Close()

	ctx := context.Background()
	events := make(chan store.Event, 16)
	cancel, err := s.Watch(ctx, func(ev store.Event) { events <- ev })
	if err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}
	defer cancel()

	// A second store instance sharing the directory stands in for another
	// process holding the same state.
	if err := other.Set(ctx, store.KeyAccessToken, []byte("tok")); err != nil {
		t.Fatalf("Set() via second store failed: %v", err)
	}

	waitFor(t, events, store.Event{Key: store.KeyAccessToken})

	if err := other.Delete(ctx, store.KeyAccessToken); err != nil {
		t.Fatalf("Delete() via second store failed: %v", err)
	}

	waitFor(t, events, store.Event{Key: store.KeyAccessToken, Deleted: true})
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := s.Set(ctx, "k", []byte("payload")); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "k" {
			t.Fatalf("unexpected file %s in state dir", filepath.Join(dir, e.Name()))
		}
	}
}

// waitFor drains events until the wanted one arrives; fsnotify delivery is
// fast but not synchronous.
func waitFor(t *testing.T, events <-chan store.Event, want store.Event) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event %+v", want)
		}
	}
}
