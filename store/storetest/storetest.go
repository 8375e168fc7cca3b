// Package storetest provides a reusable conformance suite for store.Store
// implementations. Backend test packages call Run with a factory that builds
// a fresh store per subtest.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmlago/sessionguard-go/store"
)

// Factory builds a fresh, empty store. Cleanup is handled via t.Cleanup.
type Factory func(t *testing.T) store.Store

// Run exercises the store.Store contract against the given factory.
func Run(t *testing.T, factory Factory) {
	t.Run("GetAbsent", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		data, err := s.Get(ctx, "missing")
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if data != nil {
			t.Fatalf("Get() for absent key returned %q, want nil", data)
		}
	})

	t.Run("SetGetRoundTrip", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		if err := s.Set(ctx, store.KeyAccessToken, []byte("tok-1")); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
		data, err := s.Get(ctx, store.KeyAccessToken)
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if string(data) != "tok-1" {
			t.Fatalf("Get() = %q, want %q", data, "tok-1")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		if err := s.Set(ctx, "k", []byte("v1")); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
		if err := s.Set(ctx, "k", []byte("v2")); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
		data, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		if string(data) != "v2" {
			t.Fatalf("Get() = %q, want %q", data, "v2")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		if err := s.Set(ctx, "k", []byte("v")); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
		if err := s.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete() failed: %v", err)
		}
		data, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get() after Delete failed: %v", err)
		}
		if data != nil {
			t.Fatalf("Get() after Delete = %q, want nil", data)
		}
	})

	t.Run("DeleteAbsent", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		if err := s.Delete(ctx, "never-set"); err != nil {
			t.Fatalf("Delete() of absent key failed: %v", err)
		}
	})

	t.Run("WatchObservesWriteAndDelete", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		rec := newRecorder()
		cancel, err := s.Watch(ctx, rec.handle)
		if err != nil {
			t.Fatalf("Watch() failed: %v", err)
		}
		defer cancel()

		if err := s.Set(ctx, store.KeyAccessToken, []byte("tok")); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}
		waitForEvent(t, rec, store.Event{Key: store.KeyAccessToken})

		if err := s.Delete(ctx, store.KeyAccessToken); err != nil {
			t.Fatalf("Delete() failed: %v", err)
		}
		waitForEvent(t, rec, store.Event{Key: store.KeyAccessToken, Deleted: true})
	})

	t.Run("WatchCancelStopsDelivery", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		rec := newRecorder()
		cancel, err := s.Watch(ctx, rec.handle)
		if err != nil {
			t.Fatalf("Watch() failed: %v", err)
		}
		cancel()
		cancel() // safe to call twice

		if err := s.Set(ctx, "k", []byte("v")); err != nil {
			t.Fatalf("Set() failed: %v", err)
		}

		// Give async backends a moment to (incorrectly) deliver.
		time.Sleep(100 * time.Millisecond)
		if rec.count() != 0 {
			t.Fatalf("handler received %d events after cancel, want 0", rec.count())
		}
	})
}

type recorder struct {
	mu     sync.Mutex
	events []store.Event
}

func newRecorder() *recorder { return &recorder{} }

func (r *recorder) handle(ev store.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) has(want store.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev == want {
			return true
		}
	}
	return false
}

// waitForEvent polls for an event, tolerating backends that deliver
// asynchronously (fsnotify, pub/sub).
func waitForEvent(t *testing.T, rec *recorder, want store.Event) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if rec.has(want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event %+v", want)
}
