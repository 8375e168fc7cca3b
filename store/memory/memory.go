// Package memory provides an in-memory implementation of the store interface.
// It backs the guard's session-scoped storage and doubles as the test fake
// for the durable store.
package memory

import (
	"context"
	"sync"

	"github.com/jmlago/sessionguard-go/store"
)

// Store implements store.Store with a map. Watch handlers are invoked
// synchronously from the mutating call, including for the store's own writes.
type Store struct {
	mu       sync.RWMutex
	items    map[string][]byte
	watchers map[int]func(store.Event)
	nextID   int
	closed   bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		items:    make(map[string][]byte),
		watchers: make(map[int]func(store.Event)),
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	data, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.items[key] = cp
	handlers := s.snapshotWatchersLocked()
	s.mu.Unlock()

	dispatch(handlers, store.Event{Key: key})
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	_, existed := s.items[key]
	delete(s.items, key)
	handlers := s.snapshotWatchersLocked()
	s.mu.Unlock()

	if existed {
		dispatch(handlers, store.Event{Key: key, Deleted: true})
	}
	return nil
}

func (s *Store) Watch(ctx context.Context, handler func(store.Event)) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, store.ErrClosed
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = handler
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return cancel, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.items = make(map[string][]byte)
	s.watchers = make(map[int]func(store.Event))
	s.mu.Unlock()
	return nil
}

// snapshotWatchersLocked copies the handler set so events can be delivered
// without holding the store lock. Handlers are free to call back into the
// store.
func (s *Store) snapshotWatchersLocked() []func(store.Event) {
	handlers := make([]func(store.Event), 0, len(s.watchers))
	for _, h := range s.watchers {
		handlers = append(handlers, h)
	}
	return handlers
}

func dispatch(handlers []func(store.Event), ev store.Event) {
	for _, h := range handlers {
		h(ev)
	}
}
