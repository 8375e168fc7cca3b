// Package file provides a file-backed implementation of the store interface.
// Each key is stored as a single file inside a state directory. Writes are
// atomic (temp file + rename) and an fsnotify watcher translates filesystem
// events into key-change events, so two processes sharing the same directory
// observe each other's logins and logouts.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/jmlago/sessionguard-go/store"
)

// ErrInvalidKey is returned for keys that cannot be mapped to a file name.
var ErrInvalidKey = errors.New("file: invalid key")

// Store implements store.Store on top of a directory of key files.
type Store struct {
	dir     string
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	watchers map[int]func(store.Event)
	nextID   int
	closed   bool

	done chan struct{}
}

var _ store.Store = (*Store)(nil)

// New creates the state directory if needed and starts the change watcher.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("file: create state dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("file: start watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("file: watch state dir: %w", err)
	}

	s := &Store{
		dir:      dir,
		watcher:  w,
		watchers: make(map[int]func(store.Event)),
		done:     make(chan struct{}),
	}
	go s.dispatchLoop()
	return s, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if s.isClosed() {
		return nil, store.ErrClosed
	}
	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read %s: %w", key, err)
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	tmp := filepath.Join(s.dir, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("file: write %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("file: commit %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return store.ErrClosed
	}
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("file: delete %s: %w", key, err)
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
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.watchers = make(map[int]func(store.Event))
	s.mu.Unlock()

	err := s.watcher.Close()
	<-s.done
	return err
}

// dispatchLoop fans filesystem events out to registered handlers. Temp files
// from in-flight atomic writes are skipped.
func (s *Store) dispatchLoop() {
	defer close(s.done)
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, ".") {
				continue
			}
			var out store.Event
			switch {
			case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
				out = store.Event{Key: name, Deleted: true}
			case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
				out = store.Event{Key: name}
			default:
				continue
			}
			s.mu.Lock()
			handlers := make([]func(store.Event), 0, len(s.watchers))
			for _, h := range s.watchers {
				handlers = append(handlers, h)
			}
			s.mu.Unlock()
			for _, h := range handlers {
				h(out)
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) keyPath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key), nil
}
