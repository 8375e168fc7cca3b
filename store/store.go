// Package store defines the client storage contract the session guard uses to
// persist authentication state across restarts and to observe changes made by
// other holders of the same store (another process, another tab, another
// instance of the application).
//
// The contract intentionally stays small: a flat key/value surface plus a
// change watch. Implementations exist for in-memory use (tests and
// session-scoped state), a file-backed directory (single-machine durability
// with cross-process change notification), and Redis (shared durability with
// pub/sub change notification).
package store

import (
	"context"
	"errors"
)

// Well-known keys written and watched by the session guard.
const (
	// KeyAccessToken holds the raw bearer token string.
	KeyAccessToken = "access_token"

	// KeyUserData holds the JSON-serialized canonical user profile.
	KeyUserData = "user_data"

	// KeySelectedCompany holds the affiliation code chosen by an elevated
	// role with multi-company visibility.
	KeySelectedCompany = "selected_company"

	// KeyCompanyOverride is the transient affiliation override. It only ever
	// lives in a session-scoped store and is never persisted durably.
	KeyCompanyOverride = "session_company_override"
)

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("store: closed")

// Event describes an observed change to a single key.
type Event struct {
	// Key is the key that changed.
	Key string
	// Deleted is true when the key was removed rather than written.
	Deleted bool
}

// Store is a durable key/value surface with change observation.
//
// Get returns (nil, nil) when the key is absent; errors are reserved for
// legitimate storage failures. Watch registers a handler for key-change
// events originating from any writer of the same underlying store. Whether a
// store delivers events for its own writes back to its own handlers is
// implementation-defined; consumers must tolerate both. The returned cancel
// func deregisters the handler and is safe to call more than once.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Watch(ctx context.Context, handler func(Event)) (cancel func(), err error)
	Close() error
}
