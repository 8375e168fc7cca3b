package sessionguard

import (
	"log/slog"
	"net/http"

	"github.com/benbjohnson/clock"

	"github.com/jmlago/sessionguard-go/store"
)

// Option configures a Guard at construction time.
type Option func(*Guard)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.log = logger
	}
}

// WithClock injects the clock driving every timer. Tests pass a mock to run
// the lifecycle on virtual time. Defaults to the wall clock.
func WithClock(c clock.Clock) Option {
	return func(g *Guard) {
		g.clock = c
	}
}

// WithHTTPClient sets the HTTP client used for every request against the
// endpoint group, overriding the Config.RequestTimeout default.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Guard) {
		g.httpClient = c
	}
}

// WithSessionStore overrides the session-scoped store holding the transient
// company override. Defaults to a fresh in-memory store per guard, matching
// the key's never-persisted lifecycle.
func WithSessionStore(s store.Store) Option {
	return func(g *Guard) {
		g.session = s
	}
}

// WithOnTerminated registers the teardown hook. It is invoked once per
// session death with the tagged reason, after local state is already clear;
// a UI typically navigates to its login view here.
func WithOnTerminated(fn func(Reason)) Option {
	return func(g *Guard) {
		g.onTerminated = fn
	}
}
