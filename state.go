package sessionguard

// State is the guard's lifecycle state. Timers only run while the guard is
// authenticated.
type State int

const (
	// StateLoggedOut is the initial state and the only terminal one; it is
	// re-enterable from every other state.
	StateLoggedOut State = iota

	// StateLoggingIn covers the window between submitting credentials and
	// the backend's answer.
	StateLoggingIn

	// StateAuthenticated is the only state in which timers run.
	StateAuthenticated

	// StateRefreshPending is the self-loop through a scheduled refresh: the
	// session is still live, a replacement token is in flight.
	StateRefreshPending
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateLoggingIn:
		return "logging_in"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshPending:
		return "refresh_pending"
	default:
		return "unknown"
	}
}

// Reason tags a session teardown. It is what a UI would append to its login
// route to explain the forced navigation.
type Reason string

const (
	// ReasonLogout is an explicit local Logout call.
	ReasonLogout Reason = "logout"

	// ReasonExpired is the expiry watch firing with no superseding refresh.
	ReasonExpired Reason = "expired"

	// ReasonInactivity is the inactivity watchdog exceeding the configured
	// maximum.
	ReasonInactivity Reason = "inactivity"

	// ReasonRefreshFailed is a failed scheduled refresh. The token was close
	// to expiry; continuing would only defer an identical failure.
	ReasonRefreshFailed Reason = "refresh_failed"

	// ReasonVerifyFailed is a negative liveness check.
	ReasonVerifyFailed Reason = "verify_failed"

	// ReasonExternal is another holder of the shared store clearing the
	// token (another tab or process logging out).
	ReasonExternal Reason = "external"
)
