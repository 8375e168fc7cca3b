// Package sessionguard manages the lifecycle of an authenticated session
// against a token-issuing backend: it logs in, keeps the token fresh, decides
// when a session must end, and keeps multiple holders of the same credential
// store in agreement.
//
// A Guard runs four watches over a live session:
//
//   - a scheduled refresh one minute before the granted lifetime ends
//     (never sooner than thirty seconds after grant), whose failure ends
//     the session;
//   - an expiry watch driven by the token's own expiry claim, decoded
//     without signature verification since the guard only schedules against
//     it and never trusts it for authorization;
//   - an inactivity watchdog that logs the user out after a configurable
//     idle period, re-armed by Touch on every user interaction;
//   - a low-priority heartbeat that renews the token while the user is
//     active, skips idle sessions, and tolerates failure.
//
// Sessions persist across restarts through a store.Store. The guard watches
// the store for an external clearing of the token, so a logout performed by
// any holder of the same store ends every session derived from it. Memory,
// file and Redis-backed stores ship in subpackages.
//
// Construct a Guard from environment configuration:
//
//	cfg, err := sessionguard.ConfigFromEnv()
//	if err != nil {
//		log.Fatal(err)
//	}
//	g, err := sessionguard.New(cfg, st,
//		sessionguard.WithOnTerminated(func(r sessionguard.Reason) {
//			// return the UI to the login screen
//		}),
//	)
package sessionguard
