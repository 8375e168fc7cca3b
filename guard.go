package sessionguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/jmlago/sessionguard-go/authapi"
	"github.com/jmlago/sessionguard-go/identity"
	"github.com/jmlago/sessionguard-go/internal/logctx"
	"github.com/jmlago/sessionguard-go/internal/tokenclaims"
	"github.com/jmlago/sessionguard-go/store"
	"github.com/jmlago/sessionguard-go/store/memory"
)

var (
	// ErrLoginInProgress indicates a concurrent Login call has not resolved
	// yet.
	ErrLoginInProgress = errors.New("sessionguard: login already in progress")

	// ErrSuperseded indicates the operation's response arrived after the
	// session it belonged to was torn down or replaced; the result was
	// discarded.
	ErrSuperseded = errors.New("sessionguard: session superseded")

	// ErrTokenExpired indicates the granted token's expiry claim was already
	// in the past.
	ErrTokenExpired = errors.New("sessionguard: token already expired")

	// ErrNotAuthenticated indicates the operation needs a live session.
	ErrNotAuthenticated = errors.New("sessionguard: not authenticated")

	// ErrNotElevated indicates the operation is reserved for elevated roles.
	ErrNotElevated = errors.New("sessionguard: role not elevated")
)

// Guard owns the access-token lifecycle for one application instance: it
// schedules proactive refresh before expiry, watches for hard expiry,
// enforces the inactivity timeout, heartbeats the backend while the user is
// active, and observes the shared store for logouts performed elsewhere.
//
// All mutation of session state is serialized through the guard; no network
// call ever holds the lock. A generation counter makes work from a dead
// session a no-op, and a token epoch does the same for work pinned to a
// replaced token within a live session, so token and user are always
// replaced together, last writer wins.
type Guard struct {
	id      string
	api     *authapi.Client
	store   store.Store
	session store.Store
	log     *slog.Logger
	clock   clock.Clock

	httpClient   *http.Client
	onTerminated func(Reason)

	maxInactivity     time.Duration
	heartbeatInterval time.Duration

	mu           sync.Mutex
	state        State
	gen          uint64
	tokenEpoch   uint64
	token        string
	user         *identity.User
	expiresAt    time.Time
	lastActivity time.Time
	selected     string // elevated-role company selection, mirrors the store

	refreshTimer    *clock.Timer
	expiryTimer     *clock.Timer
	inactivityTimer *clock.Timer
	heartbeatTimer  *clock.Timer
	unwatch         func()
}

// New creates a Guard over the given durable store. The guard starts logged
// out; call Login or Resume to establish a session.
func New(cfg Config, st store.Store, opts ...Option) (*Guard, error) {
	if st == nil {
		return nil, fmt.Errorf("sessionguard: store is required")
	}
	if cfg.MaxInactivity <= 0 {
		cfg.MaxInactivity = DefaultMaxInactivity
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	g := &Guard{
		id:                uuid.NewString(),
		store:             st,
		clock:             clock.New(),
		state:             StateLoggedOut,
		maxInactivity:     cfg.MaxInactivity,
		heartbeatInterval: cfg.HeartbeatInterval,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.log == nil {
		g.log = slog.Default()
	}
	g.log = slog.New(logctx.Handler{Handler: g.log.Handler()})

	if g.session == nil {
		g.session = memory.New()
	}

	httpClient := g.httpClient
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	api, err := authapi.New(authapi.Config{
		BaseURL:    cfg.BaseURL,
		HTTPClient: httpClient,
		Logger:     g.log,
	})
	if err != nil {
		return nil, err
	}
	g.api = api

	return g, nil
}

// Login submits the credential pair and, on success, populates the session,
// persists it, and arms refresh scheduling, expiry watch, inactivity
// tracking and heartbeat. On failure any partial state is cleared and the
// classified error is returned for inline display.
func (g *Guard) Login(ctx context.Context, identifier, secret string) error {
	g.mu.Lock()
	if g.state == StateLoggingIn {
		g.mu.Unlock()
		return ErrLoginInProgress
	}
	unwatch := g.resetLocked()
	g.state = StateLoggingIn
	gen := g.gen
	g.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}

	ctx = g.decorate(ctx)
	grant, err := g.api.Login(ctx, identifier, secret)
	if err != nil {
		g.mu.Lock()
		if g.gen == gen {
			g.state = StateLoggedOut
		}
		g.mu.Unlock()
		g.clearStorage(ctx)
		return err
	}

	// A fresh login never inherits a previous session's override.
	if err := g.session.Delete(ctx, store.KeyCompanyOverride); err != nil {
		g.log.WarnContext(ctx, "clear company override", slog.String("err", err.Error()))
	}

	return g.install(ctx, gen, grant, true)
}

// Resume hydrates a session from the durable store: a previously saved
// token/user pair that still passes the backend liveness check is installed
// exactly as a login would be. It reports whether a session was restored.
func (g *Guard) Resume(ctx context.Context) (bool, error) {
	g.mu.Lock()
	if g.state != StateLoggedOut {
		g.mu.Unlock()
		return true, nil
	}
	gen := g.gen
	g.mu.Unlock()

	ctx = g.decorate(ctx)

	token, err := g.store.Get(ctx, store.KeyAccessToken)
	if err != nil {
		return false, err
	}
	userData, err := g.store.Get(ctx, store.KeyUserData)
	if err != nil {
		return false, err
	}

	// Token and user only exist as a pair; an orphan of either means
	// logged out.
	if len(token) == 0 || len(userData) == 0 {
		if len(token) != 0 || len(userData) != 0 {
			g.clearStorage(ctx)
		}
		return false, nil
	}

	var user identity.User
	if err := json.Unmarshal(userData, &user); err != nil {
		g.log.WarnContext(ctx, "stored profile unreadable, discarding session", slog.String("err", err.Error()))
		g.clearStorage(ctx)
		return false, nil
	}

	live, err := g.api.Verify(ctx, string(token))
	if err != nil {
		// Transport failure: leave the stored session in place so a retry
		// can succeed once the network is back.
		return false, err
	}
	if !live {
		g.clearStorage(ctx)
		return false, nil
	}

	grant := &authapi.Grant{Token: string(token), User: user}
	// No backend-declared lifetime on this path; the expiry claim stands in
	// and the refresh clamp covers tokens with no readable claim.
	if exp, err := tokenclaims.ExpiresAt(grant.Token); err == nil {
		grant.ExpiresIn = exp.Sub(g.clock.Now())
	}

	if user.Role.Elevated() {
		if sel, err := g.store.Get(ctx, store.KeySelectedCompany); err == nil && len(sel) > 0 {
			g.mu.Lock()
			g.selected = string(sel)
			g.mu.Unlock()
		}
	}

	if err := g.install(ctx, gen, grant, false); err != nil {
		return false, err
	}
	return true, nil
}

// Logout tears the session down: every timer handle is cleared, the durable
// keys are removed, the backend is notified best-effort. Safe to call when
// already logged out.
func (g *Guard) Logout(ctx context.Context) error {
	g.teardown(g.decorate(ctx), 0, 0, ReasonLogout, true, true)
	return nil
}

// CheckAuth reports session liveness. Without a token it is false
// immediately; otherwise the backend verify decides, and a negative answer
// triggers the same teardown as a logout before returning false.
func (g *Guard) CheckAuth(ctx context.Context) bool {
	g.mu.Lock()
	token := g.token
	gen := g.gen
	epoch := g.tokenEpoch
	g.mu.Unlock()
	if token == "" {
		return false
	}

	ctx = g.decorate(ctx)
	live, err := g.api.Verify(ctx, token)
	if err != nil || !live {
		if err != nil {
			g.log.WarnContext(ctx, "verify failed", slog.String("err", err.Error()))
		}
		g.teardown(ctx, gen, epoch, ReasonVerifyFailed, true, false)
		return false
	}
	return true
}

// Touch records a user interaction: it stamps the activity clock and re-arms
// the inactivity watchdog. The embedding application calls this from its
// input events (click, keystroke, scroll, touch).
func (g *Guard) Touch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateAuthenticated && g.state != StateRefreshPending {
		return
	}
	g.lastActivity = g.clock.Now()
	g.armInactivityLocked()
}

// Token returns the current bearer token, or "" when logged out.
func (g *Guard) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token
}

// User returns a copy of the current profile, or nil when logged out.
func (g *Guard) User() *identity.User {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.user == nil {
		return nil
	}
	u := *g.user
	return &u
}

// State returns the guard's lifecycle state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Company returns the effective affiliation code: the session-scoped
// selection for elevated roles, the profile affiliation otherwise.
func (g *Guard) Company() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.user == nil {
		return ""
	}
	if g.user.Role.Elevated() && g.selected != "" {
		return g.selected
	}
	return g.user.Company
}

// SelectCompany switches the effective affiliation for an elevated role. The
// choice is persisted durably and mirrored into the session-scoped override.
func (g *Guard) SelectCompany(ctx context.Context, code string) error {
	g.mu.Lock()
	if g.user == nil {
		g.mu.Unlock()
		return ErrNotAuthenticated
	}
	if !g.user.Role.Elevated() {
		g.mu.Unlock()
		return ErrNotElevated
	}
	g.selected = code
	g.mu.Unlock()

	ctx = g.decorate(ctx)
	if err := g.session.Set(ctx, store.KeyCompanyOverride, []byte(code)); err != nil {
		return err
	}
	if err := g.store.Set(ctx, store.KeySelectedCompany, []byte(code)); err != nil {
		return err
	}
	return nil
}

// --- session install & teardown ---

// install populates the session from a grant, persists it and arms every
// timer. gen must be the generation observed before the network call that
// produced the grant.
func (g *Guard) install(ctx context.Context, gen uint64, grant *authapi.Grant, fresh bool) error {
	expiresAt, expErr := tokenclaims.ExpiresAt(grant.Token)
	if expErr != nil {
		// Advisory decode only: an opaque or malformed token simply runs
		// without an expiry watch until a refresh or verify call fails.
		g.log.DebugContext(ctx, "token expiry claim unreadable", slog.String("err", expErr.Error()))
	}

	g.mu.Lock()
	if g.gen != gen {
		g.mu.Unlock()
		return ErrSuperseded
	}

	now := g.clock.Now()
	if expErr == nil && !expiresAt.After(now) {
		g.state = StateLoggedOut
		g.mu.Unlock()
		g.clearStorage(ctx)
		return fmt.Errorf("%w: expired %s ago", ErrTokenExpired, now.Sub(expiresAt))
	}

	g.tokenEpoch++
	g.token = grant.Token
	u := grant.User
	g.user = &u
	if expErr == nil {
		g.expiresAt = expiresAt
	} else {
		g.expiresAt = time.Time{}
	}
	g.lastActivity = now
	g.state = StateAuthenticated
	if fresh {
		g.selected = ""
	}

	g.armRefreshLocked(grant.ExpiresIn)
	g.armExpiryLocked()
	g.armInactivityLocked()
	g.armHeartbeatLocked()
	g.mu.Unlock()

	g.startWatch(ctx)
	g.persist(ctx, grant)

	g.log.InfoContext(ctx, "session established",
		slog.String("user_id", grant.User.ID),
		slog.String("role", grant.User.Role.String()),
		slog.Duration("lifetime", grant.ExpiresIn),
	)
	return nil
}

// persist writes the token/user pair to the durable store. Storage failures
// degrade durability, not the live session; they are logged and tolerated.
func (g *Guard) persist(ctx context.Context, grant *authapi.Grant) {
	if err := g.store.Set(ctx, store.KeyAccessToken, []byte(grant.Token)); err != nil {
		g.log.WarnContext(ctx, "persist token", slog.String("err", err.Error()))
		return
	}
	userData, err := json.Marshal(grant.User)
	if err != nil {
		g.log.WarnContext(ctx, "encode profile", slog.String("err", err.Error()))
		return
	}
	if err := g.store.Set(ctx, store.KeyUserData, userData); err != nil {
		g.log.WarnContext(ctx, "persist profile", slog.String("err", err.Error()))
	}
}

// teardown is the single exit path for a session. gen of zero forces the
// teardown regardless of generation; callers racing a completed refresh pass
// the generation they observed so a superseded firing becomes a no-op.
// Callers whose verdict is pinned to one token instance also pass the epoch
// they observed: a renewal bumps the epoch, so a timer that already fired
// against the old token cannot destroy the session the renewal installed.
// Stop alone cannot cancel a fired-but-not-yet-run callback.
func (g *Guard) teardown(ctx context.Context, gen, epoch uint64, reason Reason, clearStore, notify bool) {
	g.mu.Lock()
	if gen != 0 && g.gen != gen {
		g.mu.Unlock()
		return
	}
	if epoch != 0 && g.tokenEpoch != epoch {
		g.mu.Unlock()
		return
	}
	if g.state == StateLoggedOut {
		g.mu.Unlock()
		return
	}
	token := g.token
	unwatch := g.resetLocked()
	cb := g.onTerminated
	g.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}

	if err := g.session.Delete(ctx, store.KeyCompanyOverride); err != nil {
		g.log.WarnContext(ctx, "clear company override", slog.String("err", err.Error()))
	}
	if clearStore {
		g.clearStorage(ctx)
	}
	if notify && token != "" {
		// Deliberately discarded: failing to tell the backend never blocks
		// local teardown.
		if err := g.api.Logout(ctx, token); err != nil {
			g.log.DebugContext(ctx, "logout notify failed", slog.String("err", err.Error()))
		}
	}

	g.log.InfoContext(ctx, "session terminated", slog.String("reason", string(reason)))

	if cb != nil {
		cb(reason)
	}
}

// resetLocked clears every session field, cancels every timer and bumps the
// generation so in-flight work against the old session is discarded. It
// returns the watch cancel func for the caller to invoke outside the lock.
func (g *Guard) resetLocked() func() {
	g.gen++
	g.token = ""
	g.user = nil
	g.expiresAt = time.Time{}
	g.lastActivity = time.Time{}
	g.selected = ""
	g.state = StateLoggedOut

	stop := func(t **clock.Timer) {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
	stop(&g.refreshTimer)
	stop(&g.expiryTimer)
	stop(&g.inactivityTimer)
	stop(&g.heartbeatTimer)

	unwatch := g.unwatch
	g.unwatch = nil
	return unwatch
}

func (g *Guard) clearStorage(ctx context.Context) {
	for _, key := range []string{store.KeyAccessToken, store.KeyUserData, store.KeySelectedCompany} {
		if err := g.store.Delete(ctx, key); err != nil {
			g.log.WarnContext(ctx, "clear storage key",
				slog.String("key", key),
				slog.String("err", err.Error()),
			)
		}
	}
}

// --- timers ---

// armRefreshLocked schedules the proactive refresh: one minute before the
// granted lifetime ends, but never sooner than the clamp floor.
func (g *Guard) armRefreshLocked(lifetime time.Duration) {
	if g.refreshTimer != nil {
		g.refreshTimer.Stop()
	}
	d := lifetime - refreshLead
	if d < minRefreshDelay {
		d = minRefreshDelay
	}
	gen := g.gen
	g.refreshTimer = g.clock.AfterFunc(d, func() { g.scheduledRefresh(gen) })
}

// armExpiryLocked re-arms the hard-expiry watch from the current token's
// claim. Tokens with no readable claim run without one.
func (g *Guard) armExpiryLocked() {
	if g.expiryTimer != nil {
		g.expiryTimer.Stop()
		g.expiryTimer = nil
	}
	if g.expiresAt.IsZero() {
		return
	}
	d := g.expiresAt.Sub(g.clock.Now()) + expiryGrace
	gen := g.gen
	epoch := g.tokenEpoch
	g.expiryTimer = g.clock.AfterFunc(d, func() {
		g.teardown(g.decorate(context.Background()), gen, epoch, ReasonExpired, true, false)
	})
}

func (g *Guard) armInactivityLocked() {
	if g.inactivityTimer != nil {
		g.inactivityTimer.Stop()
	}
	gen := g.gen
	g.inactivityTimer = g.clock.AfterFunc(g.maxInactivity+inactivityBuffer, func() { g.inactivityCheck(gen) })
}

func (g *Guard) armHeartbeatLocked() {
	if g.heartbeatTimer != nil {
		g.heartbeatTimer.Stop()
	}
	gen := g.gen
	g.heartbeatTimer = g.clock.AfterFunc(g.heartbeatInterval, func() { g.heartbeat(gen) })
}

// scheduledRefresh is the authoritative renewal path. Failure here is fatal
// for the session: the token is close to expiry and continuing would only
// defer an identical failure.
func (g *Guard) scheduledRefresh(gen uint64) {
	g.mu.Lock()
	if g.gen != gen || g.state != StateAuthenticated {
		g.mu.Unlock()
		return
	}
	g.state = StateRefreshPending
	token := g.token
	epoch := g.tokenEpoch
	g.mu.Unlock()

	ctx := g.decorate(context.Background())
	grant, err := g.api.Refresh(ctx, token)
	if err != nil {
		g.log.WarnContext(ctx, "scheduled refresh failed", slog.String("err", err.Error()))
		g.teardown(ctx, gen, epoch, ReasonRefreshFailed, true, false)
		return
	}

	if err := g.applyRenewal(ctx, gen, grant); err != nil {
		g.log.DebugContext(ctx, "refresh result discarded", slog.String("err", err.Error()))
	}
}

// heartbeat is the low-priority renewal path: skipped for idle users,
// tolerant of failure. A missed heartbeat is not fatal; the scheduled
// refresh remains authoritative.
func (g *Guard) heartbeat(gen uint64) {
	g.mu.Lock()
	if g.gen != gen || (g.state != StateAuthenticated && g.state != StateRefreshPending) {
		g.mu.Unlock()
		return
	}
	idle := g.clock.Now().Sub(g.lastActivity)
	if idle >= g.maxInactivity {
		// Nobody is using the session; do not extend it. The inactivity
		// watchdog will tear it down.
		g.armHeartbeatLocked()
		g.mu.Unlock()
		return
	}
	token := g.token
	g.mu.Unlock()

	ctx := g.decorate(context.Background())
	grant, err := g.api.Refresh(ctx, token)

	g.mu.Lock()
	if g.gen != gen {
		g.mu.Unlock()
		return
	}
	g.armHeartbeatLocked()
	g.mu.Unlock()

	if err != nil {
		g.log.DebugContext(ctx, "heartbeat failed, tolerated", slog.String("err", err.Error()))
		return
	}
	if err := g.applyRenewal(ctx, gen, grant); err != nil {
		g.log.DebugContext(ctx, "heartbeat result discarded", slog.String("err", err.Error()))
	}
}

// applyRenewal replaces token and user as one unit and reschedules both
// renewal watches from the new grant's lifetime. Bumping the token epoch
// invalidates any firing still pinned to the replaced token. Last writer
// wins across overlapping renewals within the same session generation.
func (g *Guard) applyRenewal(ctx context.Context, gen uint64, grant *authapi.Grant) error {
	expiresAt, expErr := tokenclaims.ExpiresAt(grant.Token)

	g.mu.Lock()
	if g.gen != gen {
		g.mu.Unlock()
		return ErrSuperseded
	}

	g.tokenEpoch++
	g.token = grant.Token
	u := grant.User
	g.user = &u
	if expErr == nil {
		g.expiresAt = expiresAt
	} else {
		g.expiresAt = time.Time{}
	}
	g.state = StateAuthenticated

	g.armRefreshLocked(grant.ExpiresIn)
	g.armExpiryLocked()
	g.mu.Unlock()

	g.persist(ctx, grant)
	return nil
}

// inactivityCheck fires past the threshold plus buffer. Activity since
// arming means the watchdog lost a race with Touch; re-arm instead of
// logging the user out.
func (g *Guard) inactivityCheck(gen uint64) {
	g.mu.Lock()
	if g.gen != gen || (g.state != StateAuthenticated && g.state != StateRefreshPending) {
		g.mu.Unlock()
		return
	}
	elapsed := g.clock.Now().Sub(g.lastActivity)
	if elapsed < g.maxInactivity {
		g.armInactivityLocked()
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	ctx := g.decorate(context.Background())
	g.log.InfoContext(ctx, "inactivity threshold exceeded", slog.Duration("idle", elapsed))
	g.teardown(ctx, gen, 0, ReasonInactivity, true, true)
}

// --- store watch ---

// startWatch observes the durable store for an external clearing of the
// token key: another holder of the same store logging out must tear this
// session down too.
func (g *Guard) startWatch(ctx context.Context) {
	g.mu.Lock()
	if g.unwatch != nil {
		g.mu.Unlock()
		return
	}
	gen := g.gen
	g.mu.Unlock()

	cancel, err := g.store.Watch(context.Background(), func(ev store.Event) { g.onStoreEvent(gen, ev) })
	if err != nil {
		g.log.WarnContext(ctx, "store watch unavailable", slog.String("err", err.Error()))
		return
	}

	g.mu.Lock()
	if g.gen != gen {
		g.mu.Unlock()
		cancel()
		return
	}
	g.unwatch = cancel
	g.mu.Unlock()
}

func (g *Guard) onStoreEvent(gen uint64, ev store.Event) {
	if ev.Key != store.KeyAccessToken {
		return
	}

	ctx := g.decorate(context.Background())
	if !ev.Deleted {
		// Writes include our own persistence and refreshes performed by
		// other holders; only an emptied value is a logout signal.
		data, err := g.store.Get(ctx, store.KeyAccessToken)
		if err != nil || len(data) != 0 {
			return
		}
	}

	// The external writer already cleared the shared state; only local
	// teardown remains.
	g.teardown(ctx, gen, 0, ReasonExternal, false, false)
}

// decorate attaches guard and session attributes for the logctx handler.
func (g *Guard) decorate(ctx context.Context) context.Context {
	g.mu.Lock()
	gd := &logctx.GuardData{GuardID: g.id, State: g.state.String()}
	var sd *logctx.SessionData
	if g.user != nil {
		company := g.user.Company
		if g.user.Role.Elevated() && g.selected != "" {
			company = g.selected
		}
		sd = &logctx.SessionData{UserID: g.user.ID, Company: company}
	}
	g.mu.Unlock()

	ctx = logctx.WithGuardData(ctx, gd)
	if sd != nil {
		ctx = logctx.WithSessionData(ctx, sd)
	}
	return ctx
}
