package sessionguard

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Defaults for the guard's timer policy.
const (
	// DefaultMaxInactivity is the forced-logout threshold with no user
	// activity.
	DefaultMaxInactivity = 60 * time.Minute

	// DefaultHeartbeatInterval is the cadence of the low-priority renewal
	// attempt.
	DefaultHeartbeatInterval = 2 * time.Minute

	// refreshLead is how far before expiry the scheduled refresh fires.
	refreshLead = 60 * time.Second

	// minRefreshDelay is the floor for refresh scheduling. Guards against
	// clock skew or very short-lived tokens causing refresh storms.
	minRefreshDelay = 30 * time.Second

	// inactivityBuffer pads the watchdog past the threshold so timer
	// granularity cannot produce false positives.
	inactivityBuffer = 5 * time.Second

	// expiryGrace pads the expiry watch past the claim, giving an in-flight
	// refresh the chance to supersede it.
	expiryGrace = time.Second
)

// Config carries the environment-level settings for a Guard.
type Config struct {
	// BaseURL is the authentication endpoint group's base URL.
	BaseURL string `env:"PORTAL_BASE_URL,required"`

	// RequestTimeout bounds every HTTP request the guard makes.
	RequestTimeout time.Duration `env:"PORTAL_HTTP_TIMEOUT,default=10s"`

	// MaxInactivity is the inactivity logout threshold.
	MaxInactivity time.Duration `env:"PORTAL_MAX_INACTIVITY,default=1h"`

	// HeartbeatInterval is the heartbeat cadence.
	HeartbeatInterval time.Duration `env:"PORTAL_HEARTBEAT_INTERVAL,default=2m"`
}

// ConfigFromEnv populates a Config from the environment; defaults are
// provided via struct tags.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("sessionguard: decode config: %w", err)
	}
	return cfg, nil
}
