// Package tokenclaims extracts claims from bearer tokens without verifying
// their signature. The decode is advisory only: it drives client-side timer
// scheduling, while the backend remains the source of truth for
// authorization.
package tokenclaims

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry indicates the token parsed but carries no usable exp claim.
var ErrNoExpiry = errors.New("tokenclaims: no expiry claim")

// ExpiresAt returns the token's exp claim. The signature is deliberately not
// checked; a malformed token or a missing claim yields an error and the
// caller simply schedules nothing.
func ExpiresAt(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("tokenclaims: parse: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("tokenclaims: exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, ErrNoExpiry
	}
	return exp.Time, nil
}
