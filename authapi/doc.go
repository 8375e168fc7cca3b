// Package authapi is the HTTP client for the portal's authentication
// endpoint group: login, refresh, verify and logout. It owns the wire
// formats and the client-side error classification; it holds no session
// state of its own. The session guard in the root package drives it.
//
// # Errors
//
// Login failures classify by HTTP status into the sentinels
// ErrInvalidCredentials (401), ErrMalformedRequest (422) and ErrRateLimited
// (429), each wrapped around the backend-supplied message when one is
// present. Every other non-2xx response surfaces as an *APIError carrying
// the status and message, so callers can distinguish "the backend said no"
// from transport failures:
//
//	grant, err := client.Login(ctx, identifier, secret)
//	if errors.Is(err, authapi.ErrInvalidCredentials) { /* inline form error */ }
//	var apiErr *authapi.APIError
//	if errors.As(err, &apiErr) { /* backend message in apiErr.Message */ }
package authapi
