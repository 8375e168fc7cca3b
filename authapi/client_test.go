package authapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jmlago/sessionguard-go/identity"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() without base URL succeeded, want error")
	}
}

func TestLoginSendsFormAndDecodesGrant(t *testing.T) {
	var gotForm url.Values
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm failed: %v", err)
		}
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-1","user":{"id":7,"name":"Ada","role":{"name":"admin"},"company":"ACME"},"expires_in":3600}`))
	}))

	grant, err := c.Login(context.Background(), "ada", "s3cret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if gotForm.Get("identifier") != "ada" || gotForm.Get("secret") != "s3cret" {
		t.Fatalf("form = %v", gotForm)
	}
	if grant.Token != "tok-1" {
		t.Fatalf("Token = %q", grant.Token)
	}
	if grant.ExpiresIn != time.Hour {
		t.Fatalf("ExpiresIn = %v", grant.ExpiresIn)
	}
	want := identity.User{ID: "7", Name: "Ada", Role: identity.RoleAdmin, Company: "ACME"}
	if grant.User != want {
		t.Fatalf("User = %+v, want %+v", grant.User, want)
	}
}

func TestLoginClassification(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{name: "invalid credentials", status: 401, body: `{"message":"bad credentials"}`, sentinel: ErrInvalidCredentials},
		{name: "malformed request", status: 422, body: `{"detail":"identifier required"}`, sentinel: ErrMalformedRequest},
		{name: "rate limited", status: 429, body: `{"error":"slow down"}`, sentinel: ErrRateLimited},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))

			_, err := c.Login(context.Background(), "u", "p")
			if !errors.Is(err, tc.sentinel) {
				t.Fatalf("Login err = %v, want %v", err, tc.sentinel)
			}
		})
	}
}

func TestLoginUnclassifiedCarriesBackendMessage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"message":"upstream down"}`))
	}))

	_, err := c.Login(context.Background(), "u", "p")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Login err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusBadGateway || apiErr.Message != "upstream down" {
		t.Fatalf("APIError = %+v", apiErr)
	}
}

func TestLoginUnparseableErrorBodyFallsBack(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`<html>boom</html>`))
	}))

	_, err := c.Login(context.Background(), "u", "p")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Login err = %v, want *APIError", err)
	}
	if apiErr.Message != "request failed" {
		t.Fatalf("Message = %q, want generic fallback", apiErr.Message)
	}
}

func TestRefreshSendsBearer(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/refresh" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer old-tok" {
			t.Errorf("Authorization = %q", auth)
		}
		w.Write([]byte(`{"access_token":"new-tok","user":{"id":"u-1","role":"employee"},"expires_in":120}`))
	}))

	grant, err := c.Refresh(context.Background(), "old-tok")
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if grant.Token != "new-tok" || grant.ExpiresIn != 2*time.Minute {
		t.Fatalf("grant = %+v", grant)
	}
}

func TestRefreshFailureIsAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.Refresh(context.Background(), "stale")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("Refresh err = %v, want 401 *APIError", err)
	}
	// Refresh is not a login; 401 here must not classify as bad credentials.
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("Refresh 401 classified as ErrInvalidCredentials")
	}
}

func TestVerify(t *testing.T) {
	live := true
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/verify-token" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if live {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))

	ok, err := c.Verify(context.Background(), "tok")
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v; want true, nil", ok, err)
	}

	live = false
	ok, err = c.Verify(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("Verify = true for dead token")
	}
}

func TestVerifyTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if _, err := c.Verify(context.Background(), "tok"); err == nil {
		t.Fatal("Verify against closed server succeeded, want error")
	}
}

func TestLogout(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/logout" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
	}))

	if err := c.Logout(context.Background(), "tok"); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}

func TestGrantMissingToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"user":{"id":"u-1","role":"employee"},"expires_in":60}`))
	}))

	if _, err := c.Login(context.Background(), "u", "p"); err == nil {
		t.Fatal("Login with empty access_token succeeded, want error")
	}
}
