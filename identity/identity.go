// Package identity holds the canonical user profile model for the portal
// SDK. The backend is loose about the shapes it returns for role and company
// fields (bare strings in some endpoints, objects in others); everything is
// normalized into the canonical form here, at the decode boundary, so the
// rest of the SDK only ever sees one representation.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Role is the canonical, enumerated user role.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	// RoleAdmin is the elevated role: it may operate across multiple company
	// affiliations within one session.
	RoleAdmin Role = "admin"
)

// ErrUnknownRole is returned when a wire role name maps to no canonical role.
var ErrUnknownRole = errors.New("identity: unknown role")

// ParseRole maps a wire role name onto a canonical Role. Matching is
// case-insensitive and tolerates the legacy names still emitted by older
// backend deployments.
func ParseRole(name string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "employee", "user", "worker":
		return RoleEmployee, nil
	case "manager", "supervisor":
		return RoleManager, nil
	case "admin", "administrator", "superadmin":
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, name)
	}
}

func (r Role) String() string { return string(r) }

// Elevated reports whether the role carries multi-company visibility.
func (r Role) Elevated() bool { return r == RoleAdmin }

// User is the canonical profile record held by a session.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Role    Role   `json:"role"`
	Company string `json:"company"`
	// MustChangePassword is set when the backend requires a password change
	// before the user may proceed.
	MustChangePassword bool `json:"must_change_password"`
}

// wireUser accepts every shape the backend is known to produce.
type wireUser struct {
	ID                 json.RawMessage `json:"id"`
	Name               string          `json:"name"`
	Email              string          `json:"email"`
	Role               json.RawMessage `json:"role"`
	Company            json.RawMessage `json:"company"`
	MustChangePassword bool            `json:"must_change_password"`
}

// UnmarshalJSON normalizes any accepted wire shape into the canonical form:
// numeric or string IDs, role as a bare name or {"name": ...}, company as a
// bare code or {"code": ..., "name": ...}.
func (u *User) UnmarshalJSON(data []byte) error {
	var w wireUser
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("identity: decode user: %w", err)
	}

	id, err := decodeID(w.ID)
	if err != nil {
		return err
	}

	roleName, err := decodeNamed(w.Role, "name")
	if err != nil {
		return fmt.Errorf("identity: decode role: %w", err)
	}
	role, err := ParseRole(roleName)
	if err != nil {
		return err
	}

	company, err := decodeNamed(w.Company, "code")
	if err != nil {
		return fmt.Errorf("identity: decode company: %w", err)
	}

	*u = User{
		ID:                 id,
		Name:               w.Name,
		Email:              w.Email,
		Role:               role,
		Company:            company,
		MustChangePassword: w.MustChangePassword,
	}
	return nil
}

func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("identity: user id missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10), nil
	}
	return "", fmt.Errorf("identity: unsupported id shape %s", raw)
}

// decodeNamed accepts either a bare string or an object keyed by field.
func decodeNamed(raw json.RawMessage, field string) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("unsupported shape %s", raw)
	}
	inner, ok := obj[field]
	if !ok {
		return "", fmt.Errorf("object shape missing %q: %s", field, raw)
	}
	if err := json.Unmarshal(inner, &s); err != nil {
		return "", fmt.Errorf("field %q is not a string: %s", field, inner)
	}
	return s, nil
}
