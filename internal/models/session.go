package models

import (
	"time"
)

// User is the identity record returned by the auth endpoints.
type User struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	Email     string     `json:"email" yaml:"email"`
	Role      string     `json:"role" yaml:"role"`
	IsActive  bool       `json:"isActive" yaml:"isActive"`
	LastLogin *time.Time `json:"lastLogin,omitempty" yaml:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt" yaml:"createdAt"`
}

// Credentials are submitted to POST /auth/login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is submitted to POST /auth/register.
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// AuthResult is the payload of a successful login or register call.
type AuthResult struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

// SessionState names the phase of the client session.
type SessionState string

const (
	SessionUninitialized SessionState = "uninitialized"
	SessionAuthenticated SessionState = "authenticated"
	SessionAnonymous     SessionState = "anonymous"
)

// Session represents the client-side authentication state.
// IsAuthenticated is derived and holds iff both User and Token are set.
type Session struct {
	User      *User
	Token     string
	IsLoading bool
	Error     string
}

// IsAuthenticated returns true when both a user and a token are held.
func (s Session) IsAuthenticated() bool {
	return s.User != nil && s.Token != ""
}

// State maps the attribute set onto the three session phases.
func (s Session) State() SessionState {
	switch {
	case s.IsAuthenticated():
		return SessionAuthenticated
	case s.IsLoading:
		return SessionUninitialized
	default:
		return SessionAnonymous
	}
}
