// Package auth authenticates admin API callers by bearer token.
package auth

import (
	"errors"
	"sync"
)

// Role names a caller's privilege level.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleStaff Role = "staff"
)

// Actor identifies an authenticated caller.
type Actor struct {
	ID   string
	Role Role
}

// ErrUnauthorized means the presented token is unknown or empty.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator resolves a bearer token to an actor.
type Authenticator interface {
	Authenticate(token string) (Actor, error)
}

// StaticAuthenticator holds a fixed token table, loaded from configuration.
type StaticAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]Actor
}

// NewStaticAuthenticator constructs an authenticator over the given token table.
func NewStaticAuthenticator(tokens map[string]Actor) *StaticAuthenticator {
	cp := make(map[string]Actor, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &StaticAuthenticator{tokens: cp}
}

func (a *StaticAuthenticator) Authenticate(token string) (Actor, error) {
	if token == "" {
		return Actor{}, ErrUnauthorized
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	actor, ok := a.tokens[token]
	if !ok {
		return Actor{}, ErrUnauthorized
	}
	return actor, nil
}

// Add registers a token at runtime; used by tests.
func (a *StaticAuthenticator) Add(token string, actor Actor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = actor
}
