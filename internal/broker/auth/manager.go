// Package auth implements the broker auth manager (C6): token acquisition,
// expiry-margin validation, and serialized refresh-on-401. Concurrent
// callers during a refresh all await the single in-flight attempt rather
// than each triggering their own login call.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"topstepx-engine/internal/result"
)

// TokenInfo is the broker's issued bearer token and its expiry.
type TokenInfo struct {
	Token     string
	ExpiresAt time.Time
}

// LoginFunc performs the broker login call (Auth/loginKey).
type LoginFunc func(ctx context.Context) result.Result[TokenInfo]

// Manager holds the current token and coordinates refresh.
type Manager struct {
	login  LoginFunc
	margin time.Duration

	mu      sync.Mutex
	current TokenInfo
	inFlight chan struct{} // non-nil while a refresh is in progress
}

// New builds an auth Manager. margin is how far before expiry a token is
// considered due for refresh (spec default 60s).
func New(login LoginFunc, margin time.Duration) *Manager {
	if margin <= 0 {
		margin = 60 * time.Second
	}
	return &Manager{login: login, margin: margin}
}

// Acquire performs an unconditional login.
func (m *Manager) Acquire(ctx context.Context) result.Result[string] {
	return m.refresh(ctx)
}

// EnsureValid returns the current token, refreshing first if it is absent
// or within the expiry margin.
func (m *Manager) EnsureValid(ctx context.Context) result.Result[string] {
	m.mu.Lock()
	needsRefresh := m.current.Token == "" || time.Until(m.current.ExpiresAt) < m.margin
	token := m.current.Token
	m.mu.Unlock()

	if !needsRefresh {
		return result.Ok(token)
	}
	return m.refresh(ctx)
}

// ForceRefresh is called by the REST client on a 401; it performs one
// token refresh (the single retry of the failed request is the REST
// client's). Callers racing on refresh share the result of the single
// in-flight login.
func (m *Manager) ForceRefresh(ctx context.Context) result.Result[string] {
	return m.refresh(ctx)
}

// refresh serializes concurrent refresh attempts: the first caller performs
// the login; later callers block on the same in-flight channel and reuse
// its result instead of issuing their own login call.
func (m *Manager) refresh(ctx context.Context) result.Result[string] {
	m.mu.Lock()
	if m.inFlight != nil {
		ch := m.inFlight
		m.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return result.Fail[string](result.Err(result.KindCancelled, "context cancelled waiting for in-flight token refresh"))
		}
		m.mu.Lock()
		token := m.current.Token
		m.mu.Unlock()
		if token == "" {
			return result.Fail[string](result.Err(result.KindAuthFailed, "token refresh failed while this caller waited"))
		}
		return result.Ok(token)
	}

	ch := make(chan struct{})
	m.inFlight = ch
	m.mu.Unlock()

	res := m.login(ctx)

	m.mu.Lock()
	if res.IsOk() {
		m.current = res.Value()
	} else {
		m.current = TokenInfo{}
	}
	m.inFlight = nil
	close(ch)
	m.mu.Unlock()

	if !res.IsOk() {
		return result.Fail[string](res.Err())
	}
	return result.Ok(res.Value().Token)
}

// ExpiryFromJWT decodes (without verifying signature — the broker, not
// this engine, owns the signing key) the "exp" claim of a bearer token, for
// callers that receive a raw token string without a companion expiry.
func ExpiryFromJWT(token string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	_, _, err := parser.ParseUnverified(token, claims)
	if err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, err
	}
	return exp.Time, nil
}
