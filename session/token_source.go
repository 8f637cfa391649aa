package session

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource adapts the managed credential to the standard
// oauth2.TokenSource interface so it can feed any client built on
// golang.org/x/oauth2. An expired or absent credential triggers a silent
// CheckAuth before giving up.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, manager: m}
}

type tokenSource struct {
	ctx     context.Context
	manager *Manager
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	m := ts.manager

	m.mu.Lock()
	cred := m.cred
	now := m.nowTime()
	m.mu.Unlock()

	if cred == nil || cred.IsExpired(now) {
		if !m.CheckAuth(ts.ctx) {
			return nil, ErrNotAuthenticated
		}
		m.mu.Lock()
		cred = m.cred
		m.mu.Unlock()
		if cred == nil {
			return nil, ErrNotAuthenticated
		}
	}

	return &oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   "Bearer",
		Expiry:      cred.ExpiresAt,
	}, nil
}
