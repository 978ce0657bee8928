package tokens

import (
	"context"

	"golang.org/x/oauth2"
)

type managerSource struct {
	ctx     context.Context
	m       *Manager
	site    string
	account string
}

// Token implements oauth2.TokenSource.
func (s *managerSource) Token() (*oauth2.Token, error) {
	tok, err := s.m.Resolve(s.ctx, s.site, s.account)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: tok.Value,
		TokenType:   "Bearer",
		Expiry:      tok.ExpiresAt,
	}, nil
}

// TokenSource adapts the manager for oauth2-aware HTTP clients. The returned source
// reuses a token until shortly before it expires.
func (m *Manager) TokenSource(ctx context.Context, site, account string) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &managerSource{ctx: ctx, m: m, site: site, account: account})
}
