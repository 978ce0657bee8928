package tokens

import (
	"context"
	"fmt"
	"time"
)

// AccountStatus summarises token state for one credential without exposing the token.
type AccountStatus struct {
	Site       string     `json:"site"`
	Account    string     `json:"account"`
	Priority   int        `json:"priority"`
	Valid      bool       `json:"valid"`
	IssuedAt   *time.Time `json:"issuedAt,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Refreshing bool       `json:"refreshing"`
}

// Status lists every enabled credential of a site with its latest token state.
func (m *Manager) Status(ctx context.Context, site string) ([]AccountStatus, error) {
	creds, err := m.Credentials.ListBySite(ctx, site)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	now := m.now()
	out := make([]AccountStatus, 0, len(creds))
	for _, cred := range creds {
		st := AccountStatus{
			Site:       site,
			Account:    cred.Account,
			Priority:   cred.Priority,
			Refreshing: m.Refreshing(site, cred.Account),
		}
		if tok, err := m.Store.Latest(ctx, site, cred.Account); err == nil {
			issued, expires := tok.IssuedAt, tok.ExpiresAt
			st.IssuedAt = &issued
			st.ExpiresAt = &expires
			st.Valid = tok.Valid(now)
		}
		out = append(out, st)
	}
	return out, nil
}
