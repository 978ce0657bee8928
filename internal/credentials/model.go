package credentials

import (
	"fmt"
	"time"
)

// Credential is one login for an external site. It is maintained by the business layer.
type Credential struct {
	ID       string `json:"id"`
	Site     string `json:"site"`
	Account  string `json:"account"`
	Secret   string `json:"-"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
}

// String never includes the secret.
func (c Credential) String() string {
	return fmt.Sprintf("%s/%s", c.Site, c.Account)
}

// Token is a site-issued session token. Rows are never updated; a refresh appends a new one.
type Token struct {
	ID        string    `json:"id"`
	Site      string    `json:"site"`
	Account   string    `json:"account"`
	Value     string    `json:"-"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Valid reports whether the token may still be presented at now.
func (t Token) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// TTL is the lifetime the token was issued with.
func (t Token) TTL() time.Duration {
	return t.ExpiresAt.Sub(t.IssuedAt)
}

// Key identifies a (site, account) pair for caches and locks.
func Key(site, account string) string {
	return site + "\x00" + account
}
