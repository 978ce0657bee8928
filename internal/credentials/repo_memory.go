package credentials

import (
	"context"
	"sort"
	"sync"
)

// MemorySource is an in-memory CredentialSource for dev and tests.
type MemorySource struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewMemorySource seeds a MemorySource.
func NewMemorySource(creds ...Credential) *MemorySource {
	s := &MemorySource{creds: make(map[string]Credential)}
	for _, c := range creds {
		s.Upsert(c)
	}
	return s
}

// Upsert adds or replaces a credential.
func (s *MemorySource) Upsert(c Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[Key(c.Site, c.Account)] = c
}

// ListBySite returns enabled credentials ordered by priority.
func (s *MemorySource) ListBySite(ctx context.Context, site string) ([]Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Credential
	for _, c := range s.creds {
		if c.Site == site && c.Enabled {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Account < out[j].Account
	})
	return out, nil
}

// Get returns one credential.
func (s *MemorySource) Get(ctx context.Context, site, account string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[Key(site, account)]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return c, nil
}

// MemoryTokenStore is an in-memory append-only TokenStore.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string][]Token
}

// NewMemoryTokenStore constructs a MemoryTokenStore.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string][]Token)}
}

// Append records a token.
func (s *MemoryTokenStore) Append(ctx context.Context, tok Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key(tok.Site, tok.Account)
	s.tokens[key] = append(s.tokens[key], tok)
	return nil
}

// Latest returns the token with the newest IssuedAt.
func (s *MemoryTokenStore) Latest(ctx context.Context, site, account string) (Token, error) {
	toks, err := s.History(ctx, site, account, 1)
	if err != nil {
		return Token{}, err
	}
	if len(toks) == 0 {
		return Token{}, ErrTokenNotFound
	}
	return toks[0], nil
}

// History lists tokens newest first.
func (s *MemoryTokenStore) History(ctx context.Context, site, account string, limit int) ([]Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	all := append([]Token(nil), s.tokens[Key(site, account)]...)
	s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].IssuedAt.After(all[j].IssuedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
