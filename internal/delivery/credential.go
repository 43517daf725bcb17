package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dutylog/internal/session"
	"dutylog/internal/token"
	"dutylog/pkg/platform/sentinel"
)

// CredentialSource resolves the delivery credential attached to outbound
// batches. Returns sentinel.ErrCredentialUnavailable (possibly wrapped) when
// no credential can be resolved; the pipeline drops the batch silently then.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

const (
	defaultTokenTTL = 10 * time.Minute

	// Refresh slightly before expiry so an in-flight send never carries a
	// token that dies mid-request.
	tokenRefreshSlack = 30 * time.Second
)

// TokenSource mints short-lived delivery tokens from the current identity and
// caches them until expiry. Identity rotation invalidates the cache.
type TokenSource struct {
	tokens   *token.Service
	identity session.IdentityProvider
	ttl      time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cached string
	expiry time.Time
}

// TokenSourceOption configures a TokenSource.
type TokenSourceOption func(*TokenSource)

// WithTokenTTL overrides the minted token lifetime.
func WithTokenTTL(ttl time.Duration) TokenSourceOption {
	return func(s *TokenSource) { s.ttl = ttl }
}

// WithNow injects the clock; tests use a manual one.
func WithNow(now func() time.Time) TokenSourceOption {
	return func(s *TokenSource) { s.now = now }
}

// NewTokenSource wires a credential source over the token service. It
// registers for identity changes so a rotated identity drops the cache.
func NewTokenSource(tokens *token.Service, identity session.IdentityProvider, opts ...TokenSourceOption) *TokenSource {
	s := &TokenSource{
		tokens:   tokens,
		identity: identity,
		ttl:      defaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	identity.OnIdentityChange(func(*session.Identity) {
		s.Invalidate()
	})
	return s
}

// Token returns a cached credential when still fresh, otherwise mints a new
// one from the current identity.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.cached != "" && s.expiry.After(s.now().Add(tokenRefreshSlack)) {
		cached := s.cached
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	ident, err := s.identity.CurrentIdentity(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: identity lookup: %v", sentinel.ErrCredentialUnavailable, err)
	}
	if ident == nil {
		return "", sentinel.ErrCredentialUnavailable
	}

	minted, err := s.tokens.Generate(ident.SubjectID, ident.Login(), s.ttl)
	if err != nil {
		return "", fmt.Errorf("%w: mint: %v", sentinel.ErrCredentialUnavailable, err)
	}

	s.mu.Lock()
	s.cached = minted
	s.expiry = s.now().Add(s.ttl)
	s.mu.Unlock()
	return minted, nil
}

// Invalidate drops the cached credential so the next Token call re-mints.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	s.cached = ""
	s.expiry = time.Time{}
	s.mu.Unlock()
}
