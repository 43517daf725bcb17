package auditlog

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Account is what the directory knows about one subject.
type Account struct {
	UID   string
	Login string
	Name  string
}

// AccountResolver is the external directory collaborator. Lookup accepts a
// uid, a login or a display name and returns nil when nothing matches.
type AccountResolver interface {
	Lookup(ctx context.Context, q string) (*Account, error)
}

// StaticResolver resolves from a fixed account list. Dev and test deployments
// use it; production injects a real directory client.
type StaticResolver struct {
	accounts []Account
}

func NewStaticResolver(accounts ...Account) *StaticResolver {
	return &StaticResolver{accounts: accounts}
}

func (r *StaticResolver) Lookup(_ context.Context, q string) (*Account, error) {
	for _, a := range r.accounts {
		if strings.EqualFold(a.UID, q) || strings.EqualFold(a.Login, q) || strings.EqualFold(a.Name, q) {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

// CachedResolver wraps another resolver with a TTL cache keyed by the
// normalized query. Resolution sits on the reviewer's hot path (once per page
// fetch), so misses are cached too.
type CachedResolver struct {
	inner AccountResolver
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]cachedAccount
}

type cachedAccount struct {
	account *Account
	expires time.Time
}

func NewCachedResolver(inner AccountResolver, ttl time.Duration) *CachedResolver {
	return &CachedResolver{
		inner: inner,
		ttl:   ttl,
		now:   time.Now,
		cache: make(map[string]cachedAccount),
	}
}

func (r *CachedResolver) Lookup(ctx context.Context, q string) (*Account, error) {
	key := strings.ToLower(strings.TrimSpace(q))

	r.mu.Lock()
	if hit, ok := r.cache[key]; ok && hit.expires.After(r.now()) {
		r.mu.Unlock()
		return hit.account, nil
	}
	r.mu.Unlock()

	account, err := r.inner.Lookup(ctx, q)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cachedAccount{account: account, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return account, nil
}
