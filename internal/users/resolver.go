package users

import (
	"context"
	"fmt"
	"strings"
	"time"

	pkgAuth "github.com/angelmondragon/cartsync/pkg/auth"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"golang.org/x/sync/singleflight"
)

const defaultCacheTTL = 24 * time.Hour

// Lookup maps a normalized email to the backend user id.
type Lookup interface {
	LookupUserID(ctx context.Context, email string) (string, error)
}

// Cache stores resolved user ids. A miss returns ok=false with a nil error.
type Cache interface {
	LookupUserID(ctx context.Context, email string) (string, bool, error)
	StoreUserID(ctx context.Context, email, userID string, ttl time.Duration) error
	ForgetUserID(ctx context.Context, email string) error
}

// ResolverParams bundles the dependencies required to build a Resolver.
type ResolverParams struct {
	Lookup   Lookup
	Cache    Cache
	CacheTTL time.Duration
	Logger   *logger.Logger
}

// Resolver turns the stored credential (an email) into the backend user id.
// Cache failures are logged and skipped; only a failed backend lookup fails resolution.
type Resolver struct {
	lookup Lookup
	cache  Cache
	ttl    time.Duration
	logg   *logger.Logger
	group  singleflight.Group
}

// NewResolver constructs a resolver. Cache is optional.
func NewResolver(params ResolverParams) (*Resolver, error) {
	if params.Lookup == nil {
		return nil, fmt.Errorf("user lookup is required")
	}
	ttl := params.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Discard()
	}
	return &Resolver{
		lookup: params.Lookup,
		cache:  params.Cache,
		ttl:    ttl,
		logg:   logg,
	}, nil
}

// ResolveUserID implements cartsync.UserResolver.
func (r *Resolver) ResolveUserID(ctx context.Context, credential string) (string, error) {
	email, err := pkgAuth.NormalizeEmail(credential)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid credential")
	}
	ctx = r.logg.WithField(ctx, "email", email)

	if id, ok := r.cached(ctx, email); ok {
		return id, nil
	}

	value, err, _ := r.group.Do(email, func() (any, error) {
		id, err := r.lookup.LookupUserID(ctx, email)
		if err != nil {
			return "", err
		}
		id = strings.TrimSpace(id)
		if id == "" {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		r.remember(ctx, email, id)
		return id, nil
	})
	if err != nil {
		r.logg.WarnErr(ctx, "users.resolve_failed", err)
		return "", err
	}
	return value.(string), nil
}

// Forget drops the cached id for credential.
func (r *Resolver) Forget(ctx context.Context, credential string) error {
	if r.cache == nil {
		return nil
	}
	email, err := pkgAuth.NormalizeEmail(credential)
	if err != nil {
		return nil
	}
	return r.cache.ForgetUserID(ctx, email)
}

func (r *Resolver) cached(ctx context.Context, email string) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	id, ok, err := r.cache.LookupUserID(ctx, email)
	if err != nil {
		r.logg.Error(ctx, "users.cache_read_failed", err)
		return "", false
	}
	id = strings.TrimSpace(id)
	return id, ok && id != ""
}

func (r *Resolver) remember(ctx context.Context, email, id string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.StoreUserID(ctx, email, id, r.ttl); err != nil {
		r.logg.Error(ctx, "users.cache_write_failed", err)
	}
}
