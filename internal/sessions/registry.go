package sessions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/angelmondragon/cartsync/internal/cartsync"
	pkgAuth "github.com/angelmondragon/cartsync/pkg/auth"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

// StoreFactory builds an uninitialized store for a normalized credential.
type StoreFactory func(credential string) (*cartsync.Store, error)

type forgetter interface {
	Forget(ctx context.Context, credential string) error
}

// RegistryParams bundles the dependencies required to build a Registry.
type RegistryParams struct {
	Factory StoreFactory
	Logger  *logger.Logger
	Metrics *metrics.CartSyncMetrics
	// Forgetter, when set, drops cached identity on Release.
	Forgetter forgetter
}

// Registry owns one cart store per signed-in user.
type Registry struct {
	factory   StoreFactory
	logg      *logger.Logger
	metrics   *metrics.CartSyncMetrics
	forgetter forgetter

	mu     sync.RWMutex
	stores map[string]*cartsync.Store
	closed bool
	group  singleflight.Group
}

// NewRegistry constructs an empty registry.
func NewRegistry(params RegistryParams) (*Registry, error) {
	if params.Factory == nil {
		return nil, fmt.Errorf("store factory is required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Discard()
	}
	return &Registry{
		factory:   params.Factory,
		logg:      logg,
		metrics:   params.Metrics,
		forgetter: params.Forgetter,
		stores:    make(map[string]*cartsync.Store),
	}, nil
}

// Acquire returns the user's store, creating and initializing it on first use.
// Concurrent first requests share one Init, which runs detached from the
// calling request so one cancelled caller does not fail the others.
// A store whose user could not be resolved is closed and handed back without
// being kept: it serves an empty cart and the next request retries resolution.
func (r *Registry) Acquire(ctx context.Context, credential string) (*cartsync.Store, error) {
	email, err := pkgAuth.NormalizeEmail(credential)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid credential")
	}

	r.mu.RLock()
	closed := r.closed
	store, ok := r.stores[email]
	r.mu.RUnlock()
	if closed {
		return nil, errRegistryClosed()
	}
	if ok {
		return store, nil
	}

	value, err, _ := r.group.Do(email, func() (any, error) {
		r.mu.RLock()
		existing, ok := r.stores[email]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}

		store, err := r.factory(email)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build cart store")
		}
		if err := store.Init(context.WithoutCancel(ctx)); err != nil {
			_ = store.Close()
			return nil, err
		}
		if !store.Snapshot().UserResolved {
			_ = store.Close()
			return store, nil
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			_ = store.Close()
			return nil, errRegistryClosed()
		}
		r.stores[email] = store
		r.metrics.SetActiveSessions(len(r.stores))
		r.logg.Info(r.logg.WithUserID(ctx, store.UserID()), "sessions.store_created")
		return store, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*cartsync.Store), nil
}

// Release flushes pending quantity edits, then disposes of the user's store.
func (r *Registry) Release(ctx context.Context, credential string) error {
	email, err := pkgAuth.NormalizeEmail(credential)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid credential")
	}

	r.mu.Lock()
	store, ok := r.stores[email]
	delete(r.stores, email)
	r.metrics.SetActiveSessions(len(r.stores))
	r.mu.Unlock()

	var errs error
	if ok {
		errs = multierr.Append(errs, disposeStore(ctx, store))
	}
	if r.forgetter != nil {
		errs = multierr.Append(errs, r.forgetter.Forget(ctx, email))
	}
	return errs
}

// CloseAll disposes of every store and refuses further Acquire calls.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	stores := r.stores
	r.stores = make(map[string]*cartsync.Store)
	r.metrics.SetActiveSessions(0)
	r.mu.Unlock()

	emails := make([]string, 0, len(stores))
	for email := range stores {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	var errs error
	for _, email := range emails {
		errs = multierr.Append(errs, disposeStore(ctx, stores[email]))
	}
	if errs != nil {
		r.logg.Error(ctx, "sessions.close_all_failed", errs)
	}
	return errs
}

// Len reports how many stores are live.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stores)
}

func disposeStore(ctx context.Context, store *cartsync.Store) error {
	return multierr.Combine(store.Flush(ctx), store.Close())
}

func errRegistryClosed() error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "cart sessions are shutting down")
}
