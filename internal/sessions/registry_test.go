package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/angelmondragon/cartsync/internal/cartsync"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryRemote keeps a single line per product and records quantity updates.
type memoryRemote struct {
	mu      sync.Mutex
	lines   map[string]cartsync.RemoteLine
	updates []int
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{lines: map[string]cartsync.RemoteLine{}}
}

func (m *memoryRemote) FetchCart(ctx context.Context, userID string) ([]cartsync.RemoteLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]cartsync.RemoteLine, 0, len(m.lines))
	for _, l := range m.lines {
		out = append(out, l)
	}
	return out, nil
}

func (m *memoryRemote) AddItem(ctx context.Context, userID, productID string, quantity int, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	line := m.lines[productID]
	line.ID = "line-" + productID
	line.ProductID = productID
	line.Quantity += quantity
	line.Price = decimal.NewNullDecimal(price)
	m.lines[productID] = line
	return nil
}

func (m *memoryRemote) UpdateItem(ctx context.Context, lineID string, quantity int, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, quantity)
	for id, l := range m.lines {
		if l.ID == lineID {
			l.Quantity = quantity
			m.lines[id] = l
		}
	}
	return nil
}

func (m *memoryRemote) RemoveItem(ctx context.Context, lineID, userID string) error { return nil }

func (m *memoryRemote) ClearCart(ctx context.Context, userID string) error { return nil }

type recordingForgetter struct {
	forgotten []string
}

func (r *recordingForgetter) Forget(ctx context.Context, credential string) error {
	r.forgotten = append(r.forgotten, credential)
	return nil
}

type harness struct {
	registry *Registry
	remote   *memoryRemote
	built    *atomic.Int32
	forgets  *recordingForgetter
	metrics  *prometheus.Registry
}

func newHarness(t *testing.T, resolve func(credential string) (string, error)) harness {
	t.Helper()
	remote := newMemoryRemote()
	built := &atomic.Int32{}
	forgets := &recordingForgetter{}
	reg := prometheus.NewRegistry()
	m := metrics.NewCartSyncMetrics(reg)

	registry, err := NewRegistry(RegistryParams{
		Factory: func(credential string) (*cartsync.Store, error) {
			built.Add(1)
			return cartsync.NewStore(cartsync.StoreParams{
				Remote: remote,
				Resolver: cartsync.UserResolverFunc(func(ctx context.Context, c string) (string, error) {
					if err := ctx.Err(); err != nil {
						return "", err
					}
					return resolve(c)
				}),
				Credential: credential,
				Metrics:    m,
			})
		},
		Metrics:   m,
		Forgetter: forgets,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.CloseAll(context.Background()) })
	return harness{registry: registry, remote: remote, built: built, forgets: forgets, metrics: reg}
}

func activeSessions(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "cart_active_sessions" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}

func resolveAll(credential string) (string, error) {
	return "id-" + credential, nil
}

func TestAcquireReusesStorePerUser(t *testing.T) {
	h := newHarness(t, resolveAll)
	ctx := context.Background()

	first, err := h.registry.Acquire(ctx, "Diner@Example.com")
	require.NoError(t, err)
	second, err := h.registry.Acquire(ctx, " diner@example.com ")
	require.NoError(t, err)
	other, err := h.registry.Acquire(ctx, "other@example.com")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)
	assert.Equal(t, "id-diner@example.com", first.UserID())
	assert.EqualValues(t, 2, h.built.Load())
	assert.Equal(t, 2, h.registry.Len())
	assert.Equal(t, 2.0, activeSessions(t, h.metrics))
}

func TestAcquireConcurrentCallersShareOneStore(t *testing.T) {
	h := newHarness(t, resolveAll)

	const callers = 16
	stores := make([]*cartsync.Store, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := h.registry.Acquire(context.Background(), "diner@example.com")
			if err == nil {
				stores[i] = s
			}
		}(i)
	}
	wg.Wait()

	for _, s := range stores {
		require.NotNil(t, s)
		assert.Same(t, stores[0], s)
	}
	assert.Equal(t, 1, h.registry.Len())
}

func TestAcquireInitSurvivesCancelledCaller(t *testing.T) {
	h := newHarness(t, resolveAll)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store, err := h.registry.Acquire(ctx, "diner@example.com")
	require.NoError(t, err)
	assert.True(t, store.Snapshot().UserResolved, "init must not inherit the caller's cancellation")
	assert.Equal(t, 1, h.registry.Len())
}

func TestAcquireRejectsInvalidCredential(t *testing.T) {
	h := newHarness(t, resolveAll)
	_, err := h.registry.Acquire(context.Background(), "nope")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	assert.Zero(t, h.built.Load())
}

func TestAcquireDoesNotKeepUnresolvedStores(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	h := newHarness(t, func(credential string) (string, error) {
		if fail.Load() {
			return "", errors.New("lookup failed")
		}
		return "u-1", nil
	})
	ctx := context.Background()

	store, err := h.registry.Acquire(ctx, "diner@example.com")
	require.NoError(t, err)
	assert.False(t, store.Snapshot().UserResolved)
	assert.Empty(t, store.Snapshot().Items)
	assert.Equal(t, 0, h.registry.Len())

	_, err = store.AddToCart(ctx, cartsync.Product{ID: "p1"}, 1, cartsync.AddOptions{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	assert.False(t, store.ApplyCoupon("SAVE10"), "unkept store is closed")

	fail.Store(false)
	store, err = h.registry.Acquire(ctx, "diner@example.com")
	require.NoError(t, err)
	assert.True(t, store.Snapshot().UserResolved)
	assert.Equal(t, 1, h.registry.Len())
}

func TestReleaseFlushesAndForgets(t *testing.T) {
	h := newHarness(t, resolveAll)
	ctx := context.Background()

	store, err := h.registry.Acquire(ctx, "diner@example.com")
	require.NoError(t, err)
	_, err = store.AddToCart(ctx, cartsync.Product{ID: "A", ListPrice: decimal.NewNullDecimal(decimal.NewFromInt(10))}, 1, cartsync.AddOptions{})
	require.NoError(t, err)
	require.NoError(t, store.UpdateQuantity(ctx, "A", 6))

	require.NoError(t, h.registry.Release(ctx, "diner@example.com"))
	assert.Equal(t, 0, h.registry.Len())
	assert.Equal(t, []int{6}, h.remote.updates, "pending edit is pushed before the store goes away")
	assert.Equal(t, []string{"diner@example.com"}, h.forgets.forgotten)
	assert.Equal(t, 0.0, activeSessions(t, h.metrics))

	err = store.UpdateQuantity(ctx, "A", 2)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	again, err := h.registry.Acquire(ctx, "diner@example.com")
	require.NoError(t, err)
	assert.NotSame(t, store, again)
}

func TestCloseAllRefusesNewSessions(t *testing.T) {
	h := newHarness(t, resolveAll)
	ctx := context.Background()

	_, err := h.registry.Acquire(ctx, "a@example.com")
	require.NoError(t, err)
	_, err = h.registry.Acquire(ctx, "b@example.com")
	require.NoError(t, err)

	require.NoError(t, h.registry.CloseAll(ctx))
	assert.Equal(t, 0, h.registry.Len())

	_, err = h.registry.Acquire(ctx, "a@example.com")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}
