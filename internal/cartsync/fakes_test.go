package cartsync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/cartsync/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type updateCall struct {
	lineID   string
	quantity int
	userID   string
}

// fakeRemote is an in-memory cart backend.
type fakeRemote struct {
	mu       sync.Mutex
	lines    []RemoteLine
	products map[string]*Product
	nextID   int

	fetchErr  error
	addErr    error
	updateErr error
	removeErr error
	clearErr  error
	blockAdd  bool

	beforeFetch func(call int)
	duringAdd   func()

	fetchCalls int
	addCalls   int
	updates    []updateCall
	removed    []string
	clears     int
}

func newFakeRemote(products ...*Product) *fakeRemote {
	r := &fakeRemote{products: make(map[string]*Product)}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *fakeRemote) FetchCart(ctx context.Context, userID string) ([]RemoteLine, error) {
	r.mu.Lock()
	r.fetchCalls++
	call := r.fetchCalls
	err := r.fetchErr
	out := make([]RemoteLine, len(r.lines))
	copy(out, r.lines)
	hook := r.beforeFetch
	r.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *fakeRemote) AddItem(ctx context.Context, userID, productID string, quantity int, price decimal.Decimal) error {
	r.mu.Lock()
	r.addCalls++
	block := r.blockAdd
	err := r.addErr
	hook := r.duringAdd
	r.mu.Unlock()

	if hook != nil {
		hook()
	}

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.lines {
		if r.lines[i].ProductID == productID {
			r.lines[i].Quantity += quantity
			return nil
		}
	}
	r.nextID++
	r.lines = append(r.lines, RemoteLine{
		ID:        fmt.Sprintf("line-%d", r.nextID),
		ProductID: productID,
		Quantity:  quantity,
		Price:     decimal.NewNullDecimal(price),
		Product:   r.products[productID],
	})
	return nil
}

func (r *fakeRemote) UpdateItem(ctx context.Context, lineID string, quantity int, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, updateCall{lineID: lineID, quantity: quantity, userID: userID})
	if r.updateErr != nil {
		return r.updateErr
	}
	for i := range r.lines {
		if r.lines[i].ID == lineID {
			r.lines[i].Quantity = quantity
			return nil
		}
	}
	return fmt.Errorf("line %s not found", lineID)
}

func (r *fakeRemote) RemoveItem(ctx context.Context, lineID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removeErr != nil {
		return r.removeErr
	}
	r.removed = append(r.removed, lineID)
	for i := range r.lines {
		if r.lines[i].ID == lineID {
			r.lines = append(r.lines[:i], r.lines[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *fakeRemote) ClearCart(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clearErr != nil {
		return r.clearErr
	}
	r.clears++
	r.lines = nil
	return nil
}

func (r *fakeRemote) set(fn func(r *fakeRemote)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

func (r *fakeRemote) serverQuantity(productID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lines {
		if l.ProductID == productID {
			return l.Quantity
		}
	}
	return 0
}

func (r *fakeRemote) updateCalls() []updateCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]updateCall(nil), r.updates...)
}

type fakeTimer struct {
	mu      *sync.Mutex
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeScheduler records timers so tests decide when the debounce window elapses.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
	waits  []time.Duration
}

func (f *fakeScheduler) schedule(d time.Duration, fn func()) timerHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{mu: &f.mu, fn: fn}
	f.timers = append(f.timers, t)
	f.waits = append(f.waits, d)
	return t
}

func (f *fakeScheduler) fireAll() {
	f.mu.Lock()
	var due []*fakeTimer
	for _, t := range f.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	f.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

func (f *fakeScheduler) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func staticResolver(userID string) UserResolver {
	return UserResolverFunc(func(ctx context.Context, credential string) (string, error) {
		return userID, nil
	})
}

func product(id string, price int64) *Product {
	return &Product{
		ID:        id,
		Name:      "Dish " + id,
		ListPrice: decimal.NewNullDecimal(decimal.NewFromInt(price)),
	}
}

type testStore struct {
	*Store
	remote    *fakeRemote
	scheduler *fakeScheduler
	registry  *prometheus.Registry
}

func newTestStore(t *testing.T, remote *fakeRemote, mutate ...func(*StoreParams)) *testStore {
	t.Helper()

	reg := prometheus.NewRegistry()
	sched := &fakeScheduler{}
	params := StoreParams{
		Remote:     remote,
		Resolver:   staticResolver("user-1"),
		Credential: "diner@example.com",
		Metrics:    metrics.NewCartSyncMetrics(reg),
		schedule:   sched.schedule,
	}
	for _, fn := range mutate {
		fn(&params)
	}

	store, err := NewStore(params)
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	return &testStore{Store: store, remote: remote, scheduler: sched, registry: reg}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
