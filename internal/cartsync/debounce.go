package cartsync

import (
	"sort"
	"sync"
	"time"
)

const defaultDebounceWindow = 800 * time.Millisecond

type timerHandle interface {
	Stop() bool
}

type scheduleFunc func(d time.Duration, fn func()) timerHandle

func afterFunc(d time.Duration, fn func()) timerHandle {
	return time.AfterFunc(d, fn)
}

type pendingUpdate struct {
	quantity int
	seq      uint64
	timer    timerHandle
}

// debouncer keeps one cancellable timer per product. Only the last quantity
// scheduled inside the window reaches fire.
type debouncer struct {
	mu       sync.Mutex
	window   time.Duration
	schedule scheduleFunc
	pending  map[string]*pendingUpdate
	seq      uint64
	closed   bool
}

func newDebouncer(window time.Duration, schedule scheduleFunc) *debouncer {
	if window <= 0 {
		window = defaultDebounceWindow
	}
	if schedule == nil {
		schedule = afterFunc
	}
	return &debouncer{
		window:   window,
		schedule: schedule,
		pending:  make(map[string]*pendingUpdate),
	}
}

// Schedule (re)arms the timer for productID. It reports whether an earlier pending update was superseded.
func (d *debouncer) Schedule(productID string, quantity int, fire func(productID string, quantity int)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}

	superseded := false
	if prev, ok := d.pending[productID]; ok {
		prev.timer.Stop()
		superseded = true
	}

	d.seq++
	entry := &pendingUpdate{quantity: quantity, seq: d.seq}
	seq := entry.seq
	entry.timer = d.schedule(d.window, func() {
		if q, ok := d.take(productID, seq); ok {
			fire(productID, q)
		}
	})
	d.pending[productID] = entry
	return superseded
}

// Bump shifts a pending quantity by delta without resetting its timer.
func (d *debouncer) Bump(productID string, delta int) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.pending[productID]
	if !ok {
		return 0, false
	}
	entry.quantity += delta
	return entry.quantity, true
}

// Pending returns the quantity waiting to be sent for productID.
func (d *debouncer) Pending(productID string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.pending[productID]
	if !ok {
		return 0, false
	}
	return entry.quantity, true
}

// Snapshot copies every pending quantity.
func (d *debouncer) Snapshot() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.pending))
	for id, entry := range d.pending {
		out[id] = entry.quantity
	}
	return out
}

// Cancel drops the pending update for productID.
func (d *debouncer) Cancel(productID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.pending[productID]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(d.pending, productID)
	return true
}

// Drain stops every timer and hands back the pending quantities, ordered by product id.
func (d *debouncer) Drain() []pendingQuantity {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]pendingQuantity, 0, len(d.pending))
	for id, entry := range d.pending {
		entry.timer.Stop()
		out = append(out, pendingQuantity{productID: id, quantity: entry.quantity})
	}
	d.pending = make(map[string]*pendingUpdate)
	sort.Slice(out, func(i, j int) bool { return out[i].productID < out[j].productID })
	return out
}

// CancelAll drops every pending update and returns how many were dropped.
func (d *debouncer) CancelAll() int {
	return len(d.Drain())
}

// Close cancels everything and refuses further scheduling.
func (d *debouncer) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.CancelAll()
}

func (d *debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *debouncer) take(productID string, seq uint64) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, false
	}
	entry, ok := d.pending[productID]
	if !ok || entry.seq != seq {
		return 0, false
	}
	delete(d.pending, productID)
	return entry.quantity, true
}

type pendingQuantity struct {
	productID string
	quantity  int
}
