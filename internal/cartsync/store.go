package cartsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

const (
	opFetchCart  = "fetch_cart"
	opAddItem    = "add_item"
	opUpdateItem = "update_item"
	opRemoveItem = "remove_item"
	opClearCart  = "clear_cart"

	defaultRemoteTimeout = 8 * time.Second
)

// StoreParams wires a Store to its collaborators.
type StoreParams struct {
	Remote     RemoteCart
	Resolver   UserResolver
	Credential string

	Logger  *logger.Logger
	Metrics *metrics.CartSyncMetrics
	Coupons CouponTable

	DebounceWindow time.Duration
	RemoteTimeout  time.Duration
	DeliveryFee    decimal.Decimal
	FallbackPrice  decimal.Decimal
	MediaBaseURL   string

	// StaleAfter is how old the last successful sync may get before Refresh
	// reloads. Zero only reloads after a failed or missing sync.
	StaleAfter time.Duration

	Now func() time.Time

	schedule scheduleFunc
}

// Store is the local mirror of one user's remote cart.
//
// Writes land locally first and are then pushed to the remote cart. Every
// remote failure is reconciled by reloading the authoritative cart; quantity
// edits are debounced per product so bursts of taps cost one request.
type Store struct {
	remote     RemoteCart
	resolver   UserResolver
	credential string

	logg    *logger.Logger
	metrics *metrics.CartSyncMetrics
	coupons CouponTable
	pricer  pricer

	remoteTimeout time.Duration
	staleAfter    time.Duration
	deliveryFee   decimal.Decimal
	now           func() time.Time

	debounce *debouncer
	lifetime context.Context
	cancel   context.CancelFunc

	mu            sync.RWMutex
	userID        string
	resolved      bool
	closed        bool
	lines         []CartLine
	coupon        *Coupon
	syncErr       error
	lastSynced    time.Time
	reloadIssued  uint64
	reloadApplied uint64
}

// NewStore builds an uninitialized store. Call Init to resolve the user and load the cart.
func NewStore(params StoreParams) (*Store, error) {
	if params.Remote == nil {
		return nil, fmt.Errorf("remote cart required")
	}
	if params.Resolver == nil {
		return nil, fmt.Errorf("user resolver required")
	}

	logg := params.Logger
	if logg == nil {
		logg = logger.Discard()
	}
	coupons := params.Coupons
	if coupons == nil {
		coupons = DefaultCoupons()
	}
	timeout := params.RemoteTimeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	fee := params.DeliveryFee
	if fee.IsNegative() {
		fee = decimal.Zero
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	lifetime, cancel := context.WithCancel(context.Background())
	return &Store{
		remote:        params.Remote,
		resolver:      params.Resolver,
		credential:    strings.TrimSpace(params.Credential),
		logg:          logg,
		metrics:       params.Metrics,
		coupons:       coupons,
		pricer:        newPricer(params.FallbackPrice, params.MediaBaseURL),
		remoteTimeout: timeout,
		staleAfter:    params.StaleAfter,
		deliveryFee:   fee,
		now:           now,
		debounce:      newDebouncer(params.DebounceWindow, params.schedule),
		lifetime:      lifetime,
		cancel:        cancel,
	}, nil
}

// Init resolves the user id and loads the remote cart. An unresolvable user
// leaves an empty, inert cart; the failure is visible through Snapshot.
func (s *Store) Init(ctx context.Context) error {
	if s.isClosed() {
		return errStoreClosed()
	}

	userID, err := s.resolver.ResolveUserID(ctx, s.credential)
	userID = strings.TrimSpace(userID)
	if err == nil && userID == "" {
		err = errors.New("resolver returned an empty user id")
	}
	if err != nil {
		s.mu.Lock()
		s.userID = ""
		s.resolved = false
		s.lines = nil
		s.syncErr = err
		s.mu.Unlock()
		s.logg.WarnErr(ctx, "cart.user_unresolved", err)
		return nil
	}

	s.mu.Lock()
	s.userID = userID
	s.resolved = true
	s.mu.Unlock()

	ctx = s.logg.WithUserID(ctx, userID)
	if err := s.Reload(ctx); err != nil {
		s.logg.Warn(ctx, "cart.initial_load_failed")
	}
	return nil
}

// Reload replaces the local view with the remote cart. Reloads are ticketed:
// the result of a reload is dropped if a later-issued one has already landed.
// Pending debounced quantities are laid over the fresh lines since they are newer than the server's view.
func (s *Store) Reload(ctx context.Context) error {
	userID, err := s.requireUser()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.reloadIssued++
	ticket := s.reloadIssued
	s.mu.Unlock()

	var remote []RemoteLine
	err = s.call(ctx, opFetchCart, func(ctx context.Context) error {
		var fetchErr error
		remote, fetchErr = s.remote.FetchCart(ctx, userID)
		return fetchErr
	})
	s.metrics.IncReload(err)
	if err != nil {
		s.mu.Lock()
		if ticket > s.reloadApplied {
			s.syncErr = err
		}
		s.mu.Unlock()
		s.logg.WarnErr(ctx, "cart.reload_failed", err)
		return err
	}

	lines := s.mergeRemote(ctx, remote)
	pending := s.debounce.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}
	if ticket < s.reloadApplied {
		return nil
	}
	for i := range lines {
		if qty, ok := pending[lines[i].ProductID]; ok {
			lines[i].Quantity = qty
		}
	}
	s.lines = lines
	s.reloadApplied = ticket
	s.syncErr = nil
	s.lastSynced = s.now()
	return nil
}

// Refresh reloads the cart when the local view cannot be trusted: the last
// sync failed, no sync has landed yet, or the last one is older than the
// stale window. It reports whether a reload was attempted.
func (s *Store) Refresh(ctx context.Context) (bool, error) {
	s.mu.RLock()
	resolved, closed := s.resolved, s.closed
	needed := s.syncErr != nil || s.lastSynced.IsZero() ||
		(s.staleAfter > 0 && s.now().Sub(s.lastSynced) >= s.staleAfter)
	s.mu.RUnlock()
	if !resolved || closed || !needed {
		return false, nil
	}
	return true, s.Reload(ctx)
}

// AddToCart optimistically adds quantity of product, pushes the add to the
// remote cart and then reloads whatever the outcome. Result.Success reports
// whether the remote add went through.
//
// When a debounced quantity update is already pending for the product the add
// is folded into it and no separate remote add is sent; the pending update is
// then the only write for that product. Reconciled is false in that case since
// nothing has reached the server yet.
func (s *Store) AddToCart(ctx context.Context, product Product, quantity int, opts AddOptions) (Result, error) {
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if quantity <= 0 {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	userID, err := s.requireUser()
	if err != nil {
		return Result{}, err
	}
	ctx = s.logg.WithProductID(s.logg.WithUserID(ctx, userID), productID)

	fresh := s.pricer.lineFromProduct(product, opts)
	if fresh.PriceFallback {
		s.flagFallback(ctx)
	}

	if pending, folded := s.debounce.Bump(productID, quantity); folded {
		s.setOrAppend(fresh, pending)
		s.logg.Debug(s.logg.WithField(ctx, "pending_quantity", pending), "cart.add_folded")
		return Result{Success: true, Quantity: s.ItemQuantity(productID)}, nil
	}

	s.mu.Lock()
	if idx := s.indexOf(productID); idx >= 0 {
		s.lines[idx].Quantity += quantity
	} else {
		fresh.Quantity = quantity
		s.lines = append(s.lines, fresh)
	}
	s.mu.Unlock()

	addErr := s.call(ctx, opAddItem, func(ctx context.Context) error {
		return s.remote.AddItem(ctx, userID, productID, quantity, fresh.UnitPrice)
	})
	if addErr != nil {
		s.logg.Error(ctx, "cart.add_failed", addErr)
	}

	reloadErr := s.Reload(ctx)
	return Result{
		Success:    addErr == nil,
		Quantity:   s.ItemQuantity(productID),
		Reconciled: reloadErr == nil,
	}, nil
}

// setOrAppend sets the product's local quantity, adding line when the product
// has no local line yet.
func (s *Store) setOrAppend(line CartLine, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(line.ProductID); idx >= 0 {
		s.lines[idx].Quantity = quantity
		return
	}
	line.Quantity = quantity
	s.lines = append(s.lines, line)
}

// UpdateQuantity sets the quantity locally right away and schedules the remote
// update behind the debounce window. A quantity of zero or less removes the line.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if quantity <= 0 {
		return s.RemoveFromCart(ctx, productID)
	}
	if _, err := s.requireUser(); err != nil {
		return err
	}

	s.mu.Lock()
	idx := s.indexOf(productID)
	if idx < 0 {
		s.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeNotFound, "product is not in the cart")
	}
	s.lines[idx].Quantity = quantity
	s.mu.Unlock()

	if s.debounce.Schedule(productID, quantity, s.fireDebounced) {
		s.metrics.IncSuperseded()
	}
	return nil
}

// RemoveFromCart deletes the product's line remotely and then locally.
// The applied coupon is left alone.
func (s *Store) RemoveFromCart(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	userID, err := s.requireUser()
	if err != nil {
		return err
	}
	ctx = s.logg.WithProductID(s.logg.WithUserID(ctx, userID), productID)

	s.debounce.Cancel(productID)

	lineID, ok := s.lineID(productID)
	if !ok {
		return nil
	}
	if isTemporaryLineID(lineID) {
		if err := s.Reload(ctx); err != nil {
			return err
		}
		lineID, ok = s.lineID(productID)
		if !ok {
			return nil
		}
		if isTemporaryLineID(lineID) {
			s.dropLine(productID)
			return nil
		}
	}

	ctx = s.logg.WithLineID(ctx, lineID)
	err = s.call(ctx, opRemoveItem, func(ctx context.Context) error {
		return s.remote.RemoveItem(ctx, lineID, userID)
	})
	if err != nil {
		s.logg.Error(ctx, "cart.remove_failed", err)
		_ = s.Reload(ctx)
		return err
	}
	s.dropLine(productID)
	return nil
}

// ClearCart empties the remote cart, then the local one. A cleared cart never keeps its coupon.
func (s *Store) ClearCart(ctx context.Context) error {
	userID, err := s.requireUser()
	if err != nil {
		return err
	}
	ctx = s.logg.WithUserID(ctx, userID)

	s.debounce.CancelAll()

	err = s.call(ctx, opClearCart, func(ctx context.Context) error {
		return s.remote.ClearCart(ctx, userID)
	})
	if err != nil {
		s.logg.Error(ctx, "cart.clear_failed", err)
		_ = s.Reload(ctx)
		return err
	}

	s.mu.Lock()
	s.lines = nil
	s.coupon = nil
	s.invalidateReloadsLocked()
	s.mu.Unlock()
	return nil
}

// ApplyCoupon validates code against the local coupon table and applies it,
// replacing any coupon already applied. Unknown codes change nothing.
func (s *Store) ApplyCoupon(code string) bool {
	coupon, ok := s.coupons.Lookup(code)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.coupon = &coupon
	return true
}

// RemoveCoupon drops the applied coupon, if any.
func (s *Store) RemoveCoupon() {
	s.mu.Lock()
	s.coupon = nil
	s.mu.Unlock()
}

// Snapshot derives items and totals from the current lines.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	snap := computeSnapshot(s.lines, s.coupon, s.deliveryFee)
	snap.UserResolved = s.resolved
	if s.syncErr != nil {
		snap.SyncError = s.syncErr.Error()
	}
	snap.LastSyncedAt = s.lastSynced
	s.mu.RUnlock()

	snap.PendingSync = s.debounce.Len()
	return snap
}

// Items returns a copy of the current lines.
func (s *Store) Items() []CartLine {
	return s.Snapshot().Items
}

// ItemQuantity returns the local quantity for productID, or 0 when it is not in the cart.
func (s *Store) ItemQuantity(productID string) int {
	productID = strings.TrimSpace(productID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexOf(productID); idx >= 0 {
		return s.lines[idx].Quantity
	}
	return 0
}

// Flush pushes every pending debounced update immediately, e.g. before checkout.
func (s *Store) Flush(ctx context.Context) error {
	userID, err := s.requireUser()
	if err != nil {
		return err
	}
	ctx = s.logg.WithUserID(ctx, userID)

	var errs error
	for _, p := range s.debounce.Drain() {
		if err := s.pushQuantity(ctx, p.productID, p.quantity); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Close tears the store down: pending timers are stopped and forgotten and
// in-flight debounced calls are cancelled. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.debounce.Close()
	s.cancel()
	s.logg.Debug(s.lifetime, "cart.closed")
	return nil
}

// UserID returns the resolved backend user id, or "" before resolution.
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Store) fireDebounced(productID string, quantity int) {
	if s.lifetime.Err() != nil {
		return
	}
	ctx := s.logg.WithUserID(s.lifetime, s.UserID())
	_ = s.pushQuantity(ctx, productID, quantity)
}

func (s *Store) pushQuantity(ctx context.Context, productID string, quantity int) error {
	userID, err := s.requireUser()
	if err != nil {
		return err
	}
	ctx = s.logg.WithProductID(ctx, productID)

	lineID, ok := s.lineID(productID)
	if !ok {
		return nil
	}
	if isTemporaryLineID(lineID) {
		if err := s.Reload(ctx); err != nil {
			return err
		}
		lineID, ok = s.lineID(productID)
		if !ok || isTemporaryLineID(lineID) {
			s.logg.Warn(ctx, "cart.update_skipped_unsynced_line")
			return nil
		}
		s.setQuantity(productID, quantity)
	}

	ctx = s.logg.WithLineID(ctx, lineID)
	err = s.call(ctx, opUpdateItem, func(ctx context.Context) error {
		return s.remote.UpdateItem(ctx, lineID, quantity, userID)
	})
	if err != nil {
		s.logg.Error(ctx, "cart.update_failed", err)
		if ctx.Err() == nil {
			_ = s.Reload(ctx)
		}
		return err
	}
	return nil
}

func (s *Store) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	s.metrics.ObserveRemoteCall(op, time.Since(start), err)
	if err != nil {
		return remoteFailure(op, err)
	}
	return nil
}

func (s *Store) mergeRemote(ctx context.Context, remote []RemoteLine) []CartLine {
	lines := make([]CartLine, 0, len(remote))
	index := make(map[string]int, len(remote))
	for _, r := range remote {
		line, ok := s.pricer.lineFromRemote(r)
		if !ok {
			continue
		}
		lineCtx := s.logg.WithProductID(ctx, line.ProductID)
		if line.PriceFallback {
			s.flagFallback(lineCtx)
		}
		if i, dup := index[line.ProductID]; dup {
			lines[i].Quantity += line.Quantity
			s.logg.Warn(s.logg.WithField(lineCtx, "remote_line_id", line.RemoteLineID), "cart.duplicate_remote_line")
			continue
		}
		index[line.ProductID] = len(lines)
		lines = append(lines, line)
	}
	return lines
}

func (s *Store) flagFallback(ctx context.Context) {
	s.metrics.IncPriceFallback()
	s.logg.Warn(ctx, "cart.price_fallback_used")
}

func (s *Store) requireUser() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.resolved {
		return "", errUserUnresolved()
	}
	if s.closed {
		return "", errStoreClosed()
	}
	return s.userID, nil
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// indexOf must be called with s.mu held.
func (s *Store) indexOf(productID string) int {
	for i := range s.lines {
		if s.lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (s *Store) lineID(productID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexOf(productID); idx >= 0 {
		return s.lines[idx].RemoteLineID, true
	}
	return "", false
}

func (s *Store) setQuantity(productID string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(productID); idx >= 0 {
		s.lines[idx].Quantity = quantity
	}
}

func (s *Store) dropLine(productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(productID); idx >= 0 {
		s.lines = append(s.lines[:idx:idx], s.lines[idx+1:]...)
	}
	s.invalidateReloadsLocked()
}

// invalidateReloadsLocked makes every in-flight reload stale so it cannot resurrect lines removed locally.
func (s *Store) invalidateReloadsLocked() {
	s.reloadIssued++
	s.reloadApplied = s.reloadIssued
}

func remoteFailure(op string, err error) error {
	return pkgerrors.Classify(err, op)
}

func errStoreClosed() error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "cart session is closed")
}

func errUserUnresolved() error {
	return pkgerrors.New(pkgerrors.CodeUnauthorized, "cart user could not be resolved")
}
