package cartsync

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog view of an item handed to AddToCart, or joined onto a remote cart line.
// Prices are nullable because the backend joins are not always complete.
type Product struct {
	ID                     string
	Name                   string
	ImageRef               string
	SpiceLevel             string
	Description            string
	PreparationTimeMinutes int
	Rating                 float64
	Featured               bool
	Ingredients            []string
	ListPrice              decimal.NullDecimal
	SalePrice              decimal.NullDecimal
}

// RemoteLine is one cart line as returned by the remote cart service.
type RemoteLine struct {
	ID        string
	ProductID string
	Quantity  int
	// Price is the transactional price recorded on the line, if any.
	Price   decimal.NullDecimal
	Product *Product
}

// CartLine is one product currently held in the local cart mirror.
type CartLine struct {
	ProductID              string          `json:"product_id"`
	RemoteLineID           string          `json:"remote_line_id"`
	Name                   string          `json:"name"`
	ImageRef               string          `json:"image_ref"`
	SpiceLevel             string          `json:"spice_level"`
	Description            string          `json:"description"`
	PreparationTimeMinutes int             `json:"preparation_time_minutes"`
	Rating                 float64         `json:"rating"`
	Featured               bool            `json:"featured"`
	Ingredients            []string        `json:"ingredients"`
	UnitPrice              decimal.Decimal `json:"unit_price"`
	OriginalPrice          decimal.Decimal `json:"original_price"`
	Quantity               int             `json:"quantity"`
	PriceFallback          bool            `json:"price_fallback,omitempty"`
}

// Synced reports whether the backend has assigned a line id yet.
func (l CartLine) Synced() bool {
	return l.RemoteLineID != "" && !isTemporaryLineID(l.RemoteLineID)
}

// LineTotal is unit price times quantity.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l CartLine) clone() CartLine {
	out := l
	if l.Ingredients != nil {
		out.Ingredients = append(make([]string, 0, len(l.Ingredients)), l.Ingredients...)
	}
	return out
}

// AddOptions tweaks how a product lands in the cart.
type AddOptions struct {
	// SpiceLevel overrides the product's displayed spice level.
	SpiceLevel string
}

// Result reports the outcome of AddToCart.
type Result struct {
	Success bool `json:"success"`
	// Quantity is the line quantity after reconciliation.
	Quantity int `json:"quantity"`
	// Reconciled is false when the follow-up reload failed and the view may be stale.
	Reconciled bool `json:"reconciled"`
}

// Snapshot is the derived, read-only view of the cart. It is recomputed on every read.
type Snapshot struct {
	Items        []CartLine      `json:"items"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	DeliveryFee  decimal.Decimal `json:"delivery_fee"`
	Total        decimal.Decimal `json:"total"`
	ItemCount    int             `json:"item_count"`
	Coupon       *Coupon         `json:"coupon,omitempty"`
	UserResolved bool            `json:"user_resolved"`
	SyncError    string          `json:"sync_error,omitempty"`
	LastSyncedAt time.Time       `json:"last_synced_at"`
	PendingSync  int             `json:"pending_sync"`
}
