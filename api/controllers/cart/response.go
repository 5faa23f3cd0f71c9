package cart

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cartsync/internal/cartsync"
)

type cartItemResponse struct {
	ProductID       string          `json:"product_id"`
	LineID          string          `json:"line_id"`
	Synced          bool            `json:"synced"`
	Name            string          `json:"name"`
	Image           string          `json:"image,omitempty"`
	SpiceLevel      string          `json:"spice_level"`
	Description     string          `json:"description,omitempty"`
	PreparationTime int             `json:"preparation_time"`
	Rating          float64         `json:"rating"`
	Featured        bool            `json:"featured"`
	Ingredients     []string        `json:"ingredients"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	OriginalPrice   decimal.Decimal `json:"original_price"`
	Quantity        int             `json:"quantity"`
	LineTotal       decimal.Decimal `json:"line_total"`
	PriceFallback   bool            `json:"price_fallback,omitempty"`
}

type couponResponse struct {
	Code          string          `json:"code"`
	DiscountType  string          `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	Description   string          `json:"description,omitempty"`
}

type cartResponse struct {
	Items        []cartItemResponse `json:"items"`
	Subtotal     decimal.Decimal    `json:"subtotal"`
	Discount     decimal.Decimal    `json:"discount"`
	DeliveryFee  decimal.Decimal    `json:"delivery_fee"`
	Total        decimal.Decimal    `json:"total"`
	ItemCount    int                `json:"item_count"`
	Coupon       *couponResponse    `json:"coupon,omitempty"`
	UserResolved bool               `json:"user_resolved"`
	SyncError    string             `json:"sync_error,omitempty"`
	LastSyncedAt *time.Time         `json:"last_synced_at,omitempty"`
	PendingSync  int                `json:"pending_sync"`
}

type addItemResponse struct {
	Quantity   int          `json:"quantity"`
	Reconciled bool         `json:"reconciled"`
	Cart       cartResponse `json:"cart"`
}

type itemQuantityResponse struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func newCartResponse(snap cartsync.Snapshot) cartResponse {
	items := make([]cartItemResponse, 0, len(snap.Items))
	for _, line := range snap.Items {
		ingredients := line.Ingredients
		if ingredients == nil {
			ingredients = []string{}
		}
		items = append(items, cartItemResponse{
			ProductID:       line.ProductID,
			LineID:          line.RemoteLineID,
			Synced:          line.Synced(),
			Name:            line.Name,
			Image:           line.ImageRef,
			SpiceLevel:      line.SpiceLevel,
			Description:     line.Description,
			PreparationTime: line.PreparationTimeMinutes,
			Rating:          line.Rating,
			Featured:        line.Featured,
			Ingredients:     ingredients,
			UnitPrice:       line.UnitPrice,
			OriginalPrice:   line.OriginalPrice,
			Quantity:        line.Quantity,
			LineTotal:       line.LineTotal(),
			PriceFallback:   line.PriceFallback,
		})
	}

	resp := cartResponse{
		Items:        items,
		Subtotal:     snap.Subtotal,
		Discount:     snap.Discount,
		DeliveryFee:  snap.DeliveryFee,
		Total:        snap.Total,
		ItemCount:    snap.ItemCount,
		UserResolved: snap.UserResolved,
		SyncError:    snap.SyncError,
		PendingSync:  snap.PendingSync,
	}
	if snap.Coupon != nil {
		resp.Coupon = &couponResponse{
			Code:          snap.Coupon.Code,
			DiscountType:  string(snap.Coupon.DiscountType),
			DiscountValue: snap.Coupon.DiscountValue,
			Description:   snap.Coupon.Description,
		}
	}
	if !snap.LastSyncedAt.IsZero() {
		synced := snap.LastSyncedAt.UTC()
		resp.LastSyncedAt = &synced
	}
	return resp
}
