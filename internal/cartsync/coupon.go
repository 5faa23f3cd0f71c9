package cartsync

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal, rounded to two places.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a flat amount; the cart total is clamped at zero.
	DiscountFixed DiscountType = "fixed"
)

// Coupon is a known promo code. At most one is applied to a cart at a time.
type Coupon struct {
	Code          string          `json:"code"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	Description   string          `json:"description,omitempty"`
}

// Discount returns the amount this coupon takes off the given subtotal.
func (c Coupon) Discount(subtotal decimal.Decimal) decimal.Decimal {
	switch c.DiscountType {
	case DiscountPercentage:
		return subtotal.Mul(c.DiscountValue).Div(decimal.NewFromInt(100)).Round(2)
	case DiscountFixed:
		return c.DiscountValue
	default:
		return decimal.Zero
	}
}

// CouponTable is the fixed local table codes are validated against.
type CouponTable map[string]Coupon

// DefaultCoupons returns the codes the app ships with.
func DefaultCoupons() CouponTable {
	return NewCouponTable(
		Coupon{Code: "SAVE10", DiscountType: DiscountPercentage, DiscountValue: decimal.NewFromInt(10), Description: "10% off your order"},
		Coupon{Code: "SAVE20", DiscountType: DiscountPercentage, DiscountValue: decimal.NewFromInt(20), Description: "20% off your order"},
		Coupon{Code: "FLAT50", DiscountType: DiscountFixed, DiscountValue: decimal.NewFromInt(50), Description: "50 off your order"},
		Coupon{Code: "FIRST100", DiscountType: DiscountFixed, DiscountValue: decimal.NewFromInt(100), Description: "100 off your first order"},
	)
}

// NewCouponTable indexes coupons by normalized code, skipping malformed entries.
func NewCouponTable(coupons ...Coupon) CouponTable {
	table := make(CouponTable, len(coupons))
	for _, c := range coupons {
		code := normalizeCouponCode(c.Code)
		if code == "" || !c.DiscountValue.IsPositive() {
			continue
		}
		if c.DiscountType != DiscountPercentage && c.DiscountType != DiscountFixed {
			continue
		}
		c.Code = code
		table[code] = c
	}
	return table
}

// Lookup finds a coupon by code, ignoring case and surrounding whitespace.
func (t CouponTable) Lookup(code string) (Coupon, bool) {
	c, ok := t[normalizeCouponCode(code)]
	return c, ok
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
