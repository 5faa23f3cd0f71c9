package cartsync

import "github.com/shopspring/decimal"

func computeSnapshot(lines []CartLine, coupon *Coupon, deliveryFee decimal.Decimal) Snapshot {
	items := make([]CartLine, 0, len(lines))
	subtotal := decimal.Zero
	count := 0
	for _, line := range lines {
		items = append(items, line.clone())
		subtotal = subtotal.Add(line.LineTotal())
		count += line.Quantity
	}

	discount := decimal.Zero
	var applied *Coupon
	if coupon != nil {
		c := *coupon
		applied = &c
		discount = c.Discount(subtotal)
	}

	total := subtotal.Add(deliveryFee).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Snapshot{
		Items:       items,
		Subtotal:    subtotal,
		Discount:    discount,
		DeliveryFee: deliveryFee,
		Total:       total,
		ItemCount:   count,
		Coupon:      applied,
	}
}
