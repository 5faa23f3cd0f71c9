package cartsync

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func money(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func TestPriceForProduct(t *testing.T) {
	p := newPricer(decimal.Zero, "")

	cases := []struct {
		name         string
		product      Product
		wantUnit     string
		wantOriginal string
		wantFallback bool
	}{
		{"sale wins", Product{SalePrice: money("80"), ListPrice: money("100")}, "80", "100", false},
		{"zero sale ignored", Product{SalePrice: money("0"), ListPrice: money("100")}, "100", "100", false},
		{"negative list ignored", Product{ListPrice: money("-5")}, "150", "150", true},
		{"nothing priced", Product{}, "150", "150", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			unit, original, fallback := p.priceForProduct(tc.product)
			assert.Equal(t, tc.wantUnit, unit.String())
			assert.Equal(t, tc.wantOriginal, original.String())
			assert.Equal(t, tc.wantFallback, fallback)
		})
	}
}

func TestPriceForRemoteUsesLinePriceBeforeList(t *testing.T) {
	p := newPricer(decimal.NewFromInt(99), "")

	unit, original, fallback := p.priceForRemote(RemoteLine{
		Price:   money("42.5"),
		Product: &Product{ListPrice: money("50")},
	})
	assert.Equal(t, "42.5", unit.String())
	assert.Equal(t, "50", original.String())
	assert.False(t, fallback)

	unit, _, fallback = p.priceForRemote(RemoteLine{})
	assert.Equal(t, "99", unit.String())
	assert.True(t, fallback)
}

func TestLineFromRemoteSkipsUnusableLines(t *testing.T) {
	p := newPricer(decimal.Zero, "")

	_, ok := p.lineFromRemote(RemoteLine{ID: "l1", Quantity: 2})
	assert.False(t, ok)
	_, ok = p.lineFromRemote(RemoteLine{ID: "l1", ProductID: "A", Quantity: -1})
	assert.False(t, ok)

	line, ok := p.lineFromRemote(RemoteLine{ID: " l2 ", Quantity: 1, Product: &Product{ID: "B", Rating: -3}})
	require.True(t, ok)
	assert.Equal(t, "B", line.ProductID)
	assert.Equal(t, "l2", line.RemoteLineID)
	assert.Equal(t, 0.0, line.Rating)
	assert.Equal(t, defaultPrepMinutes, line.PreparationTimeMinutes)
}

func TestLineFromProductAssignsTemporaryID(t *testing.T) {
	p := newPricer(decimal.Zero, "")
	line := p.lineFromProduct(Product{ID: "A", Ingredients: []string{"rice"}}, AddOptions{SpiceLevel: "  "})

	assert.True(t, isTemporaryLineID(line.RemoteLineID))
	assert.False(t, line.Synced())
	assert.Equal(t, defaultSpiceLevel, line.SpiceLevel)
	assert.Equal(t, []string{"rice"}, line.Ingredients)
}

func TestNormalizeImageRef(t *testing.T) {
	p := newPricer(decimal.Zero, "https://cdn.example.com/media/")

	cases := map[string]string{
		"":                              "",
		"https://img.example.com/a.png": "https://img.example.com/a.png",
		"http://img.example.com/a.png":  "http://img.example.com/a.png",
		"data:image/png;base64,AAAA":    "data:image/png;base64,AAAA",
		"//img.example.com/a.png":       "https://img.example.com/a.png",
		"/uploads/biryani.jpg":          "https://cdn.example.com/media/uploads/biryani.jpg",
		`uploads\dishes\dal.jpg`:        "https://cdn.example.com/media/uploads/dishes/dal.jpg",
	}
	for in, want := range cases {
		assert.Equal(t, want, p.normalizeImageRef(in), in)
	}

	bare := newPricer(decimal.Zero, "")
	assert.Equal(t, "uploads/x.jpg", bare.normalizeImageRef("uploads/x.jpg"))
}
