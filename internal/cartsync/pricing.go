package cartsync

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	temporaryLinePrefix = "tmp-"

	defaultItemName      = "Unknown item"
	defaultSpiceLevel    = "medium"
	defaultPrepMinutes   = 15
	defaultFallbackPrice = 150
)

// pricer turns catalog and backend data into display-ready cart lines.
// It never yields a zero or missing unit price: when every source is absent it uses fallback and flags the line.
type pricer struct {
	fallback     decimal.Decimal
	mediaBaseURL string
}

func newPricer(fallback decimal.Decimal, mediaBaseURL string) pricer {
	if !fallback.IsPositive() {
		fallback = decimal.NewFromInt(defaultFallbackPrice)
	}
	return pricer{
		fallback:     fallback,
		mediaBaseURL: strings.TrimRight(strings.TrimSpace(mediaBaseURL), "/"),
	}
}

// priceForProduct resolves the charged price for a catalog product: sale price, then list price.
func (p pricer) priceForProduct(prod Product) (unit, original decimal.Decimal, fallback bool) {
	unit, fallback = p.firstPositive(prod.SalePrice, prod.ListPrice)
	return unit, p.originalPrice(prod.ListPrice, unit), fallback
}

// priceForRemote resolves the charged price for a backend line:
// product sale price, then the line's transactional price, then product list price.
func (p pricer) priceForRemote(line RemoteLine) (unit, original decimal.Decimal, fallback bool) {
	var sale, list decimal.NullDecimal
	if line.Product != nil {
		sale = line.Product.SalePrice
		list = line.Product.ListPrice
	}
	unit, fallback = p.firstPositive(sale, line.Price, list)
	return unit, p.originalPrice(list, unit), fallback
}

func (p pricer) firstPositive(candidates ...decimal.NullDecimal) (decimal.Decimal, bool) {
	for _, c := range candidates {
		if c.Valid && c.Decimal.IsPositive() {
			return c.Decimal, false
		}
	}
	return p.fallback, true
}

func (p pricer) originalPrice(list decimal.NullDecimal, unit decimal.Decimal) decimal.Decimal {
	if list.Valid && list.Decimal.IsPositive() {
		return list.Decimal
	}
	return unit
}

// lineFromProduct builds a fresh line for an optimistic insert.
func (p pricer) lineFromProduct(prod Product, opts AddOptions) CartLine {
	unit, original, fallback := p.priceForProduct(prod)
	line := p.withMetadata(CartLine{
		ProductID:     strings.TrimSpace(prod.ID),
		RemoteLineID:  newTemporaryLineID(),
		UnitPrice:     unit,
		OriginalPrice: original,
		PriceFallback: fallback,
	}, &prod)
	if spice := strings.TrimSpace(opts.SpiceLevel); spice != "" {
		line.SpiceLevel = spice
	}
	return line
}

// lineFromRemote maps a backend line. ok is false for lines that cannot exist locally.
func (p pricer) lineFromRemote(remote RemoteLine) (CartLine, bool) {
	productID := strings.TrimSpace(remote.ProductID)
	if productID == "" && remote.Product != nil {
		productID = strings.TrimSpace(remote.Product.ID)
	}
	if productID == "" || remote.Quantity <= 0 {
		return CartLine{}, false
	}
	unit, original, fallback := p.priceForRemote(remote)
	return p.withMetadata(CartLine{
		ProductID:     productID,
		RemoteLineID:  strings.TrimSpace(remote.ID),
		UnitPrice:     unit,
		OriginalPrice: original,
		Quantity:      remote.Quantity,
		PriceFallback: fallback,
	}, remote.Product), true
}

func (p pricer) withMetadata(line CartLine, prod *Product) CartLine {
	if prod != nil {
		line.Name = strings.TrimSpace(prod.Name)
		line.ImageRef = p.normalizeImageRef(prod.ImageRef)
		line.SpiceLevel = strings.TrimSpace(prod.SpiceLevel)
		line.Description = strings.TrimSpace(prod.Description)
		line.PreparationTimeMinutes = prod.PreparationTimeMinutes
		line.Rating = prod.Rating
		line.Featured = prod.Featured
		line.Ingredients = append([]string(nil), prod.Ingredients...)
	}
	if line.Name == "" {
		line.Name = defaultItemName
	}
	if line.SpiceLevel == "" {
		line.SpiceLevel = defaultSpiceLevel
	}
	if line.PreparationTimeMinutes <= 0 {
		line.PreparationTimeMinutes = defaultPrepMinutes
	}
	if line.Rating < 0 {
		line.Rating = 0
	}
	if line.Ingredients == nil {
		line.Ingredients = []string{}
	}
	return line
}

// normalizeImageRef turns backend image paths into absolute URLs the app can load.
func (p pricer) normalizeImageRef(ref string) string {
	ref = strings.ReplaceAll(strings.TrimSpace(ref), "\\", "/")
	switch {
	case ref == "":
		return ""
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"), strings.HasPrefix(ref, "data:"):
		return ref
	case strings.HasPrefix(ref, "//"):
		return "https:" + ref
	case p.mediaBaseURL == "":
		return ref
	default:
		return p.mediaBaseURL + "/" + strings.TrimLeft(ref, "/")
	}
}

func newTemporaryLineID() string {
	return temporaryLinePrefix + uuid.NewString()
}

func isTemporaryLineID(id string) bool {
	return strings.HasPrefix(id, temporaryLinePrefix)
}
