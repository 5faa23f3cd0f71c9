package cart

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cartsync/api/validators"
	"github.com/angelmondragon/cartsync/internal/cartsync"
)

const (
	maxNameLen  = 200
	maxSpiceLen = 32
	maxTextLen  = 2000
	maxCodeLen  = 32
)

type productRequest struct {
	ID              string              `json:"id" validate:"required,max=128"`
	Name            string              `json:"name,omitempty"`
	Image           string              `json:"image,omitempty"`
	SpiceLevel      string              `json:"spice_level,omitempty"`
	Description     string              `json:"description,omitempty"`
	PreparationTime int                 `json:"preparation_time,omitempty" validate:"gte=0"`
	Rating          float64             `json:"rating,omitempty"`
	Featured        bool                `json:"featured,omitempty"`
	Ingredients     []string            `json:"ingredients,omitempty"`
	Price           decimal.NullDecimal `json:"price" validate:"omitempty,gte=0"`
	SalePrice       decimal.NullDecimal `json:"sale_price" validate:"omitempty,gte=0"`
}

type addItemRequest struct {
	Product    *productRequest `json:"product" validate:"required"`
	Quantity   int             `json:"quantity" validate:"required,gte=1,lte=99"`
	SpiceLevel string          `json:"spice_level,omitempty" validate:"max=32"`
}

type updateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,lte=99"`
}

type applyCouponRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

func (p productRequest) toProduct() cartsync.Product {
	ingredients := make([]string, 0, len(p.Ingredients))
	for _, ing := range p.Ingredients {
		if clean := validators.SanitizeString(ing, maxNameLen); clean != "" {
			ingredients = append(ingredients, clean)
		}
	}
	return cartsync.Product{
		ID:                     validators.SanitizeString(p.ID, 0),
		Name:                   validators.SanitizeString(p.Name, maxNameLen),
		ImageRef:               validators.SanitizeString(p.Image, maxTextLen),
		SpiceLevel:             validators.SanitizeString(p.SpiceLevel, maxSpiceLen),
		Description:            validators.SanitizeString(p.Description, maxTextLen),
		PreparationTimeMinutes: p.PreparationTime,
		Rating:                 p.Rating,
		Featured:               p.Featured,
		Ingredients:            ingredients,
		ListPrice:              p.Price,
		SalePrice:              p.SalePrice,
	}
}

func (r addItemRequest) options() cartsync.AddOptions {
	return cartsync.AddOptions{SpiceLevel: validators.SanitizeString(r.SpiceLevel, maxSpiceLen)}
}
