package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatus is the catalog lifecycle state of a product.
type ProductStatus int

const (
	ProductInactive ProductStatus = 0
	ProductActive   ProductStatus = 1
	ProductRaffled  ProductStatus = 2
)

func (s ProductStatus) String() string {
	switch s {
	case ProductInactive:
		return "inactive"
	case ProductActive:
		return "active"
	case ProductRaffled:
		return "raffled"
	default:
		return "undefined"
	}
}

// Product represents a limited-stock item that is given away by raffle.
// Quantity is the remaining stock and never goes below zero.
type Product struct {
	ID       uint64          `json:"id"`
	SKU      string          `json:"sku"`
	Name     string          `json:"name"`
	Status   ProductStatus   `json:"status"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	RaffleAt time.Time       `json:"raffleAt"`
}

// Raffleable reports whether the product is due for a winner draw at now.
func (p *Product) Raffleable(now time.Time) bool {
	return p.Status == ProductActive && !p.RaffleAt.After(now)
}
