// Package cache keeps read copies of catalog products. Entries are keyed by
// product id and expire after a TTL; writers invalidate only the product they
// touched.
package cache

import (
	"context"
	"errors"
	"strconv"

	"raffle/internal/models"
)

// ErrMiss is returned by Get when the product is not cached.
var ErrMiss = errors.New("cache miss")

// ProductCache stores products by id.
type ProductCache interface {
	Get(ctx context.Context, id uint64) (*models.Product, error)
	Set(ctx context.Context, p *models.Product) error
	Invalidate(ctx context.Context, id uint64) error
}

func productKey(id uint64) string {
	return "raffle:product:" + strconv.FormatUint(id, 10)
}
