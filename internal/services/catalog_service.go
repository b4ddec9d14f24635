package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/logger"

	"raffle/internal/cache"
	"raffle/internal/models"
	"raffle/internal/store"
)

// ProductStore is the catalog side of the store.
type ProductStore interface {
	GetProduct(id uint64) (*models.Product, error)
	PutProduct(p *models.Product) error
	ListRaffleable(now time.Time) ([]uint64, error)
}

// CatalogService reads products through a cache and keeps the cache coherent
// by invalidating only the product that changed.
type CatalogService struct {
	products ProductStore
	cache    cache.ProductCache
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(products ProductStore, c cache.ProductCache) *CatalogService {
	return &CatalogService{products: products, cache: c}
}

// Get returns the product, from cache when possible.
func (s *CatalogService) Get(ctx context.Context, id uint64) (*models.Product, error) {
	p, err := s.cache.Get(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		logger.Warningf("catalog: cache read product=%d: %v", id, err)
	}
	return s.Fresh(ctx, id)
}

// Fresh reads the product from the store and refreshes the cache.
func (s *CatalogService) Fresh(ctx context.Context, id uint64) (*models.Product, error) {
	p, err := s.products.GetProduct(id)
	if errors.Is(err, store.ErrProductNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, p); err != nil {
		logger.Warningf("catalog: cache write product=%d: %v", id, err)
	}
	return p, nil
}

// GetActive returns the product only if it is open for raffle entries.
func (s *CatalogService) GetActive(ctx context.Context, id uint64) (*models.Product, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != models.ProductActive {
		return nil, ErrProductNotFound
	}
	return p, nil
}

// Put creates or replaces a product and drops its cached copy.
func (s *CatalogService) Put(ctx context.Context, p *models.Product) error {
	if err := s.products.PutProduct(p); err != nil {
		return err
	}
	s.Invalidate(ctx, p.ID)
	return nil
}

// Invalidate drops one product from the cache. Failures are logged only;
// the TTL bounds how long a stale copy can live.
func (s *CatalogService) Invalidate(ctx context.Context, id uint64) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		logger.Warningf("catalog: cache invalidate product=%d: %v", id, err)
	}
}

// ListRaffleable returns the ids of products due for a draw at now.
func (s *CatalogService) ListRaffleable(_ context.Context, now time.Time) ([]uint64, error) {
	return s.products.ListRaffleable(now)
}
