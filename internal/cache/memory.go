package cache

import (
	"context"
	"sync"
	"time"

	"raffle/internal/models"
)

type memoryItem struct {
	product   models.Product
	expiresAt time.Time
}

// Memory is an in-process ProductCache used when no redis is configured.
type Memory struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemory creates an in-memory cache whose entries live for ttl.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:   ttl,
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (m *Memory) Get(_ context.Context, id uint64) (*models.Product, error) {
	m.mu.RLock()
	item, ok := m.items[productKey(id)]
	m.mu.RUnlock()
	if !ok || !m.now().Before(item.expiresAt) {
		return nil, ErrMiss
	}
	p := item.product
	return &p, nil
}

func (m *Memory) Set(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[productKey(p.ID)] = memoryItem{product: *p, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *Memory) Invalidate(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, productKey(id))
	return nil
}

// Sweep drops expired entries.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for k, item := range m.items {
		if !now.Before(item.expiresAt) {
			delete(m.items, k)
			removed++
		}
	}
	return removed
}
