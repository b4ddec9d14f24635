package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"raffle/internal/cache"
	"raffle/internal/models"
	"raffle/internal/payment"
	"raffle/internal/store"
)

type testEnv struct {
	store    *store.Store
	catalog  *CatalogService
	settler  *SettlementProcessor
	batches  *BatchOrchestrator
	selector *WinnerSelector
	raffle   *RaffleService
	entries  *EntryService
}

func approveAll() payment.Gateway {
	return payment.GatewayFunc(func(ctx context.Context, _ payment.ChargeRequest) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return uuid.NewString(), nil
	})
}

func newTestEnv(t *testing.T, gateway payment.Gateway) *testEnv {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "raffle.db"), time.Second)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	catalog := NewCatalogService(st, cache.NewMemory(time.Minute))
	settler := NewSettlementProcessor(st, gateway, catalog, time.Second)
	batches := NewBatchOrchestrator(settler, 4, 3, time.Millisecond)
	selector := NewWinnerSelector(catalog, st, batches)
	return &testEnv{
		store:    st,
		catalog:  catalog,
		settler:  settler,
		batches:  batches,
		selector: selector,
		raffle:   NewRaffleService(catalog, selector, 4),
		entries:  NewEntryService(st, st, catalog),
	}
}

func (e *testEnv) product(t *testing.T, qty int) *models.Product {
	t.Helper()
	p := &models.Product{
		SKU:      "SKU-" + uuid.NewString()[:8],
		Name:     "Sneaker",
		Status:   models.ProductActive,
		Quantity: qty,
		Price:    decimal.RequireFromString("199.00"),
		RaffleAt: time.Now().Add(-time.Minute),
	}
	if err := e.store.PutProduct(p); err != nil {
		t.Fatalf("put product: %v", err)
	}
	return p
}

func (e *testEnv) entry(t *testing.T, userID, productID uint64) *models.RaffleEntry {
	t.Helper()
	en := &models.RaffleEntry{UserID: userID, AddressID: 1, ProductID: productID, PaymentToken: "tok_visa"}
	if err := e.store.InsertEntry(en); err != nil {
		t.Fatalf("insert entry: %v", err)
	}
	return en
}

func (e *testEnv) quantity(t *testing.T, productID uint64) int {
	t.Helper()
	p, err := e.store.GetProduct(productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return p.Quantity
}

func (e *testEnv) orders(t *testing.T, productID uint64) []models.Order {
	t.Helper()
	orders, err := e.store.OrdersForProduct(productID)
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	return orders
}

func (e *testEnv) stats(t *testing.T, productID uint64) map[models.EntryStatus]int {
	t.Helper()
	stats, err := e.store.EntryStats(productID)
	if err != nil {
		t.Fatalf("entry stats: %v", err)
	}
	return stats
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
