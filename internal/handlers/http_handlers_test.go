package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"raffle/internal/cache"
	"raffle/internal/models"
	"raffle/internal/payment"
	"raffle/internal/services"
	"raffle/internal/store"
)

type testServer struct {
	router  *gin.Engine
	store   *store.Store
	settler *services.SettlementProcessor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.New(filepath.Join(t.TempDir(), "http.db"), time.Second)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	gw := payment.GatewayFunc(func(context.Context, payment.ChargeRequest) (string, error) {
		return uuid.NewString(), nil
	})
	catalog := services.NewCatalogService(st, cache.NewMemory(time.Minute))
	settler := services.NewSettlementProcessor(st, gw, catalog, time.Second)
	batches := services.NewBatchOrchestrator(settler, 2, 1, time.Millisecond)
	selector := services.NewWinnerSelector(catalog, st, batches)
	raffle := services.NewRaffleService(catalog, selector, 2)
	scheduler := services.NewScheduler(raffle, st, time.Hour, time.Minute)
	entries := services.NewEntryService(st, st, catalog)

	h := NewHTTPHandler(entries, catalog, scheduler, st, st, st)
	r := gin.New()
	h.RegisterPublicRoutes(r)
	userRoutes := r.Group("/")
	userRoutes.Use(h.UserMiddleware())
	h.RegisterUserRoutes(userRoutes)
	h.RegisterAdminRoutes(r.Group("/admin"))

	return &testServer{router: r, store: st, settler: settler}
}

func (s *testServer) do(method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) seed(t *testing.T) (*models.Product, *models.Address) {
	t.Helper()
	p := &models.Product{
		SKU:      "AJ1-CHI",
		Name:     "Air Jordan 1",
		Status:   models.ProductActive,
		Quantity: 1,
		Price:    decimal.RequireFromString("180"),
		RaffleAt: time.Now().Add(time.Hour),
	}
	if err := s.store.PutProduct(p); err != nil {
		t.Fatalf("put product: %v", err)
	}
	a := &models.Address{UserID: 5, Line1: "Rua Augusta 1", City: "Lisbon", Country: "PT"}
	if err := s.store.PutAddress(a); err != nil {
		t.Fatalf("put address: %v", err)
	}
	return p, a
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Expected a JSON body, but got %q", w.Body.String())
	}
	return body
}

func TestCreateEntry(t *testing.T) {
	s := newTestServer(t)
	p, a := s.seed(t)
	body := `{"product_id":` + itoa(p.ID) + `,"address_id":` + itoa(a.ID) + `,"payment_token":"tok_visa"}`

	t.Run("Test new entry answers 201", func(t *testing.T) {
		w := s.do(http.MethodPost, "/raffle/entry", "5", body)
		if w.Code != http.StatusCreated {
			t.Fatalf("Expected status 201, but got %d: %s", w.Code, w.Body.String())
		}
		if got := decode(t, w); got["status"] != "success" || got["entry_code"] == "" {
			t.Errorf("Unexpected body %v", got)
		}
	})

	t.Run("Test repeated entry answers 200", func(t *testing.T) {
		w := s.do(http.MethodPost, "/raffle/entry", "5", body)
		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, but got %d", w.Code)
		}
	})

	t.Run("Test foreign address", func(t *testing.T) {
		w := s.do(http.MethodPost, "/raffle/entry", "6", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("Expected status 400, but got %d", w.Code)
		}
		if got := decode(t, w); got["error"] != "Address not found." {
			t.Errorf("Unexpected error %v", got["error"])
		}
	})

	t.Run("Test unknown product", func(t *testing.T) {
		w := s.do(http.MethodPost, "/raffle/entry", "5", `{"product_id":77,"address_id":`+itoa(a.ID)+`,"payment_token":"tok"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("Expected status 400, but got %d", w.Code)
		}
		if got := decode(t, w); got["error"] != "Product not found." {
			t.Errorf("Unexpected error %v", got["error"])
		}
	})

	t.Run("Test missing fields", func(t *testing.T) {
		w := s.do(http.MethodPost, "/raffle/entry", "5", `{"product_id":1}`)
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("Expected status 422, but got %d", w.Code)
		}
	})

	t.Run("Test missing user", func(t *testing.T) {
		w := s.do(http.MethodPost, "/raffle/entry", "", body)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("Expected status 401, but got %d", w.Code)
		}
	})
}

func TestCancelEntry(t *testing.T) {
	s := newTestServer(t)
	p, a := s.seed(t)
	s.do(http.MethodPost, "/raffle/entry", "5", `{"product_id":`+itoa(p.ID)+`,"address_id":`+itoa(a.ID)+`,"payment_token":"tok"}`)

	w := s.do(http.MethodDelete, "/raffle/entry", "5", `{"product_id":`+itoa(p.ID)+`}`)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "success" {
		t.Fatalf("Expected success, but got %d: %s", w.Code, w.Body.String())
	}
	if _, err := s.store.FindPending(5, p.ID); err == nil {
		t.Error("Expected the entry to be deleted")
	}

	w = s.do(http.MethodDelete, "/raffle/entry", "5", `{"product_id":999}`)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "failed" {
		t.Errorf("Expected a failed body with status 200, but got %d: %s", w.Code, w.Body.String())
	}
}

func TestShowOrder(t *testing.T) {
	s := newTestServer(t)
	p, a := s.seed(t)
	s.do(http.MethodPost, "/raffle/entry", "5", `{"product_id":`+itoa(p.ID)+`,"address_id":`+itoa(a.ID)+`,"payment_token":"tok"}`)
	e, err := s.store.FindPending(5, p.ID)
	if err != nil {
		t.Fatalf("find entry: %v", err)
	}
	out, err := s.settler.Settle(context.Background(), e.ID)
	if err != nil || !out.Settled() {
		t.Fatalf("Expected settlement, but got %+v, %v", out, err)
	}

	if w := s.do(http.MethodGet, "/orders/"+out.Order.Code, "5", ""); w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for the owner, but got %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/orders/"+out.Order.Code, "6", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for another user, but got %d", w.Code)
	}
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPut, "/admin/products/3", "", `{"sku":"YZY-350","name":"Yeezy","status":1,"quantity":4,"price":"220.50","raffle_at":"2026-01-01T00:00:00Z"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, but got %d: %s", w.Code, w.Body.String())
	}
	w = s.do(http.MethodGet, "/products/3", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, but got %d", w.Code)
	}

	w = s.do(http.MethodPut, "/admin/products/3", "", `{"sku":"YZY-350","name":"Yeezy","status":0,"quantity":4,"price":"220.50"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, but got %d", w.Code)
	}
	if w = s.do(http.MethodGet, "/products/3", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected an inactive product to be hidden, but got %d", w.Code)
	}

	if w = s.do(http.MethodPut, "/admin/products/3", "", `{"sku":"X","name":"X","quantity":-1}`); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422 for negative quantity, but got %d", w.Code)
	}

	if w = s.do(http.MethodPut, "/admin/addresses/9", "", `{"user_id":5,"line1":"a","city":"b","country":"PT"}`); w.Code != http.StatusOK {
		t.Errorf("Expected status 200, but got %d", w.Code)
	}

	if w = s.do(http.MethodPost, "/admin/raffle/start", "", ""); w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, but got %d", w.Code)
	}
}

func TestPutProductWhileReserved(t *testing.T) {
	s := newTestServer(t)
	p, a := s.seed(t)
	s.do(http.MethodPost, "/raffle/entry", "5", `{"product_id":`+itoa(p.ID)+`,"address_id":`+itoa(a.ID)+`,"payment_token":"tok"}`)
	e, err := s.store.FindPending(5, p.ID)
	if err != nil {
		t.Fatalf("find entry: %v", err)
	}
	if ok, err := s.store.Reserve(e.ID); err != nil || !ok {
		t.Fatalf("reserve: ok=%v err=%v", ok, err)
	}

	w := s.do(http.MethodPut, "/admin/products/"+itoa(p.ID), "", `{"sku":"AJ1-CHI","name":"Air Jordan 1","status":1,"quantity":5,"price":"180"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected status 409, but got %d: %s", w.Code, w.Body.String())
	}
	if q, _ := s.store.GetProduct(p.ID); q.Quantity != 0 {
		t.Errorf("Expected quantity to stay 0, but got %d", q.Quantity)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Errorf("Expected status 200, but got %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/metrics", "", ""); w.Code != http.StatusOK {
		t.Errorf("Expected status 200, but got %d", w.Code)
	}
}

func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}
