package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"raffle/internal/models"
	"raffle/internal/services"
	"raffle/internal/store"
)

const userIDKey = "userID"

// Error messages returned to API clients.
const (
	msgProductNotFound = "Product not found."
	msgAddressNotFound = "Address not found."
	msgEntryClosed     = "Raffle entry already settled."
	msgGeneric         = "Something went wrong"
)

// OrderReader looks orders up for their owners.
type OrderReader interface {
	GetOrderByCode(code string) (*models.Order, error)
}

// AddressWriter stores delivery addresses.
type AddressWriter interface {
	PutAddress(a *models.Address) error
}

// Pinger reports whether storage is usable.
type Pinger interface {
	Ping() error
}

// HTTPHandler holds the dependencies for the HTTP handlers.
type HTTPHandler struct {
	entries   *services.EntryService
	catalog   *services.CatalogService
	scheduler *services.Scheduler
	orders    OrderReader
	addresses AddressWriter
	health    Pinger
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(entries *services.EntryService, catalog *services.CatalogService, scheduler *services.Scheduler, orders OrderReader, addresses AddressWriter, health Pinger) *HTTPHandler {
	return &HTTPHandler{
		entries:   entries,
		catalog:   catalog,
		scheduler: scheduler,
		orders:    orders,
		addresses: addresses,
		health:    health,
	}
}

// RegisterPublicRoutes registers routes that need no user.
func (h *HTTPHandler) RegisterPublicRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/products/:id", h.ShowProduct)
}

// RegisterUserRoutes registers routes acting on behalf of the current user.
func (h *HTTPHandler) RegisterUserRoutes(rg *gin.RouterGroup) {
	rg.POST("/raffle/entry", h.CreateEntry)
	rg.DELETE("/raffle/entry", h.CancelEntry)
	rg.GET("/orders/:code", h.ShowOrder)
}

// RegisterAdminRoutes registers catalog management and the manual raffle
// trigger.
func (h *HTTPHandler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.PUT("/products/:id", h.PutProduct)
	rg.PUT("/addresses/:id", h.PutAddress)
	rg.POST("/raffle/start", h.StartRaffle)
}

// UserMiddleware identifies the caller from the X-User-ID header. Real
// authentication sits in front of this service.
func (h *HTTPHandler) UserMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseUint(c.GetHeader("X-User-ID"), 10, 64)
		if err != nil || userID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "failed", "error": "Unauthenticated."})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) uint64 {
	return c.GetUint64(userIDKey)
}

func failed(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"status": "failed", "error": msg})
}

func pathID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		failed(c, http.StatusBadRequest, "Invalid id.")
		return 0, false
	}
	return id, true
}

type entryRequest struct {
	ProductID    uint64 `json:"product_id" binding:"required"`
	AddressID    uint64 `json:"address_id" binding:"required"`
	PaymentToken string `json:"payment_token" binding:"required"`
}

// CreateEntry enters the current user into a product's raffle. A new entry
// answers 201, an existing pending one 200.
func (h *HTTPHandler) CreateEntry(c *gin.Context) {
	var req entryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failed(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	entry, created, err := h.entries.Create(c.Request.Context(), services.CreateEntryInput{
		UserID:       currentUser(c),
		AddressID:    req.AddressID,
		ProductID:    req.ProductID,
		PaymentToken: req.PaymentToken,
	})
	switch {
	case errors.Is(err, services.ErrAddressNotFound):
		failed(c, http.StatusBadRequest, msgAddressNotFound)
		return
	case errors.Is(err, services.ErrProductNotFound):
		failed(c, http.StatusBadRequest, msgProductNotFound)
		return
	case errors.Is(err, services.ErrEntryClosed):
		failed(c, http.StatusBadRequest, msgEntryClosed)
		return
	case errors.Is(err, services.ErrTransient):
		logger.Warningf("http: create entry user=%d product=%d: %v", currentUser(c), req.ProductID, err)
		failed(c, http.StatusServiceUnavailable, "Please try again.")
		return
	case err != nil:
		logger.Errorf("http: create entry user=%d product=%d: %v", currentUser(c), req.ProductID, err)
		failed(c, http.StatusBadRequest, msgGeneric)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"status": "success", "entry_code": entry.Code})
}

type cancelRequest struct {
	ProductID uint64 `json:"product_id" binding:"required"`
}

// CancelEntry withdraws the current user's pending entry.
func (h *HTTPHandler) CancelEntry(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failed(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	err := h.entries.Cancel(c.Request.Context(), currentUser(c), req.ProductID)
	switch {
	case errors.Is(err, services.ErrProductNotFound):
		failed(c, http.StatusOK, msgProductNotFound)
		return
	case err != nil:
		logger.Errorf("http: cancel entry user=%d product=%d: %v", currentUser(c), req.ProductID, err)
		failed(c, http.StatusInternalServerError, msgGeneric)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// ShowProduct returns an active product.
func (h *HTTPHandler) ShowProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.catalog.GetActive(c.Request.Context(), id)
	if errors.Is(err, services.ErrProductNotFound) {
		failed(c, http.StatusNotFound, msgProductNotFound)
		return
	}
	if err != nil {
		logger.Errorf("http: show product=%d: %v", id, err)
		failed(c, http.StatusInternalServerError, msgGeneric)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": p})
}

// ShowOrder returns one of the current user's orders.
func (h *HTTPHandler) ShowOrder(c *gin.Context) {
	o, err := h.orders.GetOrderByCode(c.Param("code"))
	if errors.Is(err, store.ErrOrderNotFound) || (err == nil && o.UserID != currentUser(c)) {
		failed(c, http.StatusNotFound, "Order not found.")
		return
	}
	if err != nil {
		logger.Errorf("http: show order %s: %v", c.Param("code"), err)
		failed(c, http.StatusInternalServerError, msgGeneric)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": o})
}

type productRequest struct {
	SKU      string               `json:"sku" binding:"required"`
	Name     string               `json:"name" binding:"required"`
	Status   models.ProductStatus `json:"status"`
	Quantity int                  `json:"quantity" binding:"min=0"`
	Price    decimal.Decimal      `json:"price"`
	RaffleAt time.Time            `json:"raffle_at"`
}

// PutProduct creates or replaces a catalog product.
func (h *HTTPHandler) PutProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failed(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if req.Status < models.ProductInactive || req.Status > models.ProductRaffled || req.Price.IsNegative() {
		failed(c, http.StatusUnprocessableEntity, "Invalid product.")
		return
	}

	p := &models.Product{
		ID:       id,
		SKU:      req.SKU,
		Name:     req.Name,
		Status:   req.Status,
		Quantity: req.Quantity,
		Price:    req.Price,
		RaffleAt: req.RaffleAt,
	}
	err := h.catalog.Put(c.Request.Context(), p)
	if errors.Is(err, store.ErrStockReserved) {
		failed(c, http.StatusConflict, "Stock is being settled, try again later.")
		return
	}
	if err != nil {
		logger.Errorf("http: put product=%d: %v", id, err)
		failed(c, http.StatusInternalServerError, msgGeneric)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": p})
}

type addressRequest struct {
	UserID  uint64 `json:"user_id" binding:"required"`
	Line1   string `json:"line1" binding:"required"`
	City    string `json:"city" binding:"required"`
	Country string `json:"country" binding:"required"`
}

// PutAddress creates or replaces a delivery address.
func (h *HTTPHandler) PutAddress(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failed(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	a := &models.Address{ID: id, UserID: req.UserID, Line1: req.Line1, City: req.City, Country: req.Country}
	if err := h.addresses.PutAddress(a); err != nil {
		logger.Errorf("http: put address=%d: %v", id, err)
		failed(c, http.StatusInternalServerError, msgGeneric)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": a})
}

// StartRaffle kicks off a raffle run in the background.
func (h *HTTPHandler) StartRaffle(c *gin.Context) {
	if err := h.scheduler.Trigger(); errors.Is(err, services.ErrRaffleInProgress) {
		failed(c, http.StatusConflict, "Raffle already in progress.")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "success"})
}

// Health reports whether the store answers.
func (h *HTTPHandler) Health(c *gin.Context) {
	if err := h.health.Ping(); err != nil {
		logger.Warningf("http: health check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
