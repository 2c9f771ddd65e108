package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ariefcatur/cafeteria-pos/internal/metrics"
	"github.com/ariefcatur/cafeteria-pos/internal/orders"
)

const maxBodyBytes = 1 << 20

type OrderService interface {
	PlaceOrder(ctx context.Context, req orders.PlaceOrderRequest) (*orders.Order, error)
	SetOrderStatus(ctx context.Context, orderID int64, status orders.Status) error
	ActiveOrders(ctx context.Context) ([]orders.ActiveOrder, error)
	OrderHistory(ctx context.Context, limit int) ([]orders.HistoryEntry, error)
	GetOrder(ctx context.Context, id int64) (*orders.Order, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

// Cache is optional. Its errors are never fatal; the database stays the
// source of truth.
type Cache interface {
	LookupIdempotent(ctx context.Context, key string) (int64, bool, error)
	RememberIdempotent(ctx context.Context, key string, orderID int64) error
	CacheStatus(ctx context.Context, orderID int64, status orders.Status) error
	CachedStatus(ctx context.Context, orderID int64) (orders.Status, bool, error)
	ForgetStatus(ctx context.Context, orderID int64) error
}

type OrdersHandler struct {
	Service      OrderService
	Cache        Cache
	Log          *slog.Logger
	HistoryLimit int
}

type CreateOrderResp struct {
	OrderID    int64 `json:"order_id"`
	Idempotent bool  `json:"idempotent"`
}

type UpdateStatusReq struct {
	Status orders.Status `json:"status"`
}

type errorResp struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	ProductID int64  `json:"product_id,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/active", h.activeOrders)
	r.Get("/orders/history", h.orderHistory)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Put("/orders/{id}/status", h.updateStatus)
	r.Get("/products", h.listProducts)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.PlaceOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		metrics.Checkouts.WithLabelValues("validation").Inc()
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid json", Code: "validation"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	ctx = orders.WithTraceID(ctx, middleware.GetReqID(r.Context()))

	// A retried checkout returns the order it already created instead of
	// placing a second one. Redis answers the common case; the database
	// holds the key and settles the rest.
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey != "" && h.Cache != nil {
		if id, ok, err := h.Cache.LookupIdempotent(ctx, idemKey); err == nil && ok {
			metrics.Checkouts.WithLabelValues("replayed").Inc()
			writeJSON(w, http.StatusOK, CreateOrderResp{OrderID: id, Idempotent: true})
			return
		}
	}
	req.IdempotencyKey = idemKey

	order, err := h.Service.PlaceOrder(ctx, req)
	if err != nil {
		metrics.Checkouts.WithLabelValues(outcome(err)).Inc()
		h.writeError(w, r, err)
		return
	}
	if idemKey != "" && h.Cache != nil {
		_ = h.Cache.RememberIdempotent(ctx, idemKey, order.ID)
	}
	if order.Replayed {
		metrics.Checkouts.WithLabelValues("replayed").Inc()
		writeJSON(w, http.StatusOK, CreateOrderResp{OrderID: order.ID, Idempotent: true})
		return
	}
	metrics.Checkouts.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusCreated, CreateOrderResp{OrderID: order.ID})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req UpdateStatusReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid json", Code: "validation"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	ctx = orders.WithTraceID(ctx, middleware.GetReqID(r.Context()))

	if err := h.Service.SetOrderStatus(ctx, id, req.Status); err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.StatusChanges.WithLabelValues(string(req.Status)).Inc()
	// The next status read refills the key from the database.
	if h.Cache != nil {
		if err := h.Cache.ForgetStatus(ctx, id); err != nil {
			h.log().Warn("status cache invalidation failed", "order_id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Status updated"})
}

func (h *OrdersHandler) activeOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Service.ActiveOrders(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []orders.ActiveOrder{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) orderHistory(w http.ResponseWriter, r *http.Request) {
	limit := h.HistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer", Code: "validation"})
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Service.OrderHistory(ctx, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []orders.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.GetOrder(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	if h.Cache != nil {
		if s, ok, err := h.Cache.CachedStatus(ctx, id); err == nil && ok {
			writeJSON(w, http.StatusOK, map[string]any{"order_id": id, "status": s})
			return
		}
	}

	// 2) fallback DB
	o, err := h.Service.GetOrder(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.Cache != nil {
		_ = h.Cache.CacheStatus(ctx, id, o.Status)
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": id, "status": o.Status})
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Service.ListProducts(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if ps == nil {
		ps = []orders.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid order id", Code: "validation"})
		return 0, false
	}
	return id, true
}

// writeError keeps "fix your cart" answers (4xx) apart from "try again"
// answers (5xx).
func (h *OrdersHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var stock *orders.InsufficientStockError
	switch {
	case errors.As(err, &stock):
		avail := stock.Available
		writeJSON(w, http.StatusConflict, errorResp{
			Error:     err.Error(),
			Code:      "insufficient_stock",
			ProductID: stock.ProductID,
			Requested: stock.Requested,
			Available: &avail,
		})
	case errors.Is(err, orders.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error(), Code: "validation"})
	case errors.Is(err, orders.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, errorResp{Error: err.Error(), Code: "unknown_product"})
	case errors.Is(err, orders.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorResp{Error: "order not found", Code: "not_found"})
	case errors.Is(err, orders.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorResp{Error: err.Error(), Code: "invalid_transition"})
	case errors.Is(err, orders.ErrDuplicateRequest):
		writeJSON(w, http.StatusConflict, errorResp{Error: "checkout with this idempotency key is in progress", Code: "duplicate_request"})
	default:
		h.log().Error("request failed",
			"request_id", middleware.GetReqID(r.Context()), "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{
			Error: "temporary system problem, please retry",
			Code:  "storage_failure",
		})
	}
}

func (h *OrdersHandler) log() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func outcome(err error) string {
	switch {
	case errors.Is(err, orders.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, orders.ErrValidation):
		return "validation"
	case errors.Is(err, orders.ErrProductNotFound):
		return "unknown_product"
	case errors.Is(err, orders.ErrDuplicateRequest):
		return "duplicate"
	}
	return "storage"
}
