package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/invoice"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const headerIdempotencyKey = "Idempotency-Key"

type OrderService interface {
	PlaceOrder(ctx context.Context, in orders.PlaceOrderInput) (orders.Order, error)
	Cancel(ctx context.Context, orderID string, by orders.Principal) (orders.Order, error)
	UpdateStatus(ctx context.Context, orderID string, to orders.Status, by orders.Principal) (orders.Order, error)
	GetOrder(ctx context.Context, orderID string, by orders.Principal) (orders.Order, error)
	ListMyOrders(ctx context.Context, by orders.Principal) ([]orders.Order, error)
	ListOrders(ctx context.Context, by orders.Principal) ([]orders.Order, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

type IdempotencyStore interface {
	Claim(ctx context.Context, userID, key string) (orderID string, claimed bool, err error)
	Complete(ctx context.Context, userID, key, orderID string) error
	Release(ctx context.Context, userID, key string) error
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.CachedStatus, bool, error)
	Put(ctx context.Context, o orders.Order) error
	Invalidate(ctx context.Context, orderID string) error
}

type InvoiceRenderer interface {
	Render(o orders.Order, buyer orders.Principal) ([]byte, error)
}

// OrdersHandler serves the order API. Idem, Status, Invoices and Users are
// optional; without them the matching feature is skipped or disabled.
type OrdersHandler struct {
	Orders   OrderService
	Auth     *Authenticator
	Idem     IdempotencyStore
	Status   StatusCache
	Invoices InvoiceRenderer
	Users    orders.UserDirectory
	Log      *zap.Logger
}

func (h *OrdersHandler) Register(r chi.Router) {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	r.Get("/products", h.listProducts)

	r.Route("/orders", func(r chi.Router) {
		r.Use(h.Auth.Middleware)
		r.Post("/", h.createOrder)
		r.With(RequireAdmin).Get("/", h.listOrders)
		r.Get("/mine", h.listMyOrders)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/status", h.getStatus)
		r.Get("/{id}/invoice", h.getInvoice)
		r.Put("/{id}/cancel", h.cancelOrder)
		r.With(RequireAdmin).Put("/{id}/status", h.updateStatus)
	})
}

type orderItemReq struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Qty       int    `json:"qty"`
}

// CreateOrderReq accepts the storefront cart payload. Any name, price or
// total the client sends is ignored.
type CreateOrderReq struct {
	OrderItems      []orderItemReq         `json:"orderItems"`
	ShippingAddress orders.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   orders.PaymentMethod   `json:"paymentMethod"`
	TransactionID   string                 `json:"transactionId"`
}

func (req CreateOrderReq) input(buyer orders.Principal) orders.PlaceOrderInput {
	items := make([]orders.LineItem, 0, len(req.OrderItems))
	for _, it := range req.OrderItems {
		qty := it.Qty
		if qty == 0 {
			qty = it.Quantity
		}
		items = append(items, orders.LineItem{ProductID: it.ProductID, Quantity: qty})
	}
	return orders.PlaceOrderInput{
		Buyer:           buyer,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		TransactionID:   req.TransactionID,
	}
}

type UpdateStatusReq struct {
	Status orders.Status `json:"status"`
}

type StatusResp struct {
	OrderID   string        `json:"orderId"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Cached    bool          `json:"cached"`
}

func (h *OrdersHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeErrorBody(w, status, body)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Orders.ListProducts(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	var req CreateOrderReq
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Idempotency-Key opsional; kalau redis mati, order tetap diproses
	key := r.Header.Get(headerIdempotencyKey)
	claimed := false
	if key != "" && h.Idem != nil {
		existing, ok, err := h.Idem.Claim(ctx, p.UserID, key)
		switch {
		case errors.Is(err, redisx.ErrRequestInFlight):
			h.fail(w, r, err)
			return
		case err != nil:
			h.Log.Warn("idempotency claim", zap.String("user_id", p.UserID), zap.Error(err))
		case !ok:
			o, err := h.Orders.GetOrder(ctx, existing, p)
			if err != nil {
				h.fail(w, r, err)
				return
			}
			w.Header().Set("Idempotent-Replayed", "true")
			writeJSON(w, http.StatusOK, o)
			return
		default:
			claimed = true
		}
	}

	o, err := h.Orders.PlaceOrder(ctx, req.input(p))
	if err != nil {
		if claimed {
			if rerr := h.Idem.Release(context.WithoutCancel(ctx), p.UserID, key); rerr != nil {
				h.Log.Warn("idempotency release", zap.Error(rerr))
			}
		}
		h.fail(w, r, err)
		return
	}

	if claimed {
		if err := h.Idem.Complete(context.WithoutCancel(ctx), p.UserID, key, o.ID); err != nil {
			h.Log.Warn("idempotency complete", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	h.cachePut(ctx, o)
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListOrders(ctx, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListMyOrders(ctx, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.GetOrder(ctx, chi.URLParam(r, "id"), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	if h.Status != nil {
		cs, ok, err := h.Status.Get(ctx, orderID)
		if err != nil {
			h.Log.Warn("status cache get", zap.String("order_id", orderID), zap.Error(err))
		}
		if ok && (p.IsAdmin() || cs.UserID == p.UserID) {
			writeJSON(w, http.StatusOK, StatusResp{OrderID: orderID, Status: cs.Status, UpdatedAt: cs.UpdatedAt, Cached: true})
			return
		}
	}

	// 2) fallback DB
	o, err := h.Orders.GetOrder(ctx, orderID, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.cachePut(ctx, o)
	writeJSON(w, http.StatusOK, StatusResp{OrderID: o.ID, Status: o.Status, UpdatedAt: o.UpdatedAt})
}

func (h *OrdersHandler) getInvoice(w http.ResponseWriter, r *http.Request) {
	if h.Invoices == nil {
		writeError(w, http.StatusNotFound, codeNotFound, "invoices are not enabled")
		return
	}
	p, _ := PrincipalFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.GetOrder(ctx, chi.URLParam(r, "id"), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pdf, err := h.Invoices.Render(o, h.ownerOf(ctx, o, p))
	if err != nil {
		h.fail(w, r, fmt.Errorf("render invoice %s: %w", o.ID, err))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.pdf"`, invoice.Number(o.ID)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.Cancel(ctx, chi.URLParam(r, "id"), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.cacheInvalidate(ctx, o.ID)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())

	var req UpdateStatusReq
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.UpdateStatus(ctx, chi.URLParam(r, "id"), req.Status, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.cacheInvalidate(ctx, o.ID)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) ownerOf(ctx context.Context, o orders.Order, p orders.Principal) orders.Principal {
	if o.UserID == p.UserID || h.Users == nil {
		return p
	}
	u, err := h.Users.LookupUser(ctx, o.UserID)
	if err != nil {
		h.Log.Warn("lookup order owner", zap.String("order_id", o.ID), zap.Error(err))
		return orders.Principal{UserID: o.UserID}
	}
	return u
}

func (h *OrdersHandler) cachePut(ctx context.Context, o orders.Order) {
	if h.Status == nil {
		return
	}
	if err := h.Status.Put(ctx, o); err != nil {
		h.Log.Warn("status cache put", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (h *OrdersHandler) cacheInvalidate(ctx context.Context, orderID string) {
	if h.Status == nil {
		return
	}
	if err := h.Status.Invalidate(context.WithoutCancel(ctx), orderID); err != nil {
		h.Log.Warn("status cache invalidate", zap.String("order_id", orderID), zap.Error(err))
	}
}
