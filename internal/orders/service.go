package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Catalog is the product side of the store. LockProduct must be called
// inside WithTx and holds a row lock on the product until the transaction
// ends. DecrementStock returns ErrStockConflict instead of going below zero.
type Catalog interface {
	ResolveProduct(ctx context.Context, id string) (Product, error)
	LockProduct(ctx context.Context, id string) (Product, error)
	DecrementStock(ctx context.Context, id string, qty int) error
	IncrementStock(ctx context.Context, id string, qty int) error
	ListProducts(ctx context.Context) ([]Product, error)
}

// Ledger owns orders and their items. LockOrder must be called inside WithTx.
type Ledger interface {
	CreateOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, id string) (Order, error)
	LockOrder(ctx context.Context, id string) (Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status Status, at time.Time) error
	ListOrdersByUser(ctx context.Context, userID string) ([]Order, error)
	ListOrders(ctx context.Context) ([]Order, error)
}

// Store runs Catalog and Ledger calls made with the ctx passed to fn inside
// a single transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Catalog
	Ledger
}

// Notifier receives committed orders. Implementations must not block the
// caller; delivery failures are theirs to log.
type Notifier interface {
	NotifyOrderCreated(ctx context.Context, o Order, buyer Principal)
	NotifyOrderCancelled(ctx context.Context, o Order, buyer Principal)
	NotifyOrderStatusChanged(ctx context.Context, o Order, buyer Principal)
}

// UserDirectory resolves order owners when someone else (an admin) acts on
// their order.
type UserDirectory interface {
	LookupUser(ctx context.Context, id string) (Principal, error)
}

// Observer is told about order outcomes, typically to feed metrics.
type Observer interface {
	OrderPlaced(o Order)
	OrderRejected(reason string)
	OrderCancelled(o Order)
}

type Service struct {
	store    Store
	notifier Notifier
	users    UserDirectory
	observer Observer
	clock    clock.Clock
	log      *zap.Logger
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

func WithUserDirectory(u UserDirectory) Option {
	return func(s *Service) { s.users = u }
}

func NewService(store Store, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: notifier,
		clock:    clock.NewSystem(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	return s
}

type LineItem struct {
	ProductID string
	Quantity  int
}

type PlaceOrderInput struct {
	Buyer           Principal
	Items           []LineItem
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	TransactionID   string
}

// PlaceOrder validates the request, checks stock without locks, then
// re-checks, decrements stock and writes the order in one transaction.
// Prices always come from the catalog.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (Order, error) {
	order, err := s.placeOrder(ctx, in)
	if err != nil {
		s.observer.OrderRejected(RejectReason(err))
		s.log.Info("order rejected",
			zap.String("user_id", in.Buyer.UserID),
			zap.String("reason", RejectReason(err)),
			zap.Error(err))
		return Order{}, err
	}

	s.observer.OrderPlaced(order)
	s.log.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("total", order.Total.StringFixed(2)),
		zap.Int("items", len(order.Items)))

	s.notifier.NotifyOrderCreated(context.WithoutCancel(ctx), order, in.Buyer)
	return order, nil
}

func (s *Service) placeOrder(ctx context.Context, in PlaceOrderInput) (Order, error) {
	if in.Buyer.UserID == "" {
		return Order{}, ErrForbidden
	}
	lines, err := normalizeItems(in.Items)
	if err != nil {
		return Order{}, err
	}
	if err := validateAddress(in.ShippingAddress); err != nil {
		return Order{}, err
	}
	if !in.PaymentMethod.Valid() {
		return Order{}, &ValidationError{
			Field:  "paymentMethod",
			Reason: fmt.Sprintf("must be %q or %q", PaymentCashOnDelivery, PaymentOnline),
			Err:    ErrInvalidPaymentMethod,
		}
	}

	if err := s.precheck(ctx, lines); err != nil {
		return Order{}, err
	}

	var order Order
	err = s.store.WithTx(ctx, func(txCtx context.Context) error {
		priced := make([]PricedLine, 0, len(lines))
		available := make(map[string]int, len(lines))
		names := make(map[string]string, len(lines))
		for _, it := range lines {
			p, err := s.store.LockProduct(txCtx, it.ProductID)
			if errors.Is(err, ErrProductNotFound) || (err == nil && !p.Purchasable()) {
				return &ProductError{ProductID: it.ProductID}
			}
			if err != nil {
				return fmt.Errorf("lock product %s: %w", it.ProductID, err)
			}
			if p.Stock < it.Quantity {
				return &StockError{ProductID: p.ID, Name: p.Name, Requested: it.Quantity, Available: p.Stock, Retryable: true}
			}
			available[p.ID] = p.Stock
			names[p.ID] = p.Name
			priced = append(priced, PricedLine{ProductID: p.ID, UnitPrice: p.Price, Quantity: it.Quantity})
		}

		quote, err := QuoteOrder(priced, in.ShippingAddress)
		if err != nil {
			return err
		}

		for _, l := range priced {
			if err := s.store.DecrementStock(txCtx, l.ProductID, l.Quantity); err != nil {
				if errors.Is(err, ErrStockConflict) {
					return &StockError{ProductID: l.ProductID, Requested: l.Quantity, Available: available[l.ProductID], Retryable: true}
				}
				return fmt.Errorf("decrement stock %s: %w", l.ProductID, err)
			}
		}

		now := s.clock.Now()
		order = Order{
			ID:              uuid.NewString(),
			UserID:          in.Buyer.UserID,
			Status:          StatusPending,
			Subtotal:        quote.Subtotal,
			Tax:             quote.Tax,
			ShippingCost:    quote.ShippingCost,
			Total:           quote.Total,
			PaymentMethod:   in.PaymentMethod,
			ShippingAddress: trimAddress(in.ShippingAddress),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if ref := strings.TrimSpace(in.TransactionID); ref != "" {
			order.TransactionID = &ref
		}
		order.Items = make([]OrderItem, 0, len(priced))
		for _, l := range priced {
			order.Items = append(order.Items, OrderItem{
				OrderID:   order.ID,
				ProductID: l.ProductID,
				Name:      names[l.ProductID],
				Quantity:  l.Quantity,
				Price:     l.UnitPrice,
			})
		}
		return s.store.CreateOrder(txCtx, order)
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// precheck is the cheap lock-free pass. Every offending product is reported.
func (s *Service) precheck(ctx context.Context, lines []LineItem) error {
	var missing, short []error
	for _, it := range lines {
		p, err := s.store.ResolveProduct(ctx, it.ProductID)
		if errors.Is(err, ErrProductNotFound) || (err == nil && !p.Purchasable()) {
			missing = append(missing, &ProductError{ProductID: it.ProductID})
			continue
		}
		if err != nil {
			return fmt.Errorf("resolve product %s: %w", it.ProductID, err)
		}
		if p.Stock < it.Quantity {
			short = append(short, &StockError{ProductID: p.ID, Name: p.Name, Requested: it.Quantity, Available: p.Stock})
		}
	}
	if len(missing) > 0 {
		return errors.Join(missing...)
	}
	if len(short) > 0 {
		return errors.Join(short...)
	}
	return nil
}

// normalizeItems rejects bad lines, merges repeated products and sorts by
// product id so row locks are always taken in the same order.
func normalizeItems(items []LineItem) ([]LineItem, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	qty := make(map[string]int, len(items))
	for i, it := range items {
		id := strings.TrimSpace(it.ProductID)
		if id == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("orderItems[%d].productId", i), Reason: "is required", Err: ErrInvalidLineItem}
		}
		if it.Quantity < 1 {
			return nil, &ValidationError{Field: fmt.Sprintf("orderItems[%d].quantity", i), Reason: "must be at least 1", Err: ErrInvalidQuantity}
		}
		qty[id] += it.Quantity
	}
	out := make([]LineItem, 0, len(qty))
	for id, q := range qty {
		out = append(out, LineItem{ProductID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func validateAddress(a ShippingAddress) error {
	fields := []struct{ name, value string }{
		{"shippingAddress.address", a.Address},
		{"shippingAddress.city", a.City},
		{"shippingAddress.postalCode", a.PostalCode},
		{"shippingAddress.country", a.Country},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name, Reason: "is required", Err: ErrInvalidShippingAddress}
		}
	}
	return nil
}

func trimAddress(a ShippingAddress) ShippingAddress {
	return ShippingAddress{
		Address:    strings.TrimSpace(a.Address),
		City:       strings.TrimSpace(a.City),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
	}
}

// Cancel restores stock for every item and marks the order CANCELLED in one
// transaction. The status precondition is evaluated under the order row lock.
func (s *Service) Cancel(ctx context.Context, orderID string, by Principal) (Order, error) {
	var order Order
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		o, err := s.store.LockOrder(txCtx, orderID)
		if err != nil {
			return err
		}
		if !by.CanAccess(o) {
			return ErrForbidden
		}
		switch o.Status {
		case StatusCancelled:
			return ErrOrderAlreadyCancelled
		case StatusDelivered:
			return ErrOrderDelivered
		}
		if !o.Status.Cancellable() {
			return fmt.Errorf("%w: %s", ErrInvalidStatus, o.Status)
		}

		items := append([]OrderItem(nil), o.Items...)
		sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
		for _, it := range items {
			err := s.store.IncrementStock(txCtx, it.ProductID, it.Quantity)
			if errors.Is(err, ErrProductNotFound) {
				s.log.Warn("cancel: product gone, stock not restored",
					zap.String("order_id", o.ID),
					zap.String("product_id", it.ProductID),
					zap.Int("qty", it.Quantity))
				continue
			}
			if err != nil {
				return fmt.Errorf("restore stock %s: %w", it.ProductID, err)
			}
		}

		now := s.clock.Now()
		if err := s.store.UpdateOrderStatus(txCtx, o.ID, StatusCancelled, now); err != nil {
			return err
		}
		o.Status = StatusCancelled
		o.UpdatedAt = now
		order = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.observer.OrderCancelled(order)
	s.log.Info("order cancelled",
		zap.String("order_id", order.ID),
		zap.String("by", by.UserID))
	s.notifier.NotifyOrderCancelled(context.WithoutCancel(ctx), order, s.buyerOf(ctx, order, by))
	return order, nil
}

// UpdateStatus is the administrative forward-only status change.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to Status, by Principal) (Order, error) {
	if !by.IsAdmin() {
		return Order{}, ErrForbidden
	}
	if !to.Valid() {
		return Order{}, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to), Err: ErrInvalidStatus}
	}

	var order Order
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		o, err := s.store.LockOrder(txCtx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
		}
		now := s.clock.Now()
		if err := s.store.UpdateOrderStatus(txCtx, o.ID, to, now); err != nil {
			return err
		}
		o.Status = to
		o.UpdatedAt = now
		order = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.log.Info("order status updated",
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.String("by", by.UserID))
	s.notifier.NotifyOrderStatusChanged(context.WithoutCancel(ctx), order, s.buyerOf(ctx, order, by))
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string, by Principal) (Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !by.CanAccess(o) {
		return Order{}, ErrForbidden
	}
	return o, nil
}

func (s *Service) ListMyOrders(ctx context.Context, by Principal) ([]Order, error) {
	if by.UserID == "" {
		return nil, ErrForbidden
	}
	return s.store.ListOrdersByUser(ctx, by.UserID)
}

func (s *Service) ListOrders(ctx context.Context, by Principal) ([]Order, error) {
	if !by.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.store.ListOrders(ctx)
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.store.ListProducts(ctx)
}

// buyerOf returns the owner of o for notification purposes.
func (s *Service) buyerOf(ctx context.Context, o Order, by Principal) Principal {
	if by.UserID == o.UserID {
		return by
	}
	if s.users != nil {
		u, err := s.users.LookupUser(ctx, o.UserID)
		if err == nil {
			return u
		}
		s.log.Warn("lookup order owner", zap.String("order_id", o.ID), zap.Error(err))
	}
	return Principal{UserID: o.UserID}
}

// RejectReason classifies a PlaceOrder error for metrics and logs.
func RejectReason(err error) string {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, ErrNoItems):
		return "validation"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrTransactionConflict):
		return "conflict"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}

type NopNotifier struct{}

func (NopNotifier) NotifyOrderCreated(context.Context, Order, Principal) {}

func (NopNotifier) NotifyOrderCancelled(context.Context, Order, Principal) {}

func (NopNotifier) NotifyOrderStatusChanged(context.Context, Order, Principal) {}

type nopObserver struct{}

func (nopObserver) OrderPlaced(Order) {}

func (nopObserver) OrderRejected(string) {}

func (nopObserver) OrderCancelled(Order) {}
