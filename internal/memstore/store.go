// Package memstore is an in-memory orders.Store with per-row locks and
// staged writes, so the order engine can be exercised without Postgres.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
)

var _ orders.Store = (*Store)(nil)

var errNoTx = errors.New("memstore: row lock outside transaction")

type Store struct {
	mu       sync.RWMutex
	products map[string]orders.Product
	orders   map[string]orders.Order
	users    map[string]orders.Principal

	lockMu sync.Mutex
	locks  map[string]chan struct{}

	failMu     sync.Mutex
	failCreate error
}

func New() *Store {
	return &Store{
		products: make(map[string]orders.Product),
		orders:   make(map[string]orders.Order),
		users:    make(map[string]orders.Principal),
		locks:    make(map[string]chan struct{}),
	}
}

type txKey struct{}

type txState struct {
	held    map[string]chan struct{}
	stock   map[string]int
	status  map[string]statusChange
	created []orders.Order
}

type statusChange struct {
	status orders.Status
	at     time.Time
}

func txFrom(ctx context.Context) *txState {
	tx, _ := ctx.Value(txKey{}).(*txState)
	return tx
}

// WithTx stages writes made through ctx and applies them only if fn
// returns nil. Row locks are released when fn returns.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	tx := &txState{
		held:   make(map[string]chan struct{}),
		stock:  make(map[string]int),
		status: make(map[string]statusChange),
	}
	defer tx.release()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return s.commit(tx)
}

func (tx *txState) release() {
	for _, ch := range tx.held {
		<-ch
	}
}

func (s *Store) commit(tx *txState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range tx.created {
		if _, ok := s.orders[o.ID]; ok {
			return fmt.Errorf("memstore: order %s already exists", o.ID)
		}
	}
	for id, stock := range tx.stock {
		p := s.products[id]
		p.Stock = stock
		s.products[id] = p
	}
	for _, o := range tx.created {
		s.orders[o.ID] = cloneOrder(o)
	}
	for id, ch := range tx.status {
		o := s.orders[id]
		o.Status = ch.status
		o.UpdatedAt = ch.at
		s.orders[id] = o
	}
	return nil
}

func (s *Store) lock(ctx context.Context, tx *txState, key string) error {
	if _, ok := tx.held[key]; ok {
		return nil
	}
	s.lockMu.Lock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	s.lockMu.Unlock()

	select {
	case ch <- struct{}{}:
		tx.held[key] = ch
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddProduct inserts or replaces a product.
func (s *Store) AddProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// SetPrice changes the live catalog price of a product.
func (s *Store) SetPrice(id string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[id]
	p.Price = price
	s.products[id] = p
}

// SoftDelete marks a product as deleted.
func (s *Store) SoftDelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[id]
	p.IsDeleted = true
	s.products[id] = p
}

// Product returns the committed state of a product.
func (s *Store) Product(id string) (orders.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	return p, ok
}

// OrderCount returns the number of committed orders.
func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func (s *Store) AddUser(u orders.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.UserID] = u
}

// FailNextCreate makes the next CreateOrder return err.
func (s *Store) FailNextCreate(err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failCreate = err
}

func (s *Store) LookupUser(_ context.Context, id string) (orders.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return orders.Principal{}, fmt.Errorf("%w: %s", orders.ErrUserNotFound, id)
	}
	return u, nil
}

func (s *Store) readProduct(tx *txState, id string) (orders.Product, error) {
	s.mu.RLock()
	p, ok := s.products[id]
	s.mu.RUnlock()
	if !ok {
		return orders.Product{}, orders.ErrProductNotFound
	}
	if tx != nil {
		if stock, ok := tx.stock[id]; ok {
			p.Stock = stock
		}
	}
	return p, nil
}

func (s *Store) ResolveProduct(ctx context.Context, id string) (orders.Product, error) {
	return s.readProduct(txFrom(ctx), id)
}

func (s *Store) LockProduct(ctx context.Context, id string) (orders.Product, error) {
	tx := txFrom(ctx)
	if tx == nil {
		return orders.Product{}, errNoTx
	}
	if err := s.lock(ctx, tx, "product:"+id); err != nil {
		return orders.Product{}, err
	}
	return s.readProduct(tx, id)
}

func (s *Store) DecrementStock(ctx context.Context, id string, qty int) error {
	return s.adjustStock(ctx, id, -qty)
}

func (s *Store) IncrementStock(ctx context.Context, id string, qty int) error {
	return s.adjustStock(ctx, id, qty)
}

func (s *Store) adjustStock(ctx context.Context, id string, delta int) error {
	tx := txFrom(ctx)
	if tx == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		p, ok := s.products[id]
		if !ok {
			return orders.ErrProductNotFound
		}
		if p.Stock+delta < 0 {
			return orders.ErrStockConflict
		}
		p.Stock += delta
		s.products[id] = p
		return nil
	}

	if err := s.lock(ctx, tx, "product:"+id); err != nil {
		return err
	}
	p, err := s.readProduct(tx, id)
	if err != nil {
		return err
	}
	if p.Stock+delta < 0 {
		return orders.ErrStockConflict
	}
	tx.stock[id] = p.Stock + delta
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]orders.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orders.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.IsDeleted {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreateOrder(ctx context.Context, o orders.Order) error {
	s.failMu.Lock()
	failErr := s.failCreate
	s.failCreate = nil
	s.failMu.Unlock()
	if failErr != nil {
		return failErr
	}

	tx := txFrom(ctx)
	if tx == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.orders[o.ID]; ok {
			return fmt.Errorf("memstore: order %s already exists", o.ID)
		}
		s.orders[o.ID] = cloneOrder(o)
		return nil
	}
	tx.created = append(tx.created, cloneOrder(o))
	return nil
}

func (s *Store) readOrder(tx *txState, id string) (orders.Order, error) {
	s.mu.RLock()
	o, ok := s.orders[id]
	s.mu.RUnlock()
	if !ok && tx != nil {
		for _, c := range tx.created {
			if c.ID == id {
				o, ok = c, true
				break
			}
		}
	}
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	o = cloneOrder(o)
	if tx != nil {
		if ch, ok := tx.status[id]; ok {
			o.Status = ch.status
			o.UpdatedAt = ch.at
		}
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	return s.readOrder(txFrom(ctx), id)
}

func (s *Store) LockOrder(ctx context.Context, id string) (orders.Order, error) {
	tx := txFrom(ctx)
	if tx == nil {
		return orders.Order{}, errNoTx
	}
	if err := s.lock(ctx, tx, "order:"+id); err != nil {
		return orders.Order{}, err
	}
	return s.readOrder(tx, id)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status orders.Status, at time.Time) error {
	tx := txFrom(ctx)
	if tx == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		o, ok := s.orders[id]
		if !ok {
			return orders.ErrOrderNotFound
		}
		o.Status = status
		o.UpdatedAt = at
		s.orders[id] = o
		return nil
	}
	if _, err := s.readOrder(tx, id); err != nil {
		return err
	}
	tx.status[id] = statusChange{status: status, at: at}
	return nil
}

func (s *Store) ListOrdersByUser(_ context.Context, userID string) ([]orders.Order, error) {
	return s.list(func(o orders.Order) bool { return o.UserID == userID }), nil
}

func (s *Store) ListOrders(_ context.Context) ([]orders.Order, error) {
	return s.list(func(orders.Order) bool { return true }), nil
}

func (s *Store) list(keep func(orders.Order) bool) []orders.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orders.Order, 0)
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func cloneOrder(o orders.Order) orders.Order {
	o.Items = append([]orders.OrderItem(nil), o.Items...)
	return o
}
