package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, user_id, status, subtotal, tax, shipping_cost, total, payment_method,
	transaction_id, ship_address, ship_city, ship_postal_code, ship_country, created_at, updated_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var o orders.Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.Status,
		&o.Subtotal, &o.Tax, &o.ShippingCost, &o.Total,
		&o.PaymentMethod, &o.TransactionID,
		&o.ShippingAddress.Address, &o.ShippingAddress.City,
		&o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
		&o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

func orderErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
		return orders.ErrOrderNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CreateOrder writes the order header and its items. Items are sent as one
// batch on the same connection.
func (s *Store) CreateOrder(ctx context.Context, o orders.Order) error {
	const insertOrder = `
INSERT INTO orders (` + orderColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	const insertItem = `
INSERT INTO order_items (order_id, product_id, product_name, quantity, price)
VALUES ($1, $2, $3, $4, $5)`

	_, err := s.exec(ctx, insertOrder,
		o.ID, o.UserID, o.Status,
		o.Subtotal, o.Tax, o.ShippingCost, o.Total,
		o.PaymentMethod, o.TransactionID,
		o.ShippingAddress.Address, o.ShippingAddress.City,
		o.ShippingAddress.PostalCode, o.ShippingAddress.Country,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create order %s: already exists: %w", o.ID, err)
		}
		return fmt.Errorf("create order: %w", err)
	}

	b := &pgx.Batch{}
	for _, it := range o.Items {
		b.Queue(insertItem, o.ID, it.ProductID, it.Name, it.Quantity, it.Price)
	}
	br := s.sendBatch(ctx, b)
	for range o.Items {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("create order items: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("create order items: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(s.queryRow(ctx, query, id))
	if err != nil {
		return orders.Order{}, orderErr("get order", err)
	}
	if err := s.attachItems(ctx, []*orders.Order{&o}); err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

// LockOrder takes the order row lock. Cancellation and status changes
// evaluate their preconditions under it.
func (s *Store) LockOrder(ctx context.Context, id string) (orders.Order, error) {
	if txFromContext(ctx) == nil {
		return orders.Order{}, errNoTx
	}
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	o, err := scanOrder(s.queryRow(ctx, query, id))
	if err != nil {
		return orders.Order{}, orderErr("lock order", err)
	}
	if err := s.attachItems(ctx, []*orders.Order{&o}); err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status orders.Status, at time.Time) error {
	const stmt = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`

	tag, err := s.exec(ctx, stmt, id, status, at)
	if err != nil {
		return orderErr("update order status", err)
	}
	if tag.RowsAffected() == 0 {
		return orders.ErrOrderNotFound
	}
	return nil
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]orders.Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`
	list, err := s.listOrders(ctx, query, userID)
	if isInvalidUUID(err) {
		return []orders.Order{}, nil
	}
	return list, err
}

func (s *Store) ListOrders(ctx context.Context) ([]orders.Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC`
	return s.listOrders(ctx, query)
}

func (s *Store) listOrders(ctx context.Context, query string, args ...any) ([]orders.Order, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orders.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	ptrs := make([]*orders.Order, len(list))
	for i := range list {
		ptrs[i] = &list[i]
	}
	if err := s.attachItems(ctx, ptrs); err != nil {
		return nil, err
	}
	return list, nil
}

// attachItems loads items for all given orders in one query.
func (s *Store) attachItems(ctx context.Context, targets []*orders.Order) error {
	if len(targets) == 0 {
		return nil
	}
	byID := make(map[string]*orders.Order, len(targets))
	ids := make([]string, 0, len(targets))
	for _, o := range targets {
		o.Items = []orders.OrderItem{}
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	const query = `
SELECT order_id, product_id, product_name, quantity, price
FROM order_items
WHERE order_id = ANY($1::uuid[])
ORDER BY order_id, product_id`

	rows, err := s.query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orders.OrderItem, error) {
		var it orders.OrderItem
		err := row.Scan(&it.OrderID, &it.ProductID, &it.Name, &it.Quantity, &it.Price)
		return it, err
	})
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	for _, it := range items {
		if o, ok := byID[it.OrderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	return nil
}
