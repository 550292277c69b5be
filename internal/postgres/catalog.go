package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/jackc/pgx/v5"
)

const productColumns = `id, name, price, stock, is_deleted, created_at, updated_at`

func scanProduct(row pgx.Row) (orders.Product, error) {
	var p orders.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.IsDeleted, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func productErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
		return orders.ErrProductNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Store) ResolveProduct(ctx context.Context, id string) (orders.Product, error) {
	const query = `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	p, err := scanProduct(s.queryRow(ctx, query, id))
	if err != nil {
		return orders.Product{}, productErr("resolve product", err)
	}
	return p, nil
}

// LockProduct reads the product with FOR UPDATE. Competing placements for the
// same product queue here until the holder commits or rolls back.
func (s *Store) LockProduct(ctx context.Context, id string) (orders.Product, error) {
	if txFromContext(ctx) == nil {
		return orders.Product{}, errNoTx
	}
	const query = `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`
	p, err := scanProduct(s.queryRow(ctx, query, id))
	if err != nil {
		return orders.Product{}, productErr("lock product", err)
	}
	return p, nil
}

// DecrementStock never takes stock below zero, with or without a prior
// LockProduct.
func (s *Store) DecrementStock(ctx context.Context, id string, qty int) error {
	const stmt = `
UPDATE products
SET stock = stock - $2, updated_at = NOW()
WHERE id = $1 AND stock >= $2`

	tag, err := s.exec(ctx, stmt, id, qty)
	if err != nil {
		if isCheckViolation(err) {
			return orders.ErrStockConflict
		}
		return productErr("decrement stock", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return productErr("decrement stock", err)
	}
	if !exists {
		return orders.ErrProductNotFound
	}
	return orders.ErrStockConflict
}

// IncrementStock also credits soft-deleted products.
func (s *Store) IncrementStock(ctx context.Context, id string, qty int) error {
	const stmt = `UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id = $1`

	tag, err := s.exec(ctx, stmt, id, qty)
	if err != nil {
		return productErr("increment stock", err)
	}
	if tag.RowsAffected() == 0 {
		return orders.ErrProductNotFound
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	const query = `SELECT ` + productColumns + ` FROM products WHERE NOT is_deleted ORDER BY name`

	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	ps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orders.Product, error) {
		return scanProduct(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return ps, nil
}
