package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/jackc/pgx/v5"
)

func (s *Store) LookupUser(ctx context.Context, id string) (orders.Principal, error) {
	const query = `SELECT id, name, email, role FROM users WHERE id = $1`

	var u orders.Principal
	err := s.queryRow(ctx, query, id).Scan(&u.UserID, &u.Name, &u.Email, &u.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return orders.Principal{}, fmt.Errorf("%w: %s", orders.ErrUserNotFound, id)
		}
		return orders.Principal{}, fmt.Errorf("lookup user: %w", err)
	}
	return u, nil
}
