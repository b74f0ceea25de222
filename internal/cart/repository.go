package cart

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/ukaymarket/settlement/internal/database"
	"github.com/ukaymarket/settlement/internal/domain"
)

// Repository stores cart line items per buyer. The settlement engine only
// reads and clears carts; add/remove exist for the HTTP surface.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity, added_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY added_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []domain.CartItem
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.AddedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// EstimateTotal prices the cart against current product prices without
// locks. Advisory only: the checkout total is recomputed from locked rows.
func (r *Repository) EstimateTotal(ctx context.Context, userID string) (int64, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT SUM(p.price * c.quantity)
		FROM cart_items c
		JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
	`, userID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

// Add puts a product in the cart or bumps its quantity if already there.
func (r *Repository) Add(ctx context.Context, userID, productID string, quantity int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cart_items (id, user_id, product_id, quantity, added_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
	`, uuid.New().String(), userID, productID, quantity)
	return err
}

func (r *Repository) Remove(ctx context.Context, userID, productID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2
	`, userID, productID)
	return err
}

// Clear empties a buyer's cart. It runs on whatever querier the caller
// provides: the checkout transaction in the wallet path, the bare DB after
// commit in the webhook path.
func (r *Repository) Clear(ctx context.Context, q database.Querier, userID string) (int64, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
