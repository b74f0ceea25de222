package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ukaymarket/settlement/internal/database"
	"github.com/ukaymarket/settlement/internal/domain"
)

var ErrInsufficientStock = errors.New("insufficient stock")

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Create(ctx context.Context, product *domain.Product) error {
	if product.ID == "" {
		product.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, seller_id, title, price, quantity, sold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, product.ID, product.SellerID, product.Title, product.Price, product.Quantity, product.Sold)
	return err
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	product := &domain.Product{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, seller_id, title, price, quantity, sold
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.SellerID, &product.Title, &product.Price, &product.Quantity, &product.Sold)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return product, nil
}

// LockForUpdate locks the given product rows in ascending id order and
// returns them keyed by id. The fixed order prevents deadlock between two
// transactions whose carts share products. Missing ids are simply absent
// from the result; callers decide whether that is an error.
func (r *ProductRepository) LockForUpdate(ctx context.Context, q database.Querier, ids []string) (map[string]domain.Product, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, seller_id, title, price, quantity, sold
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	products := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SellerID, &p.Title, &p.Price, &p.Quantity, &p.Sold); err != nil {
			return nil, err
		}
		products[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

// Deduct decrements available quantity by qty and sets the sold flag when
// the remainder hits zero. The guard in the WHERE clause makes the decrement
// safe even if the caller forgot to lock the row first: two concurrent
// deductions can never drive quantity negative.
func (r *ProductRepository) Deduct(ctx context.Context, q database.Querier, productID string, qty int) error {
	result, err := q.ExecContext(ctx, `
		UPDATE products
		SET quantity = quantity - $2,
		    sold = (quantity - $2 <= 0),
		    updated_at = NOW()
		WHERE id = $1 AND quantity >= $2
	`, productID, qty)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("product %s: %w", productID, ErrInsufficientStock)
	}

	return nil
}
