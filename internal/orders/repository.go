package orders

import (
	"context"
	"database/sql"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ukaymarket/settlement/internal/database"
	"github.com/ukaymarket/settlement/internal/domain"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order and its line items. Runs on the caller's
// transaction so checkout can roll the whole thing back together with the
// rest of the settlement.
func (r *OrderRepository) Create(ctx context.Context, q database.Querier, order *domain.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (id, buyer_id, total, currency, country, status, payment_method, payment_channel, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NOW(), NOW())
	`, order.ID, order.BuyerID, order.Total, order.Currency, order.Country,
		order.Status, order.PaymentMethod, order.PaymentChannel)
	if err != nil {
		return err
	}

	for _, item := range order.Items {
		_, err = q.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, seller_id, title, quantity, price)
			VALUES ($1, $2, NULLIF($3, '')::uuid, NULLIF($4, '')::uuid, $5, $6, $7)
		`, uuid.New().String(), order.ID, item.ProductID, item.SellerID, item.Title, item.Quantity, item.Price)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, selectOrder+`WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	order.Items, err = r.loadItems(ctx, r.db, id)
	if err != nil {
		return nil, err
	}

	return order, nil
}

// LockForUpdate locks the order row and returns the order with its items.
// Line items are immutable after creation so they need no lock of their own.
func (r *OrderRepository) LockForUpdate(ctx context.Context, q database.Querier, id string) (*domain.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, selectOrder+`WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	order.Items, err = r.loadItems(ctx, q, id)
	if err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, selectOrder+`WHERE buyer_id = $1 ORDER BY created_at DESC`, buyerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, COALESCE(product_id::text, ''), COALESCE(seller_id::text, ''), title, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.SellerID, &item.Title, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		orderMap[orderID].Items = append(orderMap[orderID].Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	result := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		result = append(result, *orderMap[id])
	}

	return result, nil
}

// MarkPaid transitions a PENDING order to PAID and records the gateway's
// payment id. Any stored failure reason is cleared.
func (r *OrderRepository) MarkPaid(ctx context.Context, q database.Querier, id, gatewayPaymentID string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    gateway_payment_id = COALESCE(NULLIF($3, ''), gateway_payment_id),
		    failure_reason = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`, id, domain.OrderStatusPaid, gatewayPaymentID)
	return err
}

// MarkFailed transitions an order to FAILED. The reason is truncated to the
// column width.
func (r *OrderRepository) MarkFailed(ctx context.Context, q database.Querier, id, reason, gatewayPaymentID string) error {
	reason = truncateReason(reason, 255)
	_, err := q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    failure_reason = $3,
		    gateway_payment_id = COALESCE(NULLIF($4, ''), gateway_payment_id),
		    updated_at = NOW()
		WHERE id = $1
	`, id, domain.OrderStatusFailed, reason, gatewayPaymentID)
	return err
}

// truncateReason caps a gateway-supplied reason at n bytes without splitting
// a multi-byte rune.
func truncateReason(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// TransitionStatus moves an order from one fulfillment status to another.
// The old status is part of the predicate, so a concurrent transition makes
// this report false instead of clobbering the newer state.
func (r *OrderRepository) TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetGatewayRequest stores the adapter's request id after initiating an
// external payment for the order.
func (r *OrderRepository) SetGatewayRequest(ctx context.Context, id, requestID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders SET gateway_request_id = $2, updated_at = NOW() WHERE id = $1
	`, id, requestID)
	return err
}

const selectOrder = `
	SELECT id, buyer_id, total, currency, country, status, payment_method,
	       COALESCE(payment_channel, ''), COALESCE(failure_reason, ''),
	       COALESCE(gateway_request_id, ''), COALESCE(gateway_payment_id, ''), created_at
	FROM orders
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	order := &domain.Order{}
	err := row.Scan(&order.ID, &order.BuyerID, &order.Total, &order.Currency, &order.Country,
		&order.Status, &order.PaymentMethod, &order.PaymentChannel, &order.FailureReason,
		&order.GatewayRequestID, &order.GatewayPaymentID, &order.CreatedAt)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, q database.Querier, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT COALESCE(product_id::text, ''), COALESCE(seller_id::text, ''), title, quantity, price
		FROM order_items
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.SellerID, &item.Title, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}
