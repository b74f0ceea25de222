package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ukaymarket/settlement/internal/database"
	"github.com/ukaymarket/settlement/internal/domain"
)

var ErrOrderNotFound = errors.New("order not found")

// SettleOrder finalizes a PENDING order after the gateway confirmed
// payment: stock deduction, PAID transition and fund distribution in one
// transaction. Returns false when the order was already settled or failed
// by a concurrent delivery, which callers treat as an acknowledged no-op.
//
// Any error here means nothing was applied; the webhook should be
// redelivered.
func (e *Engine) SettleOrder(ctx context.Context, orderID, gatewayPaymentID string) (bool, error) {
	var order *domain.Order

	err := database.Transact(ctx, e.db, func(tx *sql.Tx) error {
		var err error
		order, err = e.orders.LockForUpdate(ctx, tx, orderID)
		if err != nil {
			return fmt.Errorf("lock order %s: %w", orderID, err)
		}
		if order == nil {
			return ErrOrderNotFound
		}
		if order.Status != domain.OrderStatusPending {
			// Lost the race with another delivery of the same event.
			order = nil
			return nil
		}

		ids := make([]string, 0, len(order.Items))
		for _, item := range order.Items {
			if item.ProductID != "" {
				ids = append(ids, item.ProductID)
			}
		}
		if _, err := e.products.LockForUpdate(ctx, tx, ids); err != nil {
			return fmt.Errorf("lock products for order %s: %w", orderID, err)
		}

		for _, item := range order.Items {
			if item.ProductID == "" {
				// Product deleted since checkout; nothing left to deduct.
				e.logger.Warn("line item lost its product, skipping deduction", "order_id", orderID)
				continue
			}
			if err := e.products.Deduct(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("deduct stock for order %s: %w", orderID, err)
			}
		}

		if err := e.orders.MarkPaid(ctx, tx, orderID, gatewayPaymentID); err != nil {
			return fmt.Errorf("mark order %s paid: %w", orderID, err)
		}
		order.Status = domain.OrderStatusPaid
		order.GatewayPaymentID = gatewayPaymentID

		return e.distribute(ctx, tx, order)
	})
	if err != nil {
		return false, err
	}
	if order == nil {
		return false, nil
	}

	e.logger.Info("order settled from gateway", "order_id", order.ID, "payment_id", gatewayPaymentID, "total", order.Total)
	e.countSettled(ctx)

	e.clearCartBestEffort(ctx, order.BuyerID, order.ID)
	e.publishSettled(ctx, order)

	return true, nil
}

// FailOrder transitions a PENDING order to FAILED after the gateway
// reported an expired or failed payment. Orders already out of PENDING are
// left untouched and reported as not failed.
func (e *Engine) FailOrder(ctx context.Context, orderID, reason, gatewayPaymentID string) (bool, error) {
	failed := false

	err := database.Transact(ctx, e.db, func(tx *sql.Tx) error {
		order, err := e.orders.LockForUpdate(ctx, tx, orderID)
		if err != nil {
			return fmt.Errorf("lock order %s: %w", orderID, err)
		}
		if order == nil {
			return ErrOrderNotFound
		}
		if order.Status != domain.OrderStatusPending {
			return nil
		}

		if err := e.orders.MarkFailed(ctx, tx, orderID, reason, gatewayPaymentID); err != nil {
			return fmt.Errorf("mark order %s failed: %w", orderID, err)
		}
		failed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if failed {
		e.countFailed(ctx)
		e.logger.Warn("order failed", "order_id", orderID, "reason", reason)
	}
	return failed, nil
}
