package settlement

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ukaymarket/settlement/internal/database"
	"github.com/ukaymarket/settlement/internal/domain"
	"github.com/ukaymarket/settlement/internal/wallet"
)

type CheckoutInput struct {
	BuyerID       string
	BuyerEmail    string
	PaymentMethod domain.PaymentMethod
	// ChannelKey identifies the external payment channel, e.g.
	// EWALLET_GCASH. Required for gateway checkouts, ignored for wallet.
	ChannelKey string
	// Channel is the display name derived from ChannelKey, stored on the
	// order before the gateway is called.
	Channel string
}

type CheckoutResult struct {
	Order *domain.Order `json:"order"`
	// Payment is set on gateway checkouts only and carries the redirect
	// URL or display details the buyer needs to complete payment.
	Payment *domain.PaymentResult `json:"payment,omitempty"`
}

// Checkout turns the buyer's cart into an order.
//
// Wallet checkouts settle synchronously: debit, stock deduction and fund
// distribution all happen in one transaction, so a failure at any step
// leaves no trace of the order. Gateway checkouts commit a PENDING order
// first and hand off to the payment provider; settlement happens later when
// the webhook confirms payment.
func (e *Engine) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	items, err := e.carts.ListItems(ctx, in.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	switch in.PaymentMethod {
	case domain.PaymentMethodWallet:
		return e.checkoutWallet(ctx, in, items)
	case domain.PaymentMethodGateway:
		if in.ChannelKey == "" {
			return nil, ErrMissingChannel
		}
		return e.checkoutGateway(ctx, in, items)
	default:
		return nil, fmt.Errorf("unsupported payment method %q", in.PaymentMethod)
	}
}

// buildOrder locks the cart's products in ascending id order, checks
// availability and materializes a PENDING order with a price and seller
// snapshot of every line item. Runs inside the caller's transaction so the
// product locks are held until commit.
func (e *Engine) buildOrder(ctx context.Context, tx *sql.Tx, in CheckoutInput, items []domain.CartItem) (*domain.Order, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	products, err := e.products.LockForUpdate(ctx, tx, ids)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}

	order := &domain.Order{
		ID:            uuid.NewString(),
		BuyerID:       in.BuyerID,
		Currency:      e.currency,
		Country:       e.country,
		Status:        domain.OrderStatusPending,
		PaymentMethod: in.PaymentMethod,
		PaymentChannel: func() string {
			if in.PaymentMethod == domain.PaymentMethodGateway {
				return in.Channel
			}
			return ""
		}(),
	}

	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %s is no longer available: %w", item.ProductID, ErrStockUnavailable)
		}
		if product.Sold || product.Quantity < item.Quantity {
			return nil, fmt.Errorf("product %q has insufficient stock: %w", product.Title, ErrStockUnavailable)
		}

		order.Items = append(order.Items, domain.OrderItem{
			ProductID: product.ID,
			SellerID:  product.SellerID,
			Title:     product.Title,
			Quantity:  item.Quantity,
			Price:     product.Price,
		})
		order.Total += product.Price * int64(item.Quantity)
	}

	if err := e.orders.Create(ctx, tx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	return order, nil
}

func (e *Engine) checkoutWallet(ctx context.Context, in CheckoutInput, items []domain.CartItem) (*CheckoutResult, error) {
	// Cheap screen before any lock is taken. The debit inside the
	// transaction is the authoritative balance check.
	w, err := e.wallets.GetByUser(ctx, in.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	if w == nil {
		return nil, wallet.ErrWalletNotFound
	}
	if estimate, err := e.carts.EstimateTotal(ctx, in.BuyerID); err != nil {
		return nil, fmt.Errorf("estimate cart total: %w", err)
	} else if w.Balance < estimate {
		return nil, wallet.ErrInsufficientFunds
	}

	var order *domain.Order

	err = database.Transact(ctx, e.db, func(tx *sql.Tx) error {
		var err error
		order, err = e.buildOrder(ctx, tx, in, items)
		if err != nil {
			return err
		}

		err = e.wallets.Debit(ctx, tx, wallet.Entry{
			UserID:         in.BuyerID,
			Amount:         order.Total,
			Type:           domain.TransactionPurchase,
			Description:    fmt.Sprintf("Purchase (Order #%.8s)", order.ID),
			RelatedOrderID: order.ID,
		})
		if err != nil {
			return fmt.Errorf("debit wallet for order %s: %w", order.ID, err)
		}

		if err := e.orders.MarkPaid(ctx, tx, order.ID, ""); err != nil {
			return fmt.Errorf("mark order %s paid: %w", order.ID, err)
		}
		order.Status = domain.OrderStatusPaid

		for _, item := range order.Items {
			if err := e.products.Deduct(ctx, tx, item.ProductID, item.Quantity); err != nil {
				// Availability was verified under the same locks, so a
				// short deduct here means the stock ledger is corrupt.
				return fmt.Errorf("deduct stock for order %s: %w", order.ID, err)
			}
		}

		if err := e.distribute(ctx, tx, order); err != nil {
			return err
		}

		if _, err := e.carts.Clear(ctx, tx, in.BuyerID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("order settled from wallet", "order_id", order.ID, "buyer_id", in.BuyerID, "total", order.Total)
	e.countSettled(ctx)
	e.publishSettled(ctx, order)

	return &CheckoutResult{Order: order}, nil
}

func (e *Engine) checkoutGateway(ctx context.Context, in CheckoutInput, items []domain.CartItem) (*CheckoutResult, error) {
	var order *domain.Order

	err := database.Transact(ctx, e.db, func(tx *sql.Tx) error {
		var err error
		order, err = e.buildOrder(ctx, tx, in, items)
		if err != nil {
			return err
		}

		if _, err := e.carts.Clear(ctx, tx, in.BuyerID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	// The gateway call runs outside the transaction: the PENDING order is
	// already durable and must never hold row locks across a network call.
	payment, err := e.gateway.CreatePaymentRequest(ctx, domain.PaymentRequest{
		Kind:        domain.PaymentKindOrder,
		ReferenceID: order.ID,
		Amount:      order.Total,
		Currency:    order.Currency,
		Country:     order.Country,
		BuyerID:     in.BuyerID,
		BuyerEmail:  in.BuyerEmail,
		ChannelKey:  in.ChannelKey,
		Description: fmt.Sprintf("Order #%.8s", order.ID),
	})
	if err != nil {
		e.failInitiation(ctx, order, fmt.Sprintf("payment initiation failed: %v", err))
		return nil, fmt.Errorf("create payment request for order %s: %w", order.ID, err)
	}

	if payment.Status == domain.PaymentResultFailed {
		reason := payment.ErrorMessage
		if reason == "" {
			reason = payment.ErrorCode
		}
		e.failInitiation(ctx, order, fmt.Sprintf("payment request rejected: %s", reason))
		order.Status = domain.OrderStatusFailed
		order.FailureReason = reason
		return &CheckoutResult{Order: order, Payment: payment}, nil
	}

	if err := e.orders.SetGatewayRequest(ctx, order.ID, payment.RequestID); err != nil {
		e.logger.Error("failed to store gateway request id", "error", err, "order_id", order.ID)
	}
	order.GatewayRequestID = payment.RequestID

	e.logger.Info("payment request created", "order_id", order.ID, "request_id", payment.RequestID, "channel", in.Channel)

	return &CheckoutResult{Order: order, Payment: payment}, nil
}

// failInitiation marks a committed PENDING order FAILED after the gateway
// refused or errored before any money moved.
func (e *Engine) failInitiation(ctx context.Context, order *domain.Order, reason string) {
	if err := e.orders.MarkFailed(ctx, e.db, order.ID, reason, ""); err != nil {
		e.logger.Error("failed to mark order failed", "error", err, "order_id", order.ID)
		return
	}
	e.countFailed(ctx)
	e.logger.Warn("order failed before payment", "order_id", order.ID, "reason", reason)
}
