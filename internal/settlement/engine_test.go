package settlement

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukaymarket/settlement/internal/cart"
	"github.com/ukaymarket/settlement/internal/catalog"
	"github.com/ukaymarket/settlement/internal/domain"
	"github.com/ukaymarket/settlement/internal/orders"
	"github.com/ukaymarket/settlement/internal/wallet"
)

func newTestEngine(t *testing.T, feeBps int64) (*Engine, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(db,
		orders.NewOrderRepository(db),
		catalog.NewProductRepository(db),
		wallet.NewLedger(db),
		cart.NewRepository(db),
		nil, nil, nil,
		Config{PlatformFeeBps: feeBps},
		logger)

	return engine, mock, func() { _ = db.Close() }
}

func TestSellerAmount(t *testing.T) {
	tests := []struct {
		name     string
		feeBps   int64
		subtotal int64
		want     int64
	}{
		{"no fee", 0, 10000, 10000},
		{"ten percent", 1000, 10000, 9000},
		{"rounding truncates in the platform's favor", 250, 999, 974},
		{"full fee", 10000, 10000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _, done := newTestEngine(t, tt.feeBps)
			defer done()
			assert.Equal(t, tt.want, engine.SellerAmount(tt.subtotal))
		})
	}
}

func TestGroupBySeller(t *testing.T) {
	items := []domain.OrderItem{
		{ProductID: "p1", SellerID: "s1", Title: "Jacket", Quantity: 1, Price: 45000},
		{ProductID: "p2", SellerID: "s2", Title: "Tee", Quantity: 2, Price: 15000},
		{ProductID: "p3", SellerID: "s1", Title: "Jeans", Quantity: 1, Price: 30000},
		{ProductID: "p4", SellerID: "", Title: "Orphan", Quantity: 1, Price: 100},
	}

	sales := groupBySeller(items)

	require.Len(t, sales, 2)
	assert.Equal(t, "s1", sales[0].SellerID)
	require.Len(t, sales[0].Items, 2)
	assert.Equal(t, int64(45000), sales[0].Items[0].Subtotal)
	assert.Equal(t, "s2", sales[1].SellerID)
	require.Len(t, sales[1].Items, 1)
	assert.Equal(t, int64(30000), sales[1].Items[0].Subtotal)
}

func TestCheckoutEmptyCart(t *testing.T) {
	engine, mock, done := newTestEngine(t, 0)
	defer done()

	mock.ExpectQuery("SELECT product_id, quantity, added_at").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "added_at"}))

	_, err := engine.Checkout(context.Background(), CheckoutInput{
		BuyerID:       "buyer-1",
		PaymentMethod: domain.PaymentMethodWallet,
	})
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestCheckoutGatewayRequiresChannel(t *testing.T) {
	engine, mock, done := newTestEngine(t, 0)
	defer done()

	mock.ExpectQuery("SELECT product_id, quantity, added_at").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "added_at"}).
			AddRow("prod-1", 1, time.Now()))

	_, err := engine.Checkout(context.Background(), CheckoutInput{
		BuyerID:       "buyer-1",
		PaymentMethod: domain.PaymentMethodGateway,
	})
	assert.ErrorIs(t, err, ErrMissingChannel)
}

func TestCheckoutWalletSettlesInOneTransaction(t *testing.T) {
	engine, mock, done := newTestEngine(t, 1000)
	defer done()

	mock.ExpectQuery("SELECT product_id, quantity, added_at").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "added_at"}).
			AddRow("prod-1", 2, time.Now()))

	// Advisory balance screen before any lock.
	mock.ExpectQuery("SELECT id, user_id, balance, updated_at").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "updated_at"}).
			AddRow("w-buyer", "buyer-1", int64(50000), time.Now()))
	mock.ExpectQuery("SELECT SUM").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(20000)))

	mock.ExpectBegin()
	// Lock products and snapshot the line items.
	mock.ExpectQuery("SELECT id, seller_id, title, price, quantity, sold").
		WillReturnRows(sqlmock.NewRows([]string{"id", "seller_id", "title", "price", "quantity", "sold"}).
			AddRow("prod-1", "seller-1", "Denim Jacket", int64(10000), 5, false))
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").WillReturnResult(sqlmock.NewResult(0, 1))
	// Debit the buyer.
	mock.ExpectQuery("SELECT id, balance FROM wallets").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow("w-buyer", int64(50000)))
	mock.ExpectExec("UPDATE wallets SET balance = balance").
		WithArgs("w-buyer", int64(20000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_transactions").WillReturnResult(sqlmock.NewResult(0, 1))
	// PAID transition and stock deduction.
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE products").
		WithArgs("prod-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Credit the seller net of the 10% fee.
	mock.ExpectQuery("SELECT id, balance FROM wallets").
		WithArgs("seller-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow("w-seller", int64(0)))
	mock.ExpectExec("UPDATE wallets SET balance = balance").
		WithArgs("w-seller", int64(18000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_transactions").WillReturnResult(sqlmock.NewResult(0, 1))
	// Cart clears inside the same transaction.
	mock.ExpectExec("DELETE FROM cart_items").
		WithArgs("buyer-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := engine.Checkout(context.Background(), CheckoutInput{
		BuyerID:       "buyer-1",
		PaymentMethod: domain.PaymentMethodWallet,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPaid, result.Order.Status)
	assert.Equal(t, int64(20000), result.Order.Total)
	assert.Nil(t, result.Payment)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutWalletRollsBackOnShortBalance(t *testing.T) {
	engine, mock, done := newTestEngine(t, 0)
	defer done()

	mock.ExpectQuery("SELECT product_id, quantity, added_at").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "added_at"}).
			AddRow("prod-1", 1, time.Now()))

	// The unlocked estimate is stale and clears the screen. The locked
	// price makes the real total 10000, so the debit must fail.
	mock.ExpectQuery("SELECT id, user_id, balance, updated_at").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "updated_at"}).
			AddRow("w-buyer", "buyer-1", int64(500), time.Now()))
	mock.ExpectQuery("SELECT SUM").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(400)))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, seller_id, title, price, quantity, sold").
		WillReturnRows(sqlmock.NewRows([]string{"id", "seller_id", "title", "price", "quantity", "sold"}).
			AddRow("prod-1", "seller-1", "Denim Jacket", int64(10000), 5, false))
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, balance FROM wallets").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow("w-buyer", int64(500)))
	mock.ExpectRollback()

	_, err := engine.Checkout(context.Background(), CheckoutInput{
		BuyerID:       "buyer-1",
		PaymentMethod: domain.PaymentMethodWallet,
	})
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutWalletRejectedBeforeLocking(t *testing.T) {
	engine, mock, done := newTestEngine(t, 0)
	defer done()

	mock.ExpectQuery("SELECT product_id, quantity, added_at").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "added_at"}).
			AddRow("prod-1", 1, time.Now()))

	// Balance clearly short of the estimate. No transaction is opened.
	mock.ExpectQuery("SELECT id, user_id, balance, updated_at").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "updated_at"}).
			AddRow("w-buyer", "buyer-1", int64(100), time.Now()))
	mock.ExpectQuery("SELECT SUM").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(10000)))

	_, err := engine.Checkout(context.Background(), CheckoutInput{
		BuyerID:       "buyer-1",
		PaymentMethod: domain.PaymentMethodWallet,
	})
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckoutStockUnavailable(t *testing.T) {
	engine, mock, done := newTestEngine(t, 0)
	defer done()

	mock.ExpectQuery("SELECT product_id, quantity, added_at").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "added_at"}).
			AddRow("prod-1", 3, time.Now()))

	mock.ExpectQuery("SELECT id, user_id, balance, updated_at").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "updated_at"}).
			AddRow("w-buyer", "buyer-1", int64(100000), time.Now()))
	mock.ExpectQuery("SELECT SUM").
		WithArgs("buyer-1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(30000)))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, seller_id, title, price, quantity, sold").
		WillReturnRows(sqlmock.NewRows([]string{"id", "seller_id", "title", "price", "quantity", "sold"}).
			AddRow("prod-1", "seller-1", "Denim Jacket", int64(10000), 1, false))
	mock.ExpectRollback()

	_, err := engine.Checkout(context.Background(), CheckoutInput{
		BuyerID:       "buyer-1",
		PaymentMethod: domain.PaymentMethodWallet,
	})
	assert.ErrorIs(t, err, ErrStockUnavailable)
}

func TestSettleOrderAlreadyResolved(t *testing.T) {
	engine, mock, done := newTestEngine(t, 0)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, buyer_id, total").
		WithArgs("order-1").
		WillReturnRows(orderRows("order-1", "buyer-1", domain.OrderStatusPaid))
	mock.ExpectQuery("FROM order_items").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "seller_id", "title", "quantity", "price"}))
	mock.ExpectCommit()

	settled, err := engine.SettleOrder(context.Background(), "order-1", "pay-1")
	require.NoError(t, err)
	assert.False(t, settled)
}

func TestSettleOrderRollsBackWhenSellerCreditFails(t *testing.T) {
	engine, mock, done := newTestEngine(t, 0)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, buyer_id, total").
		WithArgs("order-1").
		WillReturnRows(orderRows("order-1", "buyer-1", domain.OrderStatusPending))
	mock.ExpectQuery("FROM order_items").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "seller_id", "title", "quantity", "price"}).
			AddRow("prod-1", "seller-1", "Denim Jacket", 1, int64(10000)))
	mock.ExpectQuery("SELECT id, seller_id, title, price, quantity, sold").
		WillReturnRows(sqlmock.NewRows([]string{"id", "seller_id", "title", "price", "quantity", "sold"}).
			AddRow("prod-1", "seller-1", "Denim Jacket", int64(10000), 5, false))
	mock.ExpectExec("UPDATE products").
		WithArgs("prod-1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1))
	// Seller wallet went missing after the PAID transition was written.
	// Everything above must roll back with it.
	mock.ExpectQuery("SELECT id, balance FROM wallets").
		WithArgs("seller-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	settled, err := engine.SettleOrder(context.Background(), "order-1", "pay-1")
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
	assert.False(t, settled)

	require.NoError(t, mock.ExpectationsWereMet())
}

func orderRows(id, buyerID string, status domain.OrderStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "buyer_id", "total", "currency", "country", "status", "payment_method",
		"payment_channel", "failure_reason", "gateway_request_id", "gateway_payment_id", "created_at",
	}).AddRow(id, buyerID, int64(10000), "PHP", "PH", string(status), "GATEWAY", "GCASH", "", "req-1", "", time.Now())
}
