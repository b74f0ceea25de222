package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ukaymarket/settlement/internal/cart"
	"github.com/ukaymarket/settlement/internal/catalog"
	"github.com/ukaymarket/settlement/internal/domain"
	"github.com/ukaymarket/settlement/internal/orders"
	"github.com/ukaymarket/settlement/internal/telemetry"
	"github.com/ukaymarket/settlement/internal/wallet"
)

var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrMissingChannel   = errors.New("payment channel is required")
	ErrStockUnavailable = errors.New("stock unavailable")
)

// Gateway creates an external payment request for an order or a wallet
// top-up. The call happens outside any database transaction; confirmation
// arrives later through the webhook processor.
type Gateway interface {
	CreatePaymentRequest(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentResult, error)
}

// Publisher emits settlement events after commit. A nil publisher disables
// notifications, mirroring how the order service treats a missing broker.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Engine coordinates the order aggregate, the stock ledger, the wallet
// ledger and fund distribution. Every mutation sequence it runs either fully
// commits or fully rolls back; row locks are its only synchronization.
type Engine struct {
	db       *sql.DB
	orders   *orders.OrderRepository
	products *catalog.ProductRepository
	wallets  *wallet.Ledger
	carts    *cart.Repository
	gateway  Gateway
	events   Publisher
	metrics  *telemetry.SettlementMetrics
	feeBps   int64
	currency string
	country  string
	logger   *slog.Logger
}

type Config struct {
	// PlatformFeeBps is the marketplace cut in basis points, taken out of
	// each seller's share during fund distribution. Zero by default.
	PlatformFeeBps int64
	Currency       string
	Country        string
}

func NewEngine(db *sql.DB, orderRepo *orders.OrderRepository, productRepo *catalog.ProductRepository,
	ledger *wallet.Ledger, cartRepo *cart.Repository, gw Gateway, events Publisher,
	metrics *telemetry.SettlementMetrics, cfg Config, logger *slog.Logger) *Engine {

	if cfg.Currency == "" {
		cfg.Currency = "PHP"
	}
	if cfg.Country == "" {
		cfg.Country = "PH"
	}

	return &Engine{
		db:       db,
		orders:   orderRepo,
		products: productRepo,
		wallets:  ledger,
		carts:    cartRepo,
		gateway:  gw,
		events:   events,
		metrics:  metrics,
		feeBps:   cfg.PlatformFeeBps,
		currency: cfg.Currency,
		country:  cfg.Country,
		logger:   logger,
	}
}

// SellerAmount computes a seller's share of a line-item subtotal net of the
// platform fee.
func (e *Engine) SellerAmount(subtotal int64) int64 {
	return subtotal * (10000 - e.feeBps) / 10000
}

// distribute credits each line item's seller with their share of the order
// total. It always runs on the caller's transaction: a failed seller credit
// rolls back the whole settlement, never leaving the order PAID with funds
// partially distributed. Items without a seller or with a non-positive
// share are skipped.
func (e *Engine) distribute(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	for _, item := range order.Items {
		if item.SellerID == "" {
			e.logger.Warn("no seller on line item, skipping distribution",
				"order_id", order.ID, "product_id", item.ProductID)
			continue
		}

		amount := e.SellerAmount(item.Subtotal())
		if amount <= 0 {
			e.logger.Warn("non-positive seller amount, skipping distribution",
				"order_id", order.ID, "seller_id", item.SellerID, "amount", amount)
			continue
		}

		err := e.wallets.Credit(ctx, tx, wallet.Entry{
			UserID:         item.SellerID,
			Amount:         amount,
			Type:           domain.TransactionSale,
			Description:    fmt.Sprintf("Sale: %dx %q (Order #%.8s)", item.Quantity, item.Title, order.ID),
			RelatedOrderID: order.ID,
		})
		if err != nil {
			return fmt.Errorf("distribute to seller %s for order %s: %w", item.SellerID, order.ID, err)
		}

		e.logger.Info("seller credited", "order_id", order.ID, "seller_id", item.SellerID, "amount", amount)
	}

	return nil
}

// publishSettled emits the order.settled event for the notification worker.
// Best effort: the money has already moved, a lost notification never undoes
// a settlement.
func (e *Engine) publishSettled(ctx context.Context, order *domain.Order) {
	if e.events == nil {
		return
	}

	event := domain.OrderSettledEvent{
		OrderID:   order.ID,
		BuyerID:   order.BuyerID,
		Total:     order.Total,
		Currency:  order.Currency,
		Sellers:   groupBySeller(order.Items),
		Timestamp: time.Now().UTC(),
	}

	if err := e.events.Publish(ctx, order.ID, event); err != nil {
		e.logger.Error("failed to publish order settled event", "error", err, "order_id", order.ID)
	}
}

func groupBySeller(items []domain.OrderItem) []domain.SellerSale {
	index := make(map[string]int)
	var sales []domain.SellerSale

	for _, item := range items {
		if item.SellerID == "" {
			continue
		}
		sold := domain.SoldItem{
			ProductID: item.ProductID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Subtotal:  item.Subtotal(),
		}
		i, ok := index[item.SellerID]
		if !ok {
			index[item.SellerID] = len(sales)
			sales = append(sales, domain.SellerSale{SellerID: item.SellerID, Items: []domain.SoldItem{sold}})
			continue
		}
		sales[i].Items = append(sales[i].Items, sold)
	}

	return sales
}

func (e *Engine) countSettled(ctx context.Context) {
	if e.metrics != nil {
		e.metrics.OrdersSettled.Add(ctx, 1)
	}
}

func (e *Engine) countFailed(ctx context.Context) {
	if e.metrics != nil {
		e.metrics.OrdersFailed.Add(ctx, 1)
	}
}

// clearCartBestEffort empties the buyer's cart outside the settlement
// transaction. A cart that fails to clear is an annoyance, not a reason to
// undo a payment.
func (e *Engine) clearCartBestEffort(ctx context.Context, buyerID, orderID string) {
	count, err := e.carts.Clear(ctx, e.db, buyerID)
	if err != nil {
		e.logger.Error("failed to clear cart after settlement", "error", err, "order_id", orderID, "buyer_id", buyerID)
		return
	}
	e.logger.Info("cart cleared", "order_id", orderID, "items", count)
}
