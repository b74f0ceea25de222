package payments

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ukaymarket/settlement/internal/cart"
	"github.com/ukaymarket/settlement/internal/catalog"
	"github.com/ukaymarket/settlement/internal/domain"
	"github.com/ukaymarket/settlement/internal/orders"
	"github.com/ukaymarket/settlement/internal/settlement"
	"github.com/ukaymarket/settlement/internal/wallet"
)

const testToken = "secret-callback-token"

const (
	orderRef = "0b9e9a10-64d2-4a6e-8f3c-30c5c0a2f111"
	topupRef = "4c1d2e30-75e3-4b7f-9a4d-41d6d1b3a222"
)

func newTestProcessor(t *testing.T) (*Processor, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orderRepo := orders.NewOrderRepository(db)
	ledger := wallet.NewLedger(db)
	engine := settlement.NewEngine(db, orderRepo,
		catalog.NewProductRepository(db), ledger, cart.NewRepository(db),
		nil, nil, nil, settlement.Config{}, logger)

	processor := NewProcessor(testToken, engine, orderRepo, ledger, nil, logger)
	return processor, mock, func() { _ = db.Close() }
}

func deliver(p *Processor, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(body))
	if token != "" {
		req.Header.Set("x-callback-token", token)
	}
	rec := httptest.NewRecorder()
	p.HandleWebhook(rec, req)
	return rec
}

func orderRows(id string, status domain.OrderStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "buyer_id", "total", "currency", "country", "status", "payment_method",
		"payment_channel", "failure_reason", "gateway_request_id", "gateway_payment_id", "created_at",
	}).AddRow(id, "buyer-1", int64(20000), "PHP", "PH", string(status), "GATEWAY", "GCASH", "", "req-1", "", time.Now())
}

func itemRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"product_id", "seller_id", "title", "quantity", "price"}).
		AddRow("prod-1", "seller-1", "Denim Jacket", 2, int64(10000))
}

func TestWebhookRejectsBadToken(t *testing.T) {
	p, _, done := newTestProcessor(t)
	defer done()

	rec := deliver(p, "wrong-token", `{"event":"payment.succeeded","data":{"reference_id":"`+orderRef+`"}}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = deliver(p, "", `{"event":"payment.succeeded","data":{}}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing token, got %d", rec.Code)
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	p, _, done := newTestProcessor(t)
	defer done()

	rec := deliver(p, testToken, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = deliver(p, testToken, `{"event":"","data":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing event, got %d", rec.Code)
	}
}

func TestWebhookIgnoresUnknownEvent(t *testing.T) {
	p, _, done := newTestProcessor(t)
	defer done()

	rec := deliver(p, testToken, `{"event":"payment.refunded","data":{"reference_id":"`+orderRef+`"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ignored") {
		t.Fatalf("expected ignored ack, got %s", rec.Body.String())
	}
}

func TestWebhookIgnoresMissingReference(t *testing.T) {
	p, _, done := newTestProcessor(t)
	defer done()

	// external_id is present but not a UUID, so no correlation target exists.
	rec := deliver(p, testToken, `{"event":"payment.succeeded","data":{"external_id":"invoice-42"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ignored") {
		t.Fatalf("expected ignored ack, got %s", rec.Body.String())
	}
}

func TestWebhookReplayForPaidOrder(t *testing.T) {
	p, mock, done := newTestProcessor(t)
	defer done()

	mock.ExpectQuery("SELECT id, buyer_id, total").
		WithArgs(orderRef).
		WillReturnRows(orderRows(orderRef, domain.OrderStatusPaid))
	mock.ExpectQuery("FROM order_items").WillReturnRows(itemRows())

	rec := deliver(p, testToken, `{"event":"payment.succeeded","data":{"reference_id":"`+orderRef+`","id":"pay-1"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "already processed") {
		t.Fatalf("expected replay ack, got %s", rec.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWebhookFailureEventAfterPaidIsNoOp(t *testing.T) {
	p, mock, done := newTestProcessor(t)
	defer done()

	mock.ExpectQuery("SELECT id, buyer_id, total").
		WithArgs(orderRef).
		WillReturnRows(orderRows(orderRef, domain.OrderStatusPaid))
	mock.ExpectQuery("FROM order_items").WillReturnRows(itemRows())

	rec := deliver(p, testToken, `{"event":"payment.failed","data":{"reference_id":"`+orderRef+`","failure_code":"EXPIRED"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "already processed") {
		t.Fatalf("expected no-op ack, got %s", rec.Body.String())
	}
}

func TestWebhookFailsPendingOrder(t *testing.T) {
	p, mock, done := newTestProcessor(t)
	defer done()

	// Pre-lock screen.
	mock.ExpectQuery("SELECT id, buyer_id, total").
		WithArgs(orderRef).
		WillReturnRows(orderRows(orderRef, domain.OrderStatusPending))
	mock.ExpectQuery("FROM order_items").WillReturnRows(itemRows())

	// Re-check under the row lock, then transition.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, buyer_id, total").
		WithArgs(orderRef).
		WillReturnRows(orderRows(orderRef, domain.OrderStatusPending))
	mock.ExpectQuery("FROM order_items").WillReturnRows(itemRows())
	mock.ExpectExec("UPDATE orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := deliver(p, testToken, `{"event":"invoice.expired","data":{"reference_id":"`+orderRef+`"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "failed") {
		t.Fatalf("expected failed ack, got %s", rec.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWebhookCreditsPendingTopup(t *testing.T) {
	p, mock, done := newTestProcessor(t)
	defer done()

	// No order matches the reference.
	mock.ExpectQuery("SELECT id, buyer_id, total").
		WithArgs(topupRef).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	// The pending top-up does.
	mock.ExpectQuery("SELECT id, wallet_id, type, status, amount").
		WithArgs(topupRef).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "wallet_id", "type", "status", "amount", "external_reference", "related_order_id", "description", "created_at",
		}).AddRow(topupRef, "w1", string(domain.TransactionTopupPending), string(domain.TransactionStatusPending),
			int64(50000), "req-9", "", "Pending top-up via GCASH", time.Now()))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT t.wallet_id, w.user_id, t.status, t.amount").
		WithArgs(topupRef).
		WillReturnRows(sqlmock.NewRows([]string{"wallet_id", "user_id", "status", "amount"}).
			AddRow("w1", "user-1", string(domain.TransactionStatusPending), int64(50000)))
	mock.ExpectQuery("SELECT id, balance FROM wallets").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "balance"}).AddRow("w1", int64(0)))
	mock.ExpectExec("UPDATE wallets SET balance = balance").
		WithArgs("w1", int64(50000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_transactions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE wallet_transactions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := deliver(p, testToken, `{"event":"payment_request.succeeded","data":{"payment_request_id":"`+topupRef+`","id":"pay-9"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "topup credited") {
		t.Fatalf("expected topup ack, got %s", rec.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWebhookUnknownReferenceAcknowledged(t *testing.T) {
	p, mock, done := newTestProcessor(t)
	defer done()

	mock.ExpectQuery("SELECT id, buyer_id, total").
		WithArgs(orderRef).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT id, wallet_id, type, status, amount").
		WithArgs(orderRef).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := deliver(p, testToken, `{"event":"payment.succeeded","data":{"reference_id":"`+orderRef+`"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ignored") {
		t.Fatalf("expected ignored ack, got %s", rec.Body.String())
	}
}
