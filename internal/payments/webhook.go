package payments

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ukaymarket/settlement/internal/domain"
	"github.com/ukaymarket/settlement/internal/orders"
	"github.com/ukaymarket/settlement/internal/settlement"
	"github.com/ukaymarket/settlement/internal/telemetry"
	"github.com/ukaymarket/settlement/internal/wallet"
)

// Event names the provider delivers. Anything outside these sets is
// acknowledged and ignored so the provider stops redelivering it.
var (
	successEvents = map[string]bool{
		"payment.succeeded":         true,
		"payment_request.succeeded": true,
		"invoice.paid":              true,
		"capture.succeeded":         true,
	}
	failureEvents = map[string]bool{
		"payment.failed":         true,
		"payment_request.failed": true,
		"invoice.expired":        true,
		"capture.failed":         true,
	}
)

type webhookEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type webhookData struct {
	ID               string `json:"id"`
	ReferenceID      string `json:"reference_id"`
	PaymentRequestID string `json:"payment_request_id"`
	ExternalID       string `json:"external_id"`
	PaymentID        string `json:"payment_id"`
	FailureCode      string `json:"failure_code"`
}

// Processor applies provider webhook deliveries to orders and wallet
// top-ups. It is safe against replays and concurrent duplicate deliveries:
// a cheap status check screens out already-settled targets before any lock
// is taken, and the settlement engine re-checks under the row lock.
type Processor struct {
	callbackToken string
	engine        *settlement.Engine
	orders        *orders.OrderRepository
	wallets       *wallet.Ledger
	metrics       *telemetry.SettlementMetrics
	logger        *slog.Logger
}

func NewProcessor(callbackToken string, engine *settlement.Engine, orderRepo *orders.OrderRepository,
	ledger *wallet.Ledger, metrics *telemetry.SettlementMetrics, logger *slog.Logger) *Processor {
	return &Processor{
		callbackToken: callbackToken,
		engine:        engine,
		orders:        orderRepo,
		wallets:       ledger,
		metrics:       metrics,
		logger:        logger,
	}
}

// HandleWebhook is the POST /webhooks/payment endpoint. Responses follow
// the provider's retry contract: 2xx acknowledges (including ignored and
// replayed events), 4xx rejects permanently, 5xx asks for redelivery.
func (p *Processor) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("x-callback-token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(p.callbackToken)) != 1 {
		p.logger.Warn("webhook rejected: bad callback token", "remote", r.RemoteAddr)
		p.count(r.Context(), "forbidden")
		http.Error(w, "invalid callback token", http.StatusForbidden)
		return
	}

	var envelope webhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if envelope.Event == "" || len(envelope.Data) == 0 {
		http.Error(w, "missing event or data", http.StatusBadRequest)
		return
	}

	isSuccess := successEvents[envelope.Event]
	if !isSuccess && !failureEvents[envelope.Event] {
		p.logger.Info("ignoring webhook event", "event", envelope.Event)
		p.ack(r.Context(), w, "ignored")
		return
	}

	var data webhookData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	ref := correlationRef(data)
	if ref == "" {
		p.logger.Warn("webhook carries no usable correlation reference", "event", envelope.Event)
		p.ack(r.Context(), w, "ignored")
		return
	}

	log := p.logger.With("event", envelope.Event, "reference_id", ref)

	order, err := p.orders.GetByID(r.Context(), ref)
	if err != nil {
		log.Error("failed to load order for webhook", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if order != nil {
		p.processOrder(w, r, log, order, envelope.Event, isSuccess, data)
		return
	}

	topup, err := p.wallets.GetTransaction(r.Context(), ref)
	if err != nil {
		log.Error("failed to load wallet transaction for webhook", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if topup != nil {
		p.processTopup(w, r, log, topup, isSuccess, data)
		return
	}

	log.Warn("webhook reference matches no order or top-up")
	p.ack(r.Context(), w, "ignored")
}

func (p *Processor) processOrder(w http.ResponseWriter, r *http.Request, log *slog.Logger,
	order *domain.Order, event string, isSuccess bool, data webhookData) {

	if order.Status != domain.OrderStatusPending {
		// Replay or late delivery; the order is already resolved.
		log.Info("webhook for non-pending order acknowledged", "order_id", order.ID, "status", order.Status)
		p.ack(r.Context(), w, "already processed")
		return
	}

	if isSuccess {
		settled, err := p.engine.SettleOrder(r.Context(), order.ID, paymentID(data))
		if err != nil {
			log.Error("order settlement failed", "error", err, "order_id", order.ID)
			http.Error(w, "settlement failed", http.StatusInternalServerError)
			return
		}
		if !settled {
			p.ack(r.Context(), w, "already processed")
			return
		}
		p.ack(r.Context(), w, "settled")
		return
	}

	reason := "payment " + event
	if data.FailureCode != "" {
		reason += ": " + data.FailureCode
	}
	failed, err := p.engine.FailOrder(r.Context(), order.ID, reason, paymentID(data))
	if err != nil {
		log.Error("failed to fail order", "error", err, "order_id", order.ID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !failed {
		p.ack(r.Context(), w, "already processed")
		return
	}
	p.ack(r.Context(), w, "failed")
}

func (p *Processor) processTopup(w http.ResponseWriter, r *http.Request, log *slog.Logger,
	topup *domain.WalletTransaction, isSuccess bool, data webhookData) {

	if topup.Status != domain.TransactionStatusPending {
		log.Info("webhook for resolved top-up acknowledged", "transaction_id", topup.ID, "status", topup.Status)
		p.ack(r.Context(), w, "already processed")
		return
	}

	err := p.wallets.ResolvePendingTopup(r.Context(), topup.ID, isSuccess, paymentID(data), data.FailureCode)
	if err != nil {
		log.Error("failed to resolve top-up", "error", err, "transaction_id", topup.ID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if isSuccess {
		log.Info("wallet top-up credited", "transaction_id", topup.ID, "amount", topup.Amount)
		p.ack(r.Context(), w, "topup credited")
		return
	}
	log.Warn("wallet top-up failed", "transaction_id", topup.ID, "failure_code", data.FailureCode)
	p.ack(r.Context(), w, "topup failed")
}

func (p *Processor) ack(ctx context.Context, w http.ResponseWriter, status string) {
	p.count(ctx, status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (p *Processor) count(ctx context.Context, outcome string) {
	if p.metrics != nil {
		p.metrics.WebhookEvents.Add(ctx, 1, telemetry.WebhookOutcome(outcome))
	}
}

// correlationRef picks the first field that carries a valid settlement
// reference. Providers put the reference in different fields depending on
// the event family.
func correlationRef(data webhookData) string {
	for _, candidate := range []string{data.ReferenceID, data.PaymentRequestID, data.ExternalID} {
		if candidate == "" {
			continue
		}
		if _, err := uuid.Parse(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// paymentID is the provider-side payment identifier recorded on the order
// for reconciliation.
func paymentID(data webhookData) string {
	if data.PaymentID != "" {
		return data.PaymentID
	}
	return data.ID
}
