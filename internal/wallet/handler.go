package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ukaymarket/settlement/internal/domain"
	"github.com/ukaymarket/settlement/internal/gateway"
	"github.com/ukaymarket/settlement/internal/telemetry"
)

// Gateway opens an external payment for a wallet top-up.
type Gateway interface {
	CreatePaymentRequest(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentResult, error)
}

type Handler struct {
	ledger  *Ledger
	gateway Gateway
	metrics *telemetry.SettlementMetrics
	logger  *slog.Logger
}

func NewHandler(ledger *Ledger, gw Gateway, metrics *telemetry.SettlementMetrics, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, gateway: gw, metrics: metrics, logger: logger}
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	wallet, err := h.ledger.GetByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get wallet", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if wallet == nil {
		h.writeError(w, http.StatusNotFound, "wallet not found")
		return
	}

	h.writeJSON(w, http.StatusOK, wallet)
}

func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	transactions, err := h.ledger.ListTransactions(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list wallet transactions", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, transactions)
}

type topupRequest struct {
	Amount     int64  `json:"amount"`
	ChannelKey string `json:"channel_key"`
	Email      string `json:"email"`
}

type topupResponse struct {
	TransactionID string                `json:"transaction_id"`
	Amount        int64                 `json:"amount"`
	Status        string                `json:"status"`
	Payment       *domain.PaymentResult `json:"payment,omitempty"`
}

// HandleTopup opens a PENDING top-up transaction and asks the gateway for a
// payment. The pending row is committed before the gateway call so the
// webhook always finds its correlation target; a gateway that refuses or
// errors resolves the row to FAILED immediately.
func (h *Handler) HandleTopup(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	var req topupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Amount <= 0 {
		h.writeError(w, http.StatusBadRequest, ErrInvalidAmount.Error())
		return
	}

	channel, err := gateway.ParseChannelKey(req.ChannelKey)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	topup, err := h.ledger.OpenPendingTopup(r.Context(), userID, req.Amount,
		fmt.Sprintf("Wallet top-up via %s", channel.Display()))
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			h.writeError(w, http.StatusNotFound, "wallet not found")
			return
		}
		h.logger.Error("failed to open pending top-up", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	payment, err := h.gateway.CreatePaymentRequest(r.Context(), domain.PaymentRequest{
		Kind:        domain.PaymentKindTopup,
		ReferenceID: topup.ID,
		Amount:      req.Amount,
		Currency:    "PHP",
		Country:     "PH",
		BuyerID:     userID,
		BuyerEmail:  req.Email,
		ChannelKey:  req.ChannelKey,
		Description: fmt.Sprintf("Wallet top-up #%.8s", topup.ID),
	})
	if err != nil {
		h.logger.Error("top-up payment initiation failed", "error", err, "transaction_id", topup.ID)
		h.resolveFailed(r.Context(), topup.ID, "payment initiation failed")
		h.writeError(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}

	if payment.Status == domain.PaymentResultFailed {
		reason := payment.ErrorMessage
		if reason == "" {
			reason = payment.ErrorCode
		}
		h.resolveFailed(r.Context(), topup.ID, reason)
		h.writeJSON(w, http.StatusUnprocessableEntity, topupResponse{
			TransactionID: topup.ID,
			Amount:        req.Amount,
			Status:        string(domain.TransactionStatusFailed),
			Payment:       payment,
		})
		return
	}

	if err := h.ledger.SetTopupReference(r.Context(), topup.ID, payment.RequestID); err != nil {
		h.logger.Error("failed to store top-up reference", "error", err, "transaction_id", topup.ID)
	}

	if h.metrics != nil {
		h.metrics.TopupsOpened.Add(r.Context(), 1)
	}
	h.logger.Info("wallet top-up initiated",
		"transaction_id", topup.ID, "user_id", userID, "amount", req.Amount, "channel", channel.Display())

	h.writeJSON(w, http.StatusAccepted, topupResponse{
		TransactionID: topup.ID,
		Amount:        req.Amount,
		Status:        string(domain.TransactionStatusPending),
		Payment:       payment,
	})
}

func (h *Handler) resolveFailed(ctx context.Context, transactionID, reason string) {
	if err := h.ledger.ResolvePendingTopup(ctx, transactionID, false, "", reason); err != nil {
		h.logger.Error("failed to resolve top-up as failed", "error", err, "transaction_id", transactionID)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
