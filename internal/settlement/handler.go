package settlement

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ukaymarket/settlement/internal/domain"
	"github.com/ukaymarket/settlement/internal/gateway"
	"github.com/ukaymarket/settlement/internal/wallet"
)

type Handler struct {
	engine *Engine
	logger *slog.Logger
}

func NewHandler(engine *Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

type checkoutRequest struct {
	BuyerID       string `json:"buyer_id"`
	Email         string `json:"email"`
	PaymentMethod string `json:"payment_method"`
	ChannelKey    string `json:"channel_key"`
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BuyerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing buyer_id")
		return
	}

	in := CheckoutInput{
		BuyerID:       req.BuyerID,
		BuyerEmail:    req.Email,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
	}
	if in.PaymentMethod != domain.PaymentMethodWallet && in.PaymentMethod != domain.PaymentMethodGateway {
		h.writeError(w, http.StatusBadRequest, "payment_method must be WALLET or GATEWAY")
		return
	}

	if in.PaymentMethod == domain.PaymentMethodGateway {
		channel, err := gateway.ParseChannelKey(req.ChannelKey)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		in.ChannelKey = channel.Key
		in.Channel = channel.Display()
	}

	result, err := h.engine.Checkout(r.Context(), in)
	if err != nil {
		h.writeCheckoutError(w, req.BuyerID, err)
		return
	}

	status := http.StatusCreated
	if result.Order.Status == domain.OrderStatusFailed {
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, result)
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, buyerID string, err error) {
	switch {
	case errors.Is(err, ErrEmptyCart), errors.Is(err, ErrMissingChannel):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrStockUnavailable):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, wallet.ErrInsufficientFunds):
		h.writeError(w, http.StatusUnprocessableEntity, "insufficient wallet balance")
	case errors.Is(err, wallet.ErrWalletNotFound):
		h.writeError(w, http.StatusNotFound, "wallet not found")
	default:
		h.logger.Error("checkout failed", "error", err, "buyer_id", buyerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
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
