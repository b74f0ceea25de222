package payments

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// HandleCallback is where hosted payment flows redirect the buyer. It only
// reports the current state of the referenced order or top-up; the webhook
// is the single writer, so a buyer landing here before the webhook arrives
// simply sees PENDING.
func (p *Processor) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref_id")
	if _, err := uuid.Parse(ref); err != nil {
		http.Error(w, "invalid reference", http.StatusBadRequest)
		return
	}
	outcome := r.PathValue("status")

	w.Header().Set("Content-Type", "application/json")

	order, err := p.orders.GetByID(r.Context(), ref)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if order != nil {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"kind":     "order",
			"id":       order.ID,
			"outcome":  outcome,
			"status":   order.Status,
			"total":    order.Total,
			"currency": order.Currency,
		})
		return
	}

	topup, err := p.wallets.GetTransaction(r.Context(), ref)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if topup != nil {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"kind":    "topup",
			"id":      topup.ID,
			"outcome": outcome,
			"status":  topup.Status,
			"amount":  topup.Amount,
		})
		return
	}

	http.Error(w, "unknown reference", http.StatusNotFound)
}
