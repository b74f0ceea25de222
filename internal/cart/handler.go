package cart

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ukaymarket/settlement/internal/catalog"
)

type Handler struct {
	repo     *Repository
	products *catalog.ProductRepository
	logger   *slog.Logger
}

func NewHandler(repo *Repository, products *catalog.ProductRepository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, products: products, logger: logger}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	items, err := h.repo.ListItems(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list cart items", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, items)
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" || req.Quantity <= 0 {
		h.writeError(w, http.StatusBadRequest, "product_id and a positive quantity are required")
		return
	}

	// Availability here is advisory; checkout re-checks under row locks.
	product, err := h.products.GetByID(r.Context(), req.ProductID)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "product_id", req.ProductID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if product == nil {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if product.Sold || product.Quantity < req.Quantity {
		h.writeError(w, http.StatusConflict, "insufficient stock")
		return
	}

	if err := h.repo.Add(r.Context(), userID, req.ProductID, req.Quantity); err != nil {
		h.logger.Error("failed to add cart item", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("cart item added", "user_id", userID, "product_id", req.ProductID, "quantity", req.Quantity)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	productID := r.PathValue("productId")

	if err := h.repo.Remove(r.Context(), userID, productID); err != nil {
		h.logger.Error("failed to remove cart item", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
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
