package stock

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/wearloom/commerce-engine/internal/domain"
)

// Handler exposes the seller-facing stock endpoints.
type Handler struct {
	ledger *Ledger
	logger *slog.Logger
}

func NewHandler(ledger *Ledger, logger *slog.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		logger: logger,
	}
}

func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	entry, err := h.ledger.Entry(r.Context(), productID)
	if err != nil {
		h.logger.Error("failed to load stock entry", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if entry == nil {
		h.writeError(w, http.StatusNotFound, "no stock for product")
		return
	}

	h.writeJSON(w, http.StatusOK, entry)
}

type availabilityResponse struct {
	ProductID string      `json:"product_id"`
	Size      domain.Size `json:"size"`
	Quantity  int         `json:"quantity"`
}

func (h *Handler) HandleGetAvailability(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}
	size := domain.Size(r.PathValue("size"))
	if !size.Valid() {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidSize.Error())
		return
	}

	quantity, err := h.ledger.Available(r.Context(), productID, size)
	if err != nil {
		h.logger.Error("failed to read availability", "error", err, "product_id", productID, "size", size)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, availabilityResponse{ProductID: productID, Size: size, Quantity: quantity})
}

func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	history, err := h.ledger.History(r.Context(), productID)
	if err != nil {
		h.logger.Error("failed to load stock history", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if history == nil {
		history = []domain.StockAdjustment{}
	}

	h.writeJSON(w, http.StatusOK, history)
}

type adjustRequest struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

func (h *Handler) HandleAdjust(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")
	size := domain.NormalizeSize(r.PathValue("size"))
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "manual adjustment"
	}

	entry, err := h.ledger.ManualAdjust(r.Context(), productID, size, req.Quantity, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSize), errors.Is(err, domain.ErrInvalidQuantity):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("failed to adjust stock", "error", err, "product_id", productID, "size", size)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.logger.Info("stock adjusted", "product_id", productID, "size", size, "quantity", req.Quantity)
	h.writeJSON(w, http.StatusOK, entry)
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
