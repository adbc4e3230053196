package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/wearloom/commerce-engine/internal/cancel"
	"github.com/wearloom/commerce-engine/internal/checkout"
	"github.com/wearloom/commerce-engine/internal/domain"
	"github.com/wearloom/commerce-engine/internal/orders"
)

// Handler exposes the buyer-facing order surface: checkout, cancellation,
// payment confirmation and the read endpoints.
type Handler struct {
	checkout *checkout.Service
	cancel   *cancel.Service
	repo     *orders.Repository
	logger   *slog.Logger
}

func NewHandler(checkoutSvc *checkout.Service, cancelSvc *cancel.Service, repo *orders.Repository, logger *slog.Logger) *Handler {
	return &Handler{
		checkout: checkoutSvc,
		cancel:   cancelSvc,
		repo:     repo,
		logger:   logger,
	}
}

type checkoutCartRequest struct {
	BuyerID         string   `json:"buyer_id"`
	BuyerEmail      string   `json:"buyer_email"`
	CartID          string   `json:"cart_id"`
	LineIDs         []string `json:"line_ids"`
	PaymentProvider string   `json:"payment_provider"`
}

func (h *Handler) HandleCheckoutCart(w http.ResponseWriter, r *http.Request) {
	var req checkoutCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BuyerID == "" || req.CartID == "" {
		h.writeError(w, http.StatusBadRequest, "buyer_id and cart_id are required")
		return
	}

	order, err := h.checkout.FromCart(r.Context(), checkout.CartInput{
		BuyerID:         req.BuyerID,
		BuyerEmail:      req.BuyerEmail,
		CartID:          req.CartID,
		LineIDs:         req.LineIDs,
		PaymentProvider: req.PaymentProvider,
	})
	if err != nil {
		h.writeDomainError(w, err, "cart checkout failed", "cart_id", req.CartID)
		return
	}

	h.logger.Info("cart checked out", "order_id", order.ID, "buyer_id", order.BuyerID, "total", order.Total)
	h.writeJSON(w, http.StatusCreated, order)
}

type checkoutDirectRequest struct {
	BuyerID         string `json:"buyer_id"`
	BuyerEmail      string `json:"buyer_email"`
	ProductID       string `json:"product_id"`
	Quantity        int    `json:"quantity"`
	Size            string `json:"size"`
	PaymentProvider string `json:"payment_provider"`
}

func (h *Handler) HandleCheckoutDirect(w http.ResponseWriter, r *http.Request) {
	var req checkoutDirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BuyerID == "" || req.ProductID == "" {
		h.writeError(w, http.StatusBadRequest, "buyer_id and product_id are required")
		return
	}

	order, err := h.checkout.Direct(r.Context(), checkout.DirectInput{
		BuyerID:         req.BuyerID,
		BuyerEmail:      req.BuyerEmail,
		ProductID:       req.ProductID,
		Quantity:        req.Quantity,
		Size:            req.Size,
		PaymentProvider: req.PaymentProvider,
	})
	if err != nil {
		h.writeDomainError(w, err, "direct checkout failed", "product_id", req.ProductID)
		return
	}

	h.logger.Info("direct checkout", "order_id", order.ID, "buyer_id", order.BuyerID, "total", order.Total)
	h.writeJSON(w, http.StatusCreated, order)
}

type cancelRequest struct {
	BuyerID string `json:"buyer_id"`
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BuyerID == "" {
		h.writeError(w, http.StatusBadRequest, "buyer_id is required")
		return
	}

	order, err := h.cancel.Cancel(r.Context(), req.BuyerID, id)
	if err != nil {
		h.writeDomainError(w, err, "cancellation failed", "order_id", id)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.repo.ConfirmPayment(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err, "payment confirmation failed", "order_id", id)
		return
	}

	h.logger.Info("payment confirmed", "order_id", order.ID, "payment_status", order.PaymentStatus)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleTracking(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	history, err := h.repo.Tracking(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get tracking history", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if len(history) == 0 {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, history)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	buyerID := r.URL.Query().Get("buyer_id")
	if buyerID == "" {
		h.writeError(w, http.StatusBadRequest, "buyer_id query parameter is required")
		return
	}

	list, err := h.repo.ListByBuyer(r.Context(), buyerID)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err, "buyer_id", buyerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, list)
}

// writeDomainError maps engine errors to response codes; anything untyped is
// an internal error.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, msg string, args ...any) {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrAlreadyDelivered):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotOrderOwner):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrCartNotFound),
		errors.Is(err, domain.ErrProductNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrEmptySelection),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidSize):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error(msg, append([]any{"error", err}, args...)...)
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
