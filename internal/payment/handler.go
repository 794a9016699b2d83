package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	errors "github.com/pesalend/loan-intake/internal"
	"github.com/pesalend/loan-intake/internal/gateway"
	"github.com/pesalend/loan-intake/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	service *Service
	logger  *slog.Logger
}

func NewHandler(baseHandler *transport.BaseHandler, service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		service:     service,
		logger:      logger,
	}
}

// Checkout handles POST /api/v1/payments/checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Checkout: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	resp, err := h.service.StartCheckout(r.Context(), &req)
	if err != nil {
		h.logger.Error("Checkout: service error",
			"error", err,
			"application_id", req.ApplicationID,
			"gateway", req.Gateway)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// Confirm handles POST /api/v1/payments/confirm — the client-side success
// signal. The service re-verifies with the provider before any state change.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Confirm: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	resp, err := h.service.ConfirmClientCallback(r.Context(), req.Gateway, gateway.ProviderReference(req.ProviderTransactionID))
	if err != nil {
		h.logger.Warn("Confirm: verification did not resolve payment",
			"error", err,
			"reference", req.Reference,
			"provider_transaction_id", req.ProviderTransactionID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, resp)
}

// Fee handles GET /api/v1/payments/fee?display_in=KES
func (h *Handler) Fee(w http.ResponseWriter, r *http.Request) {
	displayIn := r.URL.Query().Get("display_in")
	h.WriteJSON(w, http.StatusOK, h.service.Fee(r.Context(), displayIn))
}

// Gateways handles GET /api/v1/payments/gateways
func (h *Handler) Gateways(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"gateways": h.service.Gateways(),
	})
}

// ListForApplication handles GET /api/v1/applications/{applicationID}/payments
func (h *Handler) ListForApplication(w http.ResponseWriter, r *http.Request) {
	applicationID, err := strconv.ParseInt(chi.URLParam(r, "applicationID"), 10, 64)
	if err != nil {
		h.HandleError(w, errors.NewValidationError("invalid application ID", errors.ErrCodeValidationFailed))
		return
	}

	payments, err := h.service.PaymentsForApplication(applicationID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	completed, err := h.service.HasCompletedFeePayment(applicationID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"payments":      payments,
		"fee_completed": completed,
	})
}
