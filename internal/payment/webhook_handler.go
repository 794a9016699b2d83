package payment

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/pesalend/loan-intake/internal"
	"github.com/pesalend/loan-intake/internal/transport"
)

// signatureHeaders lists the headers providers deliver their webhook
// authentication in, tried in order.
var signatureHeaders = []string{
	"x-paystack-signature",
	"verif-hash",
	"X-Webhook-Signature",
}

type WebhookHandler struct {
	*transport.BaseHandler
	service *Service
	logger  *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, service *Service, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		service:     service,
		logger:      logger,
	}
}

// HandleProviderWebhook handles POST /api/v1/webhooks/{gateway}. Providers
// retry on non-2xx, so every routable delivery is acknowledged with 200 even
// when internal processing fails; failures are logged, never surfaced to the
// provider. Only an unknown gateway name gets a 404.
func (h *WebhookHandler) HandleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	gatewayName := chi.URLParam(r, "gateway")

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("webhook: failed to read payload",
			"error", err,
			"gateway", gatewayName)
		h.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	signature := extractSignature(r)

	err = h.service.ApplyWebhook(r.Context(), gatewayName, payload, signature)
	if err != nil {
		if appErr, ok := errors.IsAppError(err); ok && appErr.Code == errors.ErrCodeGatewayNotConfigured {
			h.HandleError(w, appErr)
			return
		}
		// Invalid signatures, unknown references and duplicate deliveries are
		// internal matters; the provider still gets its acknowledgment.
		h.logger.Warn("webhook: processing failed",
			"error", err,
			"gateway", gatewayName)
		h.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func extractSignature(r *http.Request) string {
	for _, header := range signatureHeaders {
		if v := r.Header.Get(header); v != "" {
			return v
		}
	}
	return ""
}
