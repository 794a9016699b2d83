// Package flutterwave adapts the Flutterwave v3 hosted-payment gateway to the
// uniform payment contract. Flutterwave takes amounts in major units, hands
// back a hosted payment link for the offsite flow, and authenticates webhooks
// with a shared verif-hash header rather than a payload signature.
package flutterwave

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesalend/loan-intake/internal/gateway"
)

const Name = "flutterwave"

const defaultTimeout = 10 * time.Second

// statusMap translates Flutterwave's transaction statuses. Unknown statuses
// fall through to pending.
var statusMap = map[string]gateway.Status{
	"successful": gateway.StatusCompleted,
	"failed":     gateway.StatusFailed,
	"cancelled":  gateway.StatusCancelled,
	"expired":    gateway.StatusExpired,
	"pending":    gateway.StatusPending,
}

func mapStatus(providerStatus string) gateway.Status {
	if s, ok := statusMap[providerStatus]; ok {
		return s
	}
	return gateway.StatusPending
}

type Config struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	CallbackURL   string
	Timeout       time.Duration
}

type Adapter struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	callbackURL   string
	client        *http.Client
	logger        *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Adapter{
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       cfg.BaseURL,
		callbackURL:   cfg.CallbackURL,
		client:        &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

func (a *Adapter) Name() string { return Name }

type paymentRequest struct {
	TxRef       string            `json:"tx_ref"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Customer    customerPayload   `json:"customer"`
	Meta        map[string]string `json:"meta,omitempty"`
}

type customerPayload struct {
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phonenumber,omitempty"`
}

type paymentResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Link string `json:"link"`
	} `json:"data"`
}

func (a *Adapter) InitializePayment(ctx context.Context, params gateway.InitializeParams) (*gateway.InitializeResult, error) {
	redirectURL := params.CallbackURL
	if redirectURL == "" {
		redirectURL = a.callbackURL
	}

	reqBody := paymentRequest{
		TxRef:       params.Reference.String(),
		Amount:      params.Amount.StringFixed(2),
		Currency:    params.Currency,
		RedirectURL: redirectURL,
		Customer: customerPayload{
			Email:       params.Customer.Email,
			Name:        params.Customer.Name,
			PhoneNumber: params.Customer.Phone,
		},
		Meta: params.Metadata,
	}

	var resp paymentResponse
	_, statusCode, err := a.doJSON(ctx, http.MethodPost, "/payments", reqBody, &resp)
	if err != nil {
		a.logger.Error("flutterwave: initialization request failed",
			"error", err,
			"reference", params.Reference)
		return nil, fmt.Errorf("flutterwave initialize: %w", err)
	}

	if statusCode != http.StatusOK || resp.Status != "success" {
		a.logger.Warn("flutterwave: initialization rejected",
			"status_code", statusCode,
			"message", resp.Message,
			"reference", params.Reference)
		return &gateway.InitializeResult{
			Success: false,
			Message: resp.Message,
		}, nil
	}

	// Flutterwave keys its verify-by-reference endpoint on the tx_ref it was
	// given, so that is the reference reconciliation must use.
	return &gateway.InitializeResult{
		Success:           true,
		ProviderReference: gateway.ProviderReference(params.Reference),
		RedirectURL:       resp.Data.Link,
		Message:           resp.Message,
	}, nil
}

type verifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID          int64   `json:"id"`
		TxRef       string  `json:"tx_ref"`
		FlwRef      string  `json:"flw_ref"`
		Status      string  `json:"status"`
		Amount      float64 `json:"amount"`
		Currency    string  `json:"currency"`
		PaymentType string  `json:"payment_type"`
		CreatedAt   string  `json:"created_at"`
	} `json:"data"`
}

func (a *Adapter) VerifyPayment(ctx context.Context, providerRef gateway.ProviderReference) (*gateway.VerifyResult, error) {
	path := "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(providerRef.String())

	var resp verifyResponse
	raw, statusCode, err := a.doJSON(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		a.logger.Error("flutterwave: verification request failed",
			"error", err,
			"provider_reference", providerRef)
		return nil, fmt.Errorf("flutterwave verify: %w", err)
	}

	if statusCode != http.StatusOK || resp.Status != "success" {
		return nil, fmt.Errorf("flutterwave verify: provider returned %d: %s", statusCode, resp.Message)
	}

	result := &gateway.VerifyResult{
		Status:            mapStatus(resp.Data.Status),
		Amount:            decimal.NewFromFloat(resp.Data.Amount),
		Currency:          resp.Data.Currency,
		ProviderReference: gateway.ProviderReference(resp.Data.TxRef),
		Channel:           resp.Data.PaymentType,
		RawPayload:        raw,
	}
	if t, err := time.Parse(time.RFC3339, resp.Data.CreatedAt); err == nil {
		result.PaidAt = &t
	}
	return result, nil
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID        int64   `json:"id"`
		TxRef     string  `json:"tx_ref"`
		FlwRef    string  `json:"flw_ref"`
		Status    string  `json:"status"`
		Amount    float64 `json:"amount"`
		Currency  string  `json:"currency"`
		CreatedAt string  `json:"created_at"`
	} `json:"data"`
}

// HandleWebhook authenticates the delivery by comparing the verif-hash header
// against the configured webhook secret in constant time. Flutterwave does
// not sign the payload itself.
func (a *Adapter) HandleWebhook(payload []byte, signature string) (*gateway.WebhookResult, error) {
	if a.webhookSecret == "" || subtle.ConstantTimeCompare([]byte(signature), []byte(a.webhookSecret)) != 1 {
		a.logger.Warn("flutterwave: webhook verif-hash mismatch")
		return &gateway.WebhookResult{
			Success:              false,
			ShouldUpdateDatabase: false,
		}, nil
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("flutterwave webhook: malformed payload: %w", err)
	}

	result := &gateway.WebhookResult{
		Success:           true,
		ProviderReference: gateway.ProviderReference(event.Data.TxRef),
		Event:             event.Event,
		Status:            mapStatus(event.Data.Status),
		RawPayload:        json.RawMessage(payload),
	}
	// Flutterwave stamps the charge with created_at; keep it for audit.
	if t, err := time.Parse(time.RFC3339, event.Data.CreatedAt); err == nil {
		result.PaidAt = &t
	}

	// Only charge completions carry a terminal outcome worth persisting;
	// transfer and other informational events never write.
	result.ShouldUpdateDatabase = event.Event == "charge.completed" && result.Status.IsTerminal()

	return result, nil
}

func (a *Adapter) doJSON(ctx context.Context, method, path string, body, out interface{}) (json.RawMessage, int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return respBody, resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return respBody, resp.StatusCode, nil
}
