// Package paystack adapts the Paystack card gateway to the uniform payment
// contract. Paystack expects amounts in minor units (kobo/cents), keys its
// verify endpoint by the merchant reference it echoes back at initialization,
// and signs webhooks with HMAC-SHA512 over the raw body.
package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesalend/loan-intake/internal/gateway"
)

const Name = "paystack"

const defaultTimeout = 10 * time.Second

// statusMap is the exhaustive translation from Paystack's transaction status
// vocabulary. Anything not listed maps to pending so an unknown status can
// never read as success.
var statusMap = map[string]gateway.Status{
	"success":    gateway.StatusCompleted,
	"failed":     gateway.StatusFailed,
	"abandoned":  gateway.StatusCancelled,
	"reversed":   gateway.StatusFailed,
	"ongoing":    gateway.StatusPending,
	"pending":    gateway.StatusPending,
	"queued":     gateway.StatusPending,
	"processing": gateway.StatusPending,
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
	webhookSecret := cfg.WebhookSecret
	if webhookSecret == "" {
		// Paystack signs webhooks with the account secret key.
		webhookSecret = cfg.SecretKey
	}
	return &Adapter{
		secretKey:     cfg.SecretKey,
		webhookSecret: webhookSecret,
		baseURL:       cfg.BaseURL,
		callbackURL:   cfg.CallbackURL,
		client:        &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

func (a *Adapter) Name() string { return Name }

type initializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

func (a *Adapter) InitializePayment(ctx context.Context, params gateway.InitializeParams) (*gateway.InitializeResult, error) {
	callbackURL := params.CallbackURL
	if callbackURL == "" {
		callbackURL = a.callbackURL
	}

	reqBody := initializeRequest{
		Email:       params.Customer.Email,
		Amount:      toMinorUnits(params.Amount),
		Currency:    params.Currency,
		Reference:   params.Reference.String(),
		CallbackURL: callbackURL,
		Metadata:    params.Metadata,
	}

	var resp initializeResponse
	statusCode, err := a.doJSON(ctx, http.MethodPost, "/transaction/initialize", reqBody, &resp)
	if err != nil {
		a.logger.Error("paystack: initialization request failed",
			"error", err,
			"reference", params.Reference)
		return nil, fmt.Errorf("paystack initialize: %w", err)
	}

	if statusCode != http.StatusOK || !resp.Status {
		a.logger.Warn("paystack: initialization rejected",
			"status_code", statusCode,
			"message", resp.Message,
			"reference", params.Reference)
		return &gateway.InitializeResult{
			Success: false,
			Message: resp.Message,
		}, nil
	}

	return &gateway.InitializeResult{
		Success:           true,
		ProviderReference: gateway.ProviderReference(resp.Data.Reference),
		RedirectURL:       resp.Data.AuthorizationURL,
		AccessCode:        resp.Data.AccessCode,
		Message:           resp.Message,
	}, nil
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID        int64  `json:"id"`
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Channel   string `json:"channel"`
		PaidAt    string `json:"paid_at"`
	} `json:"data"`
}

// VerifyPayment re-fetches the transaction directly from Paystack. This is
// the authoritative check performed before a client-reported success is
// trusted.
func (a *Adapter) VerifyPayment(ctx context.Context, providerRef gateway.ProviderReference) (*gateway.VerifyResult, error) {
	var resp verifyResponse
	raw, statusCode, err := a.doJSONRaw(ctx, http.MethodGet, "/transaction/verify/"+providerRef.String(), nil, &resp)
	if err != nil {
		a.logger.Error("paystack: verification request failed",
			"error", err,
			"provider_reference", providerRef)
		return nil, fmt.Errorf("paystack verify: %w", err)
	}

	if statusCode != http.StatusOK || !resp.Status {
		return nil, fmt.Errorf("paystack verify: provider returned %d: %s", statusCode, resp.Message)
	}

	result := &gateway.VerifyResult{
		Status:            mapStatus(resp.Data.Status),
		Amount:            fromMinorUnits(resp.Data.Amount),
		Currency:          resp.Data.Currency,
		ProviderReference: gateway.ProviderReference(resp.Data.Reference),
		Channel:           resp.Data.Channel,
		RawPayload:        raw,
	}
	if t, err := time.Parse(time.RFC3339, resp.Data.PaidAt); err == nil {
		result.PaidAt = &t
	}
	return result, nil
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID        int64  `json:"id"`
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		PaidAt    string `json:"paid_at"`
	} `json:"data"`
}

// HandleWebhook verifies the HMAC-SHA512 signature before anything in the
// payload is trusted. Only charge events carrying a terminal outcome ask the
// reconciliation logic to write.
func (a *Adapter) HandleWebhook(payload []byte, signature string) (*gateway.WebhookResult, error) {
	if !a.validSignature(payload, signature) {
		a.logger.Warn("paystack: webhook signature mismatch")
		return &gateway.WebhookResult{
			Success:              false,
			ShouldUpdateDatabase: false,
		}, nil
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("paystack webhook: malformed payload: %w", err)
	}

	result := &gateway.WebhookResult{
		Success:           true,
		ProviderReference: gateway.ProviderReference(event.Data.Reference),
		Event:             event.Event,
		RawPayload:        json.RawMessage(payload),
	}
	// Prefer the provider-reported payment time over our own clock.
	if t, err := time.Parse(time.RFC3339, event.Data.PaidAt); err == nil {
		result.PaidAt = &t
	}

	switch event.Event {
	case "charge.success":
		result.Status = gateway.StatusCompleted
		result.ShouldUpdateDatabase = true
	case "charge.failed":
		result.Status = gateway.StatusFailed
		result.ShouldUpdateDatabase = true
	default:
		// Informational events (transfer.*, invoice.*, customeridentification.*)
		// carry no terminal outcome for a fee payment.
		result.Status = mapStatus(event.Data.Status)
		result.ShouldUpdateDatabase = false
	}

	return result, nil
}

func (a *Adapter) validSignature(payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(a.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (a *Adapter) doJSON(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	_, code, err := a.doJSONRaw(ctx, method, path, body, out)
	return code, err
}

func (a *Adapter) doJSONRaw(ctx context.Context, method, path string, body, out interface{}) (json.RawMessage, int, error) {
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

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Shift(-2)
}
