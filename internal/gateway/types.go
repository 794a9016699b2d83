package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the shared status vocabulary every adapter maps its provider's
// strings into. Unrecognized provider statuses must map to StatusPending so
// an unmapped status can never read as success.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether no further transition is permitted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// LocalReference is generated by the checkout flow before any provider
// interaction. ProviderReference is issued by the provider once it responds.
// They are distinct types so reconciliation code cannot query by the wrong one.
type LocalReference string

type ProviderReference string

func (r LocalReference) String() string    { return string(r) }
func (r ProviderReference) String() string { return string(r) }

// Customer carries the payer details providers require at initialization.
type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// InitializeParams is the uniform input for starting a payment with any
// provider. Amount is in major units of Currency; each adapter converts to
// its provider's expected encoding.
type InitializeParams struct {
	Amount      decimal.Decimal
	Currency    string
	Reference   LocalReference
	Customer    Customer
	CallbackURL string
	CancelURL   string
	Metadata    map[string]string
}

// InitializeResult is the uniform initialization outcome. Provider-side
// rejections come back as Success=false with a human-readable Message,
// never as a panic across the adapter boundary.
type InitializeResult struct {
	Success           bool
	ProviderReference ProviderReference
	RedirectURL       string
	AccessCode        string
	Message           string
}

// VerifyResult is the authoritative provider-side view of a payment, fetched
// fresh for every call. It is what the reconciliation logic trusts before a
// client-reported success may resolve a record.
type VerifyResult struct {
	Status            Status
	Amount            decimal.Decimal
	Currency          string
	ProviderReference ProviderReference
	Channel           string
	PaidAt            *time.Time
	RawPayload        json.RawMessage
}

// WebhookResult is the interpreted form of an inbound provider event.
// ShouldUpdateDatabase is true only for events carrying a terminal outcome;
// informational events produce no write.
type WebhookResult struct {
	Success              bool
	ProviderReference    ProviderReference
	Status               Status
	ShouldUpdateDatabase bool
	Event                string
	PaidAt               *time.Time
	RawPayload           json.RawMessage
}

// Gateway is the uniform contract each provider adapter implements. Adapters
// own authentication, amount encoding and status-vocabulary translation for
// exactly one provider.
type Gateway interface {
	Name() string
	InitializePayment(ctx context.Context, params InitializeParams) (*InitializeResult, error)
	VerifyPayment(ctx context.Context, providerRef ProviderReference) (*VerifyResult, error)
	HandleWebhook(payload []byte, signature string) (*WebhookResult, error)
}
