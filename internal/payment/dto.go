package payment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesalend/loan-intake/internal/core/common/validation"
	"github.com/pesalend/loan-intake/internal/core/datamodel/payment"
)

// CheckoutRequest is the inbound contract from the application layer for
// initiating a fee payment.
type CheckoutRequest struct {
	ApplicationID int64             `json:"application_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	ChargeIn      string            `json:"charge_in,omitempty"`
	Gateway       string            `json:"gateway,omitempty"`
	Customer      CustomerPayload   `json:"customer"`
	CallbackURL   string            `json:"callback_url,omitempty"`
	CancelURL     string            `json:"cancel_url,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type CustomerPayload struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

func (r *CheckoutRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("application_id", r.ApplicationID).Required()
	validator.Field("amount", r.Amount).Required().PositiveAmount()
	validator.Field("currency", r.Currency).Required().CurrencyCode()
	validator.Field("charge_in", r.ChargeIn).CurrencyCode()
	validator.Field("customer.email", r.Customer.Email).Required().Email()
	validator.Field("customer.name", r.Customer.Name).MaxLength(200)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// CheckoutResponse carries what the checkout screen needs to hand the payer
// to the provider. Reference is the locally generated one; the provider's own
// reference is persisted but not exposed to the browser.
type CheckoutResponse struct {
	Success     bool   `json:"success"`
	Reference   string `json:"reference"`
	Gateway     string `json:"gateway"`
	RedirectURL string `json:"redirect_url,omitempty"`
	AccessCode  string `json:"access_code,omitempty"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Display     string `json:"display"`
}

// ConfirmRequest is the client-side success signal. It is never trusted
// directly; the service re-verifies with the provider before any write.
type ConfirmRequest struct {
	Gateway               string `json:"gateway,omitempty"`
	Reference             string `json:"reference"`
	ProviderTransactionID string `json:"provider_transaction_id"`
}

func (r *ConfirmRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("reference", r.Reference).Required()
	validator.Field("provider_transaction_id", r.ProviderTransactionID).Required()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type ConfirmResponse struct {
	Status string     `json:"status"`
	PaidAt *time.Time `json:"paid_at,omitempty"`
}

// FeeResponse is the dual-currency fee display for the checkout screen.
type FeeResponse struct {
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	Display          string `json:"display"`
	ConvertedAmount  string `json:"converted_amount,omitempty"`
	ConvertedDisplay string `json:"converted_display,omitempty"`
	ConvertedIn      string `json:"converted_in,omitempty"`
	Rate             string `json:"rate,omitempty"`
}

// PaymentView is the read model returned to the admin console and the
// application layer. Raw gateway payloads and internal identifiers stay out.
type PaymentView struct {
	Reference   string     `json:"reference"`
	GatewayName string     `json:"gateway"`
	Purpose     string     `json:"purpose"`
	Amount      string     `json:"amount"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func NewPaymentView(p *payment.Payment) PaymentView {
	return PaymentView{
		Reference:   p.Reference,
		GatewayName: p.GatewayName,
		Purpose:     p.Purpose,
		Amount:      p.Amount.StringFixed(2),
		Currency:    p.Currency,
		Status:      p.Status,
		PaidAt:      p.PaidAt,
		CreatedAt:   p.CreatedAt,
	}
}
