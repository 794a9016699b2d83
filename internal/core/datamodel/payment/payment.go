package payment

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// Purpose of a fee payment; the UI gates step progression on the existence
// of one completed record per application and purpose.
const (
	PurposeApplicationFee = "application_fee"
)

// Payment is one payment attempt. Reference is generated locally before any
// provider interaction; ProviderReference is issued by the provider and is
// the key reconciliation looks records up by. Records are never deleted,
// they are the audit trail.
type Payment struct {
	ID                int64           `gorm:"primaryKey"`
	ApplicationID     int64           `gorm:"column:application_id;not null;index"`
	Reference         string          `gorm:"column:reference;not null;uniqueIndex"`
	ProviderReference string          `gorm:"column:provider_reference;index"`
	GatewayName       string          `gorm:"column:gateway_name;not null"`
	Purpose           string          `gorm:"column:purpose;not null;default:application_fee"`
	Amount            decimal.Decimal `gorm:"column:amount;type:numeric(20,2);not null"`
	Currency          string          `gorm:"column:currency;not null"`
	OriginalAmount    decimal.Decimal `gorm:"column:original_amount;type:numeric(20,2)"`
	OriginalCurrency  string          `gorm:"column:original_currency"`
	ExchangeRate      decimal.Decimal `gorm:"column:exchange_rate;type:numeric(20,8)"`
	Status            string          `gorm:"column:status;not null;default:pending"`
	GatewayResponse   json.RawMessage `gorm:"column:gateway_response;type:jsonb"`
	FailureReason     *string         `gorm:"column:failure_reason"`
	PaidAt            *time.Time      `gorm:"column:paid_at"`
	CreatedAt         time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;default:now()"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) IsTerminal() bool {
	return IsTerminalStatus(p.Status)
}

func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// CanTransitionTo enforces the state machine: pending is the only state with
// outgoing transitions.
func (p *Payment) CanTransitionTo(status string) bool {
	return p.Status == StatusPending && IsTerminalStatus(status)
}
