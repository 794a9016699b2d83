package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentCompleted = "payment.completed"
	EventTypePaymentFailed    = "payment.failed"
)

// PaymentCompletedEvent fires exactly once per payment, on the first terminal
// transition to completed. The application workflow layer subscribes to it to
// unlock the next intake step.
type PaymentCompletedEvent struct {
	BaseEvent
	PaymentID         int64  `json:"payment_id"`
	ApplicationID     int64  `json:"application_id"`
	Reference         string `json:"reference"`
	ProviderReference string `json:"provider_reference"`
	GatewayName       string `json:"gateway_name"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	Purpose           string `json:"purpose"`
}

func NewPaymentCompletedEvent(paymentID, applicationID int64, reference, providerReference, gatewayName, amount, currency, purpose string) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":         paymentID,
				"application_id":     applicationID,
				"reference":          reference,
				"provider_reference": providerReference,
				"gateway_name":       gatewayName,
				"amount":             amount,
				"currency":           currency,
				"purpose":            purpose,
			},
		},
		PaymentID:         paymentID,
		ApplicationID:     applicationID,
		Reference:         reference,
		ProviderReference: providerReference,
		GatewayName:       gatewayName,
		Amount:            amount,
		Currency:          currency,
		Purpose:           purpose,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	ApplicationID     int64  `json:"application_id"`
	Reference         string `json:"reference"`
	ProviderReference string `json:"provider_reference"`
	GatewayName       string `json:"gateway_name"`
	Status            string `json:"status"`
	FailureReason     string `json:"failure_reason,omitempty"`
}

func NewPaymentFailedEvent(applicationID int64, reference, providerReference, gatewayName, status, failureReason string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"application_id":     applicationID,
				"reference":          reference,
				"provider_reference": providerReference,
				"gateway_name":       gatewayName,
				"status":             status,
				"failure_reason":     failureReason,
			},
		},
		ApplicationID:     applicationID,
		Reference:         reference,
		ProviderReference: providerReference,
		GatewayName:       gatewayName,
		Status:            status,
		FailureReason:     failureReason,
	}
}
