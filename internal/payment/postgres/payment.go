package postgres

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/pesalend/loan-intake/internal/core/datamodel/payment"
	"github.com/pesalend/loan-intake/internal/gateway"
	paymentpkg "github.com/pesalend/loan-intake/internal/payment"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) paymentpkg.RepositoryAPI {
	return &PaymentRepository{
		db: db,
	}
}

func (r *PaymentRepository) Create(p *payment.Payment) error {
	return r.db.Create(p).Error
}

func (r *PaymentRepository) GetByReference(ref gateway.LocalReference) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.Where("reference = ?", ref.String()).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByProviderReference(providerRef gateway.ProviderReference) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.Where("provider_reference = ?", providerRef.String()).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByApplicationID(applicationID int64) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	err := r.db.Where("application_id = ?", applicationID).Order("created_at DESC").Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) AttachProviderReference(ref gateway.LocalReference, providerRef gateway.ProviderReference) error {
	return r.db.Model(&payment.Payment{}).
		Where("reference = ?", ref.String()).
		UpdateColumn("provider_reference", providerRef.String()).Error
}

// MarkInitializationFailed closes a record whose provider hand-off never
// succeeded. Conditional on pending like every other terminal write.
func (r *PaymentRepository) MarkInitializationFailed(ref gateway.LocalReference, reason string) error {
	return r.db.Model(&payment.Payment{}).
		Where("reference = ? AND status = ?", ref.String(), payment.StatusPending).
		Updates(map[string]interface{}{
			"status":         payment.StatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		}).Error
}

// ResolveByProviderReference performs the one allowed transition out of
// pending. The WHERE clause on status is the compare-and-swap that makes
// racing webhook and client-callback deliveries safe: the first terminal
// write wins and later ones report zero rows affected.
func (r *PaymentRepository) ResolveByProviderReference(providerRef gateway.ProviderReference, status string, paidAt *time.Time, gatewayResponse json.RawMessage, failureReason *string) (bool, error) {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if paidAt != nil {
		updates["paid_at"] = *paidAt
	}
	if gatewayResponse != nil {
		updates["gateway_response"] = gatewayResponse
	}
	if failureReason != nil {
		updates["failure_reason"] = *failureReason
	}

	result := r.db.Model(&payment.Payment{}).
		Where("provider_reference = ? AND status = ?", providerRef.String(), payment.StatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *PaymentRepository) HasCompletedPayment(applicationID int64, purpose string) (bool, error) {
	var count int64
	err := r.db.Model(&payment.Payment{}).
		Where("application_id = ? AND purpose = ? AND status = ?", applicationID, purpose, payment.StatusCompleted).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ExpireStale marks pending records created before the cutoff as expired.
// Used by the periodic sweep for payers who abandoned checkout without the
// provider ever reporting back.
func (r *PaymentRepository) ExpireStale(olderThan time.Time) (int64, error) {
	result := r.db.Model(&payment.Payment{}).
		Where("status = ? AND created_at < ?", payment.StatusPending, olderThan).
		Updates(map[string]interface{}{
			"status":     payment.StatusExpired,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}
