package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	errors "github.com/pesalend/loan-intake/internal"
	"github.com/pesalend/loan-intake/internal/core/datamodel/payment"
	"github.com/pesalend/loan-intake/internal/core/events"
	"github.com/pesalend/loan-intake/internal/currency"
	"github.com/pesalend/loan-intake/internal/gateway"
)

// RepositoryAPI is the persistence boundary the payment core depends on.
// ResolveByProviderReference must be conditional on the record still being
// pending (compare-and-swap on status) so racing terminal signals cannot
// both win.
type RepositoryAPI interface {
	Create(p *payment.Payment) error
	GetByReference(ref gateway.LocalReference) (*payment.Payment, error)
	GetByProviderReference(providerRef gateway.ProviderReference) (*payment.Payment, error)
	GetByApplicationID(applicationID int64) ([]*payment.Payment, error)
	AttachProviderReference(ref gateway.LocalReference, providerRef gateway.ProviderReference) error
	MarkInitializationFailed(ref gateway.LocalReference, reason string) error
	ResolveByProviderReference(providerRef gateway.ProviderReference, status string, paidAt *time.Time, gatewayResponse json.RawMessage, failureReason *string) (bool, error)
	HasCompletedPayment(applicationID int64, purpose string) (bool, error)
	ExpireStale(olderThan time.Time) (int64, error)
}

type Config struct {
	FeeAmount   decimal.Decimal
	FeeCurrency string
}

// Service owns the payment-record lifecycle: it creates pending records ahead
// of any provider hand-off and is the only code that transitions them to a
// terminal state.
type Service struct {
	registry *gateway.Registry
	repo     RepositoryAPI
	currency *currency.Service
	eventBus *events.EventBus
	cfg      Config
	logger   *slog.Logger
}

func NewService(registry *gateway.Registry, repo RepositoryAPI, currencySvc *currency.Service, eventBus *events.EventBus, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		registry: registry,
		repo:     repo,
		currency: currencySvc,
		eventBus: eventBus,
		cfg:      cfg,
		logger:   logger,
	}
}

func newLocalReference() gateway.LocalReference {
	return gateway.LocalReference("loan-" + uuid.New().String())
}

// StartCheckout creates the pending record and initializes the payment with
// the chosen provider. The record is written before the provider is
// contacted; if that write fails, checkout does not proceed so no payment can
// exist without a local audit record. Failed initializations return a
// retryable error and the next attempt uses a fresh reference.
func (s *Service) StartCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	gw, err := s.registry.Get(req.Gateway)
	if err != nil {
		return nil, err
	}

	chargeAmount := req.Amount
	chargeCurrency := req.Currency
	rate := decimal.NewFromInt(1)
	if req.ChargeIn != "" && req.ChargeIn != req.Currency {
		conv := s.currency.Convert(ctx, req.Amount, req.Currency, req.ChargeIn)
		if conv.Amount.IsPositive() {
			chargeAmount = conv.Amount
			chargeCurrency = req.ChargeIn
			rate = conv.Rate
		} else {
			s.logger.Warn("checkout: conversion unavailable, charging in original currency",
				"from", req.Currency,
				"to", req.ChargeIn,
				"application_id", req.ApplicationID)
		}
	}

	reference := newLocalReference()

	record := &payment.Payment{
		ApplicationID:    req.ApplicationID,
		Reference:        reference.String(),
		GatewayName:      gw.Name(),
		Purpose:          payment.PurposeApplicationFee,
		Amount:           chargeAmount,
		Currency:         chargeCurrency,
		OriginalAmount:   req.Amount,
		OriginalCurrency: req.Currency,
		ExchangeRate:     rate,
		Status:           payment.StatusPending,
	}

	if err := s.repo.Create(record); err != nil {
		s.logger.Error("checkout: failed to create payment record",
			"error", err,
			"application_id", req.ApplicationID)
		return nil, errors.NewInternalError("could not start checkout", err)
	}

	s.logger.Info("checkout: pending payment record created",
		"payment_id", record.ID,
		"application_id", req.ApplicationID,
		"reference", reference,
		"gateway", gw.Name(),
		"amount", chargeAmount,
		"currency", chargeCurrency)

	result, err := gw.InitializePayment(ctx, gateway.InitializeParams{
		Amount:    chargeAmount,
		Currency:  chargeCurrency,
		Reference: reference,
		Customer: gateway.Customer{
			Email: req.Customer.Email,
			Name:  req.Customer.Name,
			Phone: req.Customer.Phone,
		},
		CallbackURL: req.CallbackURL,
		CancelURL:   req.CancelURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		s.failInitialization(reference, err.Error())
		return nil, errors.ErrGatewayUnavailable
	}
	if !result.Success {
		s.failInitialization(reference, result.Message)
		return nil, errors.ErrGatewayUnavailable
	}

	if err := s.repo.AttachProviderReference(reference, result.ProviderReference); err != nil {
		// The provider now knows about this payment; keep going so the
		// webhook can still reconcile by provider reference.
		s.logger.Error("checkout: failed to attach provider reference",
			"error", err,
			"reference", reference,
			"provider_reference", result.ProviderReference)
	}

	return &CheckoutResponse{
		Success:     true,
		Reference:   reference.String(),
		Gateway:     gw.Name(),
		RedirectURL: result.RedirectURL,
		AccessCode:  result.AccessCode,
		Amount:      chargeAmount.StringFixed(2),
		Currency:    chargeCurrency,
		Display:     s.currency.Format(chargeAmount, chargeCurrency),
	}, nil
}

func (s *Service) failInitialization(reference gateway.LocalReference, reason string) {
	s.logger.Warn("checkout: payment initialization failed",
		"reference", reference,
		"reason", reason)
	if err := s.repo.MarkInitializationFailed(reference, reason); err != nil {
		s.logger.Error("checkout: failed to mark record failed",
			"error", err,
			"reference", reference)
	}
}

// ConfirmClientCallback handles the browser-reported success signal. The
// client is not trusted: the status is re-fetched from the provider and only
// a verified terminal result may resolve the record.
func (s *Service) ConfirmClientCallback(ctx context.Context, gatewayName string, providerRef gateway.ProviderReference) (*ConfirmResponse, error) {
	verified, err := s.registry.VerifyPayment(ctx, gatewayName, providerRef)
	if err != nil {
		if appErr, ok := errors.IsAppError(err); ok {
			return nil, appErr
		}
		s.logger.Error("confirm: provider verification failed",
			"error", err,
			"gateway", gatewayName,
			"provider_reference", providerRef)
		return nil, errors.ErrGatewayUnavailable
	}

	if !verified.Status.IsTerminal() {
		s.logger.Info("confirm: provider reports non-terminal status, leaving record pending",
			"gateway", gatewayName,
			"provider_reference", providerRef,
			"status", verified.Status)
		return nil, errors.NewConflictError("payment is not yet confirmed by the provider", errors.ErrCodePaymentNotVerified)
	}

	paidAt := verified.PaidAt
	if verified.Status == gateway.StatusCompleted && paidAt == nil {
		now := time.Now().UTC()
		paidAt = &now
	}

	record, err := s.applyTerminal(providerRef, string(verified.Status), paidAt, verified.RawPayload, nil)
	if err != nil {
		return nil, err
	}

	return &ConfirmResponse{
		Status: record.Status,
		PaidAt: record.PaidAt,
	}, nil
}

// ApplyWebhook reconciles an inbound provider event. Signature verification
// happens inside the adapter; an unverified payload never reaches the
// database. Duplicate and racing deliveries are absorbed by the
// compare-and-swap in the repository.
func (s *Service) ApplyWebhook(ctx context.Context, gatewayName string, payload []byte, signature string) error {
	result, err := s.registry.HandleWebhook(gatewayName, payload, signature)
	if err != nil {
		if appErr, ok := errors.IsAppError(err); ok {
			return appErr
		}
		return fmt.Errorf("webhook interpretation failed: %w", err)
	}

	if !result.Success {
		s.logger.Warn("webhook: signature verification failed, payload dropped",
			"gateway", gatewayName)
		return errors.ErrInvalidSignature
	}

	if !result.ShouldUpdateDatabase {
		s.logger.Debug("webhook: informational event, no write",
			"gateway", gatewayName,
			"event", result.Event,
			"provider_reference", result.ProviderReference)
		return nil
	}

	var paidAt *time.Time
	var failureReason *string
	if result.Status == gateway.StatusCompleted {
		// The provider-reported payment time is the audit truth; our clock is
		// only a fallback for payloads that omit it.
		paidAt = result.PaidAt
		if paidAt == nil {
			now := time.Now().UTC()
			paidAt = &now
		}
	} else {
		reason := fmt.Sprintf("provider reported %s via %s", result.Status, result.Event)
		failureReason = &reason
	}

	_, err = s.applyTerminal(result.ProviderReference, string(result.Status), paidAt, result.RawPayload, failureReason)
	return err
}

// applyTerminal attempts the single allowed transition out of pending. The
// first terminal write wins; anything after that is a benign no-op observed
// through the zero rows-affected of the conditional update.
func (s *Service) applyTerminal(providerRef gateway.ProviderReference, status string, paidAt *time.Time, raw json.RawMessage, failureReason *string) (*payment.Payment, error) {
	applied, err := s.repo.ResolveByProviderReference(providerRef, status, paidAt, raw, failureReason)
	if err != nil {
		s.logger.Error("reconciliation: status update failed",
			"error", err,
			"provider_reference", providerRef,
			"status", status)
		return nil, errors.NewInternalError("could not update payment record", err)
	}

	record, getErr := s.repo.GetByProviderReference(providerRef)
	if getErr != nil {
		// No matching record: out-of-band or malformed payload. Logged and
		// dropped rather than retried indefinitely.
		s.logger.Error("reconciliation: no payment record for provider reference",
			"provider_reference", providerRef,
			"status", status)
		return nil, errors.ErrPaymentNotFound
	}

	if !applied {
		s.logger.Info("reconciliation: record already resolved, duplicate signal absorbed",
			"provider_reference", providerRef,
			"current_status", record.Status,
			"requested_status", status)
		return record, nil
	}

	s.logger.Info("reconciliation: payment resolved",
		"payment_id", record.ID,
		"application_id", record.ApplicationID,
		"reference", record.Reference,
		"provider_reference", providerRef,
		"status", record.Status)

	s.publishTerminalEvent(record)
	return record, nil
}

func (s *Service) publishTerminalEvent(record *payment.Payment) {
	if s.eventBus == nil {
		return
	}
	ctx := context.Background()
	switch record.Status {
	case payment.StatusCompleted:
		event := events.NewPaymentCompletedEvent(
			record.ID,
			record.ApplicationID,
			record.Reference,
			record.ProviderReference,
			record.GatewayName,
			record.Amount.StringFixed(2),
			record.Currency,
			record.Purpose,
		)
		s.eventBus.Publish(ctx, event)
	case payment.StatusFailed, payment.StatusCancelled, payment.StatusExpired:
		reason := ""
		if record.FailureReason != nil {
			reason = *record.FailureReason
		}
		event := events.NewPaymentFailedEvent(
			record.ApplicationID,
			record.Reference,
			record.ProviderReference,
			record.GatewayName,
			record.Status,
			reason,
		)
		s.eventBus.Publish(ctx, event)
	}
}

// Fee returns the configured application fee with an optional dual-currency
// display. Conversion failures degrade to the base fee only.
func (s *Service) Fee(ctx context.Context, displayIn string) *FeeResponse {
	resp := &FeeResponse{
		Amount:   s.cfg.FeeAmount.StringFixed(2),
		Currency: s.cfg.FeeCurrency,
		Display:  s.currency.Format(s.cfg.FeeAmount, s.cfg.FeeCurrency),
	}

	if displayIn != "" && displayIn != s.cfg.FeeCurrency {
		conv := s.currency.Convert(ctx, s.cfg.FeeAmount, s.cfg.FeeCurrency, displayIn)
		if conv.Amount.IsPositive() {
			resp.ConvertedAmount = conv.Amount.StringFixed(2)
			resp.ConvertedDisplay = s.currency.Format(conv.Amount, displayIn)
			resp.ConvertedIn = displayIn
			resp.Rate = conv.Rate.String()
		}
	}

	return resp
}

// PaymentsForApplication lists an application's payment attempts for the
// admin console and workflow gating.
func (s *Service) PaymentsForApplication(applicationID int64) ([]PaymentView, error) {
	records, err := s.repo.GetByApplicationID(applicationID)
	if err != nil {
		return nil, errors.NewInternalError("could not list payments", err)
	}
	views := make([]PaymentView, 0, len(records))
	for _, record := range records {
		views = append(views, NewPaymentView(record))
	}
	return views, nil
}

// HasCompletedFeePayment is the workflow gate: exactly one completed record
// per application and purpose unlocks the next intake step.
func (s *Service) HasCompletedFeePayment(applicationID int64) (bool, error) {
	return s.repo.HasCompletedPayment(applicationID, payment.PurposeApplicationFee)
}

// ExpireStalePending sweeps pending records older than the retention window
// into the expired terminal state. Called by the sweep command, not by
// request handlers.
func (s *Service) ExpireStalePending(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	count, err := s.repo.ExpireStale(cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire stale pending payments: %w", err)
	}
	if count > 0 {
		s.logger.Info("expired stale pending payments",
			"count", count,
			"older_than", cutoff)
	}
	return count, nil
}

// Gateways exposes the registered provider names for the checkout screen.
func (s *Service) Gateways() []string {
	return s.registry.Names()
}
