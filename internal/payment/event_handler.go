package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pesalend/loan-intake/internal/core/events"
)

// ApplicationProgress is the workflow collaborator that unlocks the next
// intake step once the fee is paid. The application module lives outside
// this subsystem; only this interface is depended on.
type ApplicationProgress interface {
	MarkFeePaid(ctx context.Context, applicationID int64) error
}

type EventHandler struct {
	progress ApplicationProgress
	logger   *slog.Logger
}

func NewEventHandler(progress ApplicationProgress, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		progress: progress,
		logger:   logger,
	}
}

func (h *EventHandler) HandlePaymentCompleted(ctx context.Context, event events.Event) error {
	completed, ok := event.(*events.PaymentCompletedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment completed handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentCompletedEvent, got %T", event)
	}

	h.logger.Info("handling payment completed event",
		"application_id", completed.ApplicationID,
		"reference", completed.Reference,
		"event_id", completed.EventID())

	if err := h.progress.MarkFeePaid(ctx, completed.ApplicationID); err != nil {
		h.logger.Error("failed to advance application after fee payment",
			"error", err,
			"application_id", completed.ApplicationID,
			"event_id", completed.EventID())
		return fmt.Errorf("workflow progression failed for application %d: %w", completed.ApplicationID, err)
	}

	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePaymentCompleted, h.HandlePaymentCompleted)

	h.logger.Info("payment event handlers registered",
		"handlers", []string{events.EventTypePaymentCompleted})
}
