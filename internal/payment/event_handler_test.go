package payment_test

import (
	"context"
	"errors"
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pesalend/loan-intake/internal/core/events"
	paymentPkg "github.com/pesalend/loan-intake/internal/payment"
)

type mockApplicationProgress struct {
	markedIDs []int64
	err       error
}

func (m *mockApplicationProgress) MarkFeePaid(ctx context.Context, applicationID int64) error {
	if m.err != nil {
		return m.err
	}
	m.markedIDs = append(m.markedIDs, applicationID)
	return nil
}

var _ = Describe("Payment Event Handler", func() {
	var (
		handler  *paymentPkg.EventHandler
		progress *mockApplicationProgress
		logger   *slog.Logger
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		progress = &mockApplicationProgress{}
		handler = paymentPkg.NewEventHandler(progress, logger)
	})

	Describe("HandlePaymentCompleted", func() {
		It("should advance the application workflow", func() {
			event := events.NewPaymentCompletedEvent(1, 42, "loan-ref", "prov-ref", "paystack", "300.00", "USD", "application_fee")

			err := handler.HandlePaymentCompleted(context.Background(), event)

			Expect(err).ToNot(HaveOccurred())
			Expect(progress.markedIDs).To(Equal([]int64{42}))
		})

		It("should surface workflow failures for the bus to log", func() {
			progress.err = errors.New("application not found")
			event := events.NewPaymentCompletedEvent(1, 42, "loan-ref", "prov-ref", "paystack", "300.00", "USD", "application_fee")

			err := handler.HandlePaymentCompleted(context.Background(), event)

			Expect(err).To(HaveOccurred())
		})

		It("should reject events of the wrong type", func() {
			event := events.NewPaymentFailedEvent(42, "loan-ref", "prov-ref", "paystack", "failed", "declined")

			err := handler.HandlePaymentCompleted(context.Background(), event)

			Expect(err).To(HaveOccurred())
			Expect(progress.markedIDs).To(BeEmpty())
		})
	})

	Describe("RegisterEventHandlers", func() {
		It("should wire the handler into the bus", func() {
			bus := events.NewEventBus(logger)
			handler.RegisterEventHandlers(bus)

			event := events.NewPaymentCompletedEvent(1, 42, "loan-ref", "prov-ref", "paystack", "300.00", "USD", "application_fee")
			Expect(bus.PublishSync(context.Background(), event)).To(Succeed())
			Expect(progress.markedIDs).To(Equal([]int64{42}))
		})
	})
})
