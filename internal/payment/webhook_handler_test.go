package payment_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/pesalend/loan-intake/internal/core/datamodel/payment"
	"github.com/pesalend/loan-intake/internal/currency"
	"github.com/pesalend/loan-intake/internal/gateway"
	paymentPkg "github.com/pesalend/loan-intake/internal/payment"
	"github.com/pesalend/loan-intake/internal/transport"
)

var _ = Describe("Webhook Handler", func() {
	var (
		router   *chi.Mux
		mockRepo *mockPaymentRepository
		fakeGw   *fakeGateway
		logger   *slog.Logger
	)

	post := func(path string, body []byte, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		if signature != "" {
			req.Header.Set("x-paystack-signature", signature)
		}
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		return recorder
	}

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		mockRepo = newMockPaymentRepository()

		fakeGw = &fakeGateway{name: "fakepay"}
		registry := gateway.NewRegistry("fakepay", logger)
		registry.Register(fakeGw)

		currencySvc := currency.NewService(currency.Config{
			APIURL:       "http://127.0.0.1:1",
			FetchTimeout: 50 * time.Millisecond,
		}, logger)

		service := paymentPkg.NewService(registry, mockRepo, currencySvc, nil, paymentPkg.Config{
			FeeAmount:   decimal.NewFromInt(300),
			FeeCurrency: "USD",
		}, logger)

		handler := paymentPkg.NewWebhookHandler(transport.NewBaseHandler(logger), service, logger)
		router = chi.NewRouter()
		router.Post("/api/v1/webhooks/{gateway}", handler.HandleProviderWebhook)

		record := &payment.Payment{
			ApplicationID: 42,
			Reference:     "loan-seeded",
			GatewayName:   "fakepay",
			Purpose:       payment.PurposeApplicationFee,
			Amount:        decimal.NewFromInt(300),
			Currency:      "USD",
			Status:        payment.StatusPending,
		}
		Expect(mockRepo.Create(record)).To(Succeed())
		record.ProviderReference = "prov-ref-1"
	})

	Context("when the delivery carries a verified terminal outcome", func() {
		BeforeEach(func() {
			fakeGw.webhookResult = &gateway.WebhookResult{
				Success:              true,
				ProviderReference:    "prov-ref-1",
				Status:               gateway.StatusCompleted,
				ShouldUpdateDatabase: true,
				Event:                "charge.success",
			}
		})

		It("should acknowledge with 200 and resolve the record", func() {
			recorder := post("/api/v1/webhooks/fakepay", []byte(`{"event":"charge.success"}`), "sig")

			Expect(recorder.Code).To(Equal(http.StatusOK))
			var body map[string]string
			Expect(json.Unmarshal(recorder.Body.Bytes(), &body)).To(Succeed())
			Expect(body["status"]).To(Equal("ok"))

			record, err := mockRepo.GetByProviderReference("prov-ref-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Status).To(Equal(payment.StatusCompleted))
		})
	})

	Context("when the signature does not verify", func() {
		It("should still return 200 so the provider stops retrying, without any write", func() {
			fakeGw.webhookResult = &gateway.WebhookResult{Success: false}

			recorder := post("/api/v1/webhooks/fakepay", []byte(`{"event":"charge.success"}`), "bad-sig")

			Expect(recorder.Code).To(Equal(http.StatusOK))
			var body map[string]string
			Expect(json.Unmarshal(recorder.Body.Bytes(), &body)).To(Succeed())
			Expect(body["status"]).To(Equal("ignored"))

			record, err := mockRepo.GetByProviderReference("prov-ref-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(record.Status).To(Equal(payment.StatusPending))
		})
	})

	Context("when no record matches the provider reference", func() {
		It("should acknowledge and drop the delivery", func() {
			fakeGw.webhookResult = &gateway.WebhookResult{
				Success:              true,
				ProviderReference:    "prov-unknown",
				Status:               gateway.StatusCompleted,
				ShouldUpdateDatabase: true,
				Event:                "charge.success",
			}

			recorder := post("/api/v1/webhooks/fakepay", []byte(`{"event":"charge.success"}`), "sig")

			Expect(recorder.Code).To(Equal(http.StatusOK))
		})
	})

	Context("when the gateway name is not registered", func() {
		It("should return 404 as the only non-2xx outcome", func() {
			recorder := post("/api/v1/webhooks/nonexistent", []byte(`{}`), "sig")

			Expect(recorder.Code).To(Equal(http.StatusNotFound))
		})
	})

	Context("when a duplicate delivery arrives", func() {
		It("should acknowledge both without a second transition", func() {
			fakeGw.webhookResult = &gateway.WebhookResult{
				Success:              true,
				ProviderReference:    "prov-ref-1",
				Status:               gateway.StatusCompleted,
				ShouldUpdateDatabase: true,
				Event:                "charge.success",
			}

			first := post("/api/v1/webhooks/fakepay", []byte(`{"event":"charge.success"}`), "sig")
			second := post("/api/v1/webhooks/fakepay", []byte(`{"event":"charge.success"}`), "sig")

			Expect(first.Code).To(Equal(http.StatusOK))
			Expect(second.Code).To(Equal(http.StatusOK))
			record, _ := mockRepo.GetByProviderReference("prov-ref-1")
			Expect(record.Status).To(Equal(payment.StatusCompleted))
		})
	})
})
