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

var _ = Describe("Payment Handler", func() {
	var (
		router   *chi.Mux
		mockRepo *mockPaymentRepository
		fakeGw   *fakeGateway
		logger   *slog.Logger
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		mockRepo = newMockPaymentRepository()

		fakeGw = &fakeGateway{
			name: "fakepay",
			initResult: &gateway.InitializeResult{
				Success:           true,
				ProviderReference: "prov-ref-1",
				RedirectURL:       "https://fakepay.example.com/pay/1",
			},
		}
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

		handler := paymentPkg.NewHandler(transport.NewBaseHandler(logger), service, logger)
		router = chi.NewRouter()
		router.Post("/api/v1/payments/checkout", handler.Checkout)
		router.Post("/api/v1/payments/confirm", handler.Confirm)
		router.Get("/api/v1/payments/fee", handler.Fee)
		router.Get("/api/v1/payments/gateways", handler.Gateways)
		router.Get("/api/v1/applications/{applicationID}/payments", handler.ListForApplication)
	})

	Describe("POST /payments/checkout", func() {
		checkoutBody := func() []byte {
			body, err := json.Marshal(map[string]interface{}{
				"application_id": 42,
				"amount":         "300",
				"currency":       "USD",
				"customer": map[string]string{
					"email": "applicant@example.com",
					"name":  "Test Applicant",
				},
			})
			Expect(err).ToNot(HaveOccurred())
			return body
		}

		Context("when the request is valid", func() {
			It("should return the checkout hand-off", func() {
				req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout", bytes.NewReader(checkoutBody()))
				recorder := httptest.NewRecorder()
				router.ServeHTTP(recorder, req)

				Expect(recorder.Code).To(Equal(http.StatusOK))
				var resp paymentPkg.CheckoutResponse
				Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(Succeed())
				Expect(resp.Success).To(BeTrue())
				Expect(resp.Reference).To(HavePrefix("loan-"))
				Expect(resp.RedirectURL).To(Equal("https://fakepay.example.com/pay/1"))
			})
		})

		Context("when the body is not JSON", func() {
			It("should return 400", func() {
				req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout", bytes.NewReader([]byte("not json")))
				recorder := httptest.NewRecorder()
				router.ServeHTTP(recorder, req)

				Expect(recorder.Code).To(Equal(http.StatusBadRequest))
			})
		})

		Context("when validation fails", func() {
			It("should return 400 with field details", func() {
				body, _ := json.Marshal(map[string]interface{}{
					"application_id": 42,
					"amount":         "300",
					"currency":       "USD",
					"customer":       map[string]string{"email": ""},
				})
				req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout", bytes.NewReader(body))
				recorder := httptest.NewRecorder()
				router.ServeHTTP(recorder, req)

				Expect(recorder.Code).To(Equal(http.StatusBadRequest))
			})
		})

		Context("when the provider is down", func() {
			It("should return 502", func() {
				fakeGw.initResult = &gateway.InitializeResult{Success: false, Message: "maintenance"}

				req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout", bytes.NewReader(checkoutBody()))
				recorder := httptest.NewRecorder()
				router.ServeHTTP(recorder, req)

				Expect(recorder.Code).To(Equal(http.StatusBadGateway))
			})
		})
	})

	Describe("POST /payments/confirm", func() {
		BeforeEach(func() {
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

		confirmBody := func() []byte {
			body, _ := json.Marshal(map[string]string{
				"gateway":                 "fakepay",
				"reference":               "loan-seeded",
				"provider_transaction_id": "prov-ref-1",
			})
			return body
		}

		Context("when the provider verifies completion", func() {
			It("should return the terminal status", func() {
				paidAt := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
				fakeGw.verifyResult = &gateway.VerifyResult{
					Status:            gateway.StatusCompleted,
					ProviderReference: "prov-ref-1",
					PaidAt:            &paidAt,
				}

				req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/confirm", bytes.NewReader(confirmBody()))
				recorder := httptest.NewRecorder()
				router.ServeHTTP(recorder, req)

				Expect(recorder.Code).To(Equal(http.StatusOK))
				var resp paymentPkg.ConfirmResponse
				Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(Succeed())
				Expect(resp.Status).To(Equal(payment.StatusCompleted))
			})
		})

		Context("when the provider still reports pending", func() {
			It("should return 409", func() {
				fakeGw.verifyResult = &gateway.VerifyResult{
					Status:            gateway.StatusPending,
					ProviderReference: "prov-ref-1",
				}

				req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/confirm", bytes.NewReader(confirmBody()))
				recorder := httptest.NewRecorder()
				router.ServeHTTP(recorder, req)

				Expect(recorder.Code).To(Equal(http.StatusConflict))
			})
		})

		Context("when required fields are missing", func() {
			It("should return 400", func() {
				body, _ := json.Marshal(map[string]string{"gateway": "fakepay"})
				req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/confirm", bytes.NewReader(body))
				recorder := httptest.NewRecorder()
				router.ServeHTTP(recorder, req)

				Expect(recorder.Code).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("GET /payments/fee", func() {
		It("should return the configured fee", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/fee", nil)
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			var resp paymentPkg.FeeResponse
			Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Amount).To(Equal("300.00"))
			Expect(resp.Currency).To(Equal("USD"))
		})

		It("should convert for display when display_in is given", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/fee?display_in=KES", nil)
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			var resp paymentPkg.FeeResponse
			Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.ConvertedIn).To(Equal("KES"))
			Expect(resp.ConvertedAmount).To(Equal("45000.00"))
		})
	})

	Describe("GET /payments/gateways", func() {
		It("should list the configured providers", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/gateways", nil)
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			var resp map[string][]string
			Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["gateways"]).To(Equal([]string{"fakepay"}))
		})
	})

	Describe("GET /applications/{applicationID}/payments", func() {
		It("should return the payment history with the fee gate", func() {
			record := &payment.Payment{
				ApplicationID: 42,
				Reference:     "loan-history-1",
				GatewayName:   "fakepay",
				Purpose:       payment.PurposeApplicationFee,
				Amount:        decimal.NewFromInt(300),
				Currency:      "USD",
				Status:        payment.StatusCompleted,
			}
			Expect(mockRepo.Create(record)).To(Succeed())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/applications/42/payments", nil)
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			var resp struct {
				Payments     []paymentPkg.PaymentView `json:"payments"`
				FeeCompleted bool                     `json:"fee_completed"`
			}
			Expect(json.Unmarshal(recorder.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Payments).To(HaveLen(1))
			Expect(resp.Payments[0].Reference).To(Equal("loan-history-1"))
			Expect(resp.FeeCompleted).To(BeTrue())
		})

		It("should reject a non-numeric application ID", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/applications/not-a-number/payments", nil)
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
