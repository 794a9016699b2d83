package flutterwave_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/pesalend/loan-intake/internal/gateway"
	"github.com/pesalend/loan-intake/internal/gateway/flutterwave"
)

func TestFlutterwaveAdapter(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Flutterwave Adapter Suite")
}

var _ = Describe("Flutterwave Adapter", func() {
	var (
		adapter *flutterwave.Adapter
		server  *httptest.Server
		logger  *slog.Logger
	)

	const (
		secretKey     = "FLWSECK_TEST-secret"
		webhookSecret = "verif-hash-secret"
	)

	newAdapter := func(baseURL string) *flutterwave.Adapter {
		return flutterwave.New(flutterwave.Config{
			SecretKey:     secretKey,
			WebhookSecret: webhookSecret,
			BaseURL:       baseURL,
			CallbackURL:   "https://app.example.com/checkout/complete",
		}, logger)
	}

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	})

	AfterEach(func() {
		if server != nil {
			server.Close()
			server = nil
		}
	})

	Describe("InitializePayment", func() {
		Context("when Flutterwave accepts the payment", func() {
			var captured struct {
				TxRef       string `json:"tx_ref"`
				Amount      string `json:"amount"`
				Currency    string `json:"currency"`
				RedirectURL string `json:"redirect_url"`
				Customer    struct {
					Email string `json:"email"`
				} `json:"customer"`
			}
			var authHeader string

			BeforeEach(func() {
				server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					authHeader = r.Header.Get("Authorization")
					Expect(r.URL.Path).To(Equal("/payments"))
					Expect(json.NewDecoder(r.Body).Decode(&captured)).To(Succeed())

					w.Header().Set("Content-Type", "application/json")
					json.NewEncoder(w).Encode(map[string]interface{}{
						"status":  "success",
						"message": "Hosted Link",
						"data": map[string]string{
							"link": "https://checkout.flutterwave.com/v3/hosted/pay/xyz",
						},
					})
				}))
				adapter = newAdapter(server.URL)
			})

			It("should send major units and return the hosted payment link", func() {
				result, err := adapter.InitializePayment(context.Background(), gateway.InitializeParams{
					Amount:    decimal.RequireFromString("45000.00"),
					Currency:  "KES",
					Reference: "loan-ref-1",
					Customer:  gateway.Customer{Email: "applicant@example.com"},
				})

				Expect(err).ToNot(HaveOccurred())
				Expect(result.Success).To(BeTrue())
				Expect(result.RedirectURL).To(Equal("https://checkout.flutterwave.com/v3/hosted/pay/xyz"))

				Expect(authHeader).To(Equal("Bearer " + secretKey))
				Expect(captured.TxRef).To(Equal("loan-ref-1"))
				Expect(captured.Amount).To(Equal("45000.00"))
				Expect(captured.Currency).To(Equal("KES"))
				Expect(captured.Customer.Email).To(Equal("applicant@example.com"))
			})

			It("should use the tx_ref as the provider reference for reconciliation", func() {
				result, err := adapter.InitializePayment(context.Background(), gateway.InitializeParams{
					Amount:    decimal.RequireFromString("300"),
					Currency:  "USD",
					Reference: "loan-ref-2",
					Customer:  gateway.Customer{Email: "applicant@example.com"},
				})

				Expect(err).ToNot(HaveOccurred())
				Expect(result.ProviderReference).To(Equal(gateway.ProviderReference("loan-ref-2")))
			})
		})

		Context("when Flutterwave rejects the payment", func() {
			BeforeEach(func() {
				server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					json.NewEncoder(w).Encode(map[string]interface{}{
						"status":  "error",
						"message": "Currency not supported",
					})
				}))
				adapter = newAdapter(server.URL)
			})

			It("should return an unsuccessful result instead of an error", func() {
				result, err := adapter.InitializePayment(context.Background(), gateway.InitializeParams{
					Amount:    decimal.RequireFromString("100"),
					Currency:  "XXX",
					Reference: "loan-ref-3",
					Customer:  gateway.Customer{Email: "applicant@example.com"},
				})

				Expect(err).ToNot(HaveOccurred())
				Expect(result.Success).To(BeFalse())
				Expect(result.Message).To(Equal("Currency not supported"))
			})
		})
	})

	Describe("VerifyPayment", func() {
		Context("when the transaction succeeded", func() {
			BeforeEach(func() {
				server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					Expect(r.URL.Path).To(Equal("/transactions/verify_by_reference"))
					Expect(r.URL.Query().Get("tx_ref")).To(Equal("loan-ref-1"))
					w.Header().Set("Content-Type", "application/json")
					json.NewEncoder(w).Encode(map[string]interface{}{
						"status": "success",
						"data": map[string]interface{}{
							"id":           98765,
							"tx_ref":       "loan-ref-1",
							"flw_ref":      "FLW-MOCK-abc",
							"status":       "successful",
							"amount":       45000,
							"currency":     "KES",
							"payment_type": "mobilemoney",
							"created_at":   "2026-08-01T12:30:00Z",
						},
					})
				}))
				adapter = newAdapter(server.URL)
			})

			It("should verify by tx_ref and map successful to completed", func() {
				result, err := adapter.VerifyPayment(context.Background(), "loan-ref-1")

				Expect(err).ToNot(HaveOccurred())
				Expect(result.Status).To(Equal(gateway.StatusCompleted))
				Expect(result.Amount.StringFixed(2)).To(Equal("45000.00"))
				Expect(result.Currency).To(Equal("KES"))
				Expect(result.ProviderReference).To(Equal(gateway.ProviderReference("loan-ref-1")))
				Expect(result.Channel).To(Equal("mobilemoney"))
			})
		})

		DescribeTable("status vocabulary translation",
			func(providerStatus string, expected gateway.Status) {
				server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					json.NewEncoder(w).Encode(map[string]interface{}{
						"status": "success",
						"data": map[string]interface{}{
							"tx_ref":   "loan-ref-1",
							"status":   providerStatus,
							"amount":   100,
							"currency": "USD",
						},
					})
				}))
				adapter = newAdapter(server.URL)

				result, err := adapter.VerifyPayment(context.Background(), "loan-ref-1")

				Expect(err).ToNot(HaveOccurred())
				Expect(result.Status).To(Equal(expected))
			},
			Entry("successful maps to completed", "successful", gateway.StatusCompleted),
			Entry("failed maps to failed", "failed", gateway.StatusFailed),
			Entry("cancelled maps to cancelled", "cancelled", gateway.StatusCancelled),
			Entry("expired maps to expired", "expired", gateway.StatusExpired),
			Entry("pending maps to pending", "pending", gateway.StatusPending),
			Entry("an unknown status maps to pending, never success", "mystery", gateway.StatusPending),
		)

		Context("when the provider cannot find the transaction", func() {
			BeforeEach(func() {
				server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusNotFound)
					json.NewEncoder(w).Encode(map[string]interface{}{
						"status":  "error",
						"message": "No transaction was found for this id",
					})
				}))
				adapter = newAdapter(server.URL)
			})

			It("should return an error", func() {
				result, err := adapter.VerifyPayment(context.Background(), "loan-missing")

				Expect(err).To(HaveOccurred())
				Expect(result).To(BeNil())
			})
		})
	})

	Describe("HandleWebhook", func() {
		BeforeEach(func() {
			adapter = newAdapter("http://unused")
		})

		Context("when the verif-hash matches", func() {
			It("should request a write for a completed charge", func() {
				payload := []byte(`{"event":"charge.completed","data":{"tx_ref":"loan-ref-1","status":"successful","amount":45000,"currency":"KES","created_at":"2026-08-01T12:30:00Z"}}`)

				result, err := adapter.HandleWebhook(payload, webhookSecret)

				Expect(err).ToNot(HaveOccurred())
				Expect(result.Success).To(BeTrue())
				Expect(result.ShouldUpdateDatabase).To(BeTrue())
				Expect(result.Status).To(Equal(gateway.StatusCompleted))
				Expect(result.ProviderReference).To(Equal(gateway.ProviderReference("loan-ref-1")))
				Expect(result.PaidAt).ToNot(BeNil())
				Expect(*result.PaidAt).To(Equal(time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)))
			})

			It("should request a write for a failed charge", func() {
				payload := []byte(`{"event":"charge.completed","data":{"tx_ref":"loan-ref-1","status":"failed"}}`)

				result, err := adapter.HandleWebhook(payload, webhookSecret)

				Expect(err).ToNot(HaveOccurred())
				Expect(result.ShouldUpdateDatabase).To(BeTrue())
				Expect(result.Status).To(Equal(gateway.StatusFailed))
			})

			It("should not request a write when the charge is still pending", func() {
				payload := []byte(`{"event":"charge.completed","data":{"tx_ref":"loan-ref-1","status":"pending"}}`)

				result, err := adapter.HandleWebhook(payload, webhookSecret)

				Expect(err).ToNot(HaveOccurred())
				Expect(result.Success).To(BeTrue())
				Expect(result.ShouldUpdateDatabase).To(BeFalse())
			})

			It("should not request a write for non-charge events", func() {
				payload := []byte(`{"event":"transfer.completed","data":{"tx_ref":"loan-ref-1","status":"successful"}}`)

				result, err := adapter.HandleWebhook(payload, webhookSecret)

				Expect(err).ToNot(HaveOccurred())
				Expect(result.ShouldUpdateDatabase).To(BeFalse())
			})
		})

		Context("when the verif-hash does not match", func() {
			It("should reject the payload without interpreting it", func() {
				payload := []byte(`{"event":"charge.completed","data":{"tx_ref":"loan-ref-1","status":"successful"}}`)

				result, err := adapter.HandleWebhook(payload, "wrong-hash")

				Expect(err).ToNot(HaveOccurred())
				Expect(result.Success).To(BeFalse())
				Expect(result.ShouldUpdateDatabase).To(BeFalse())
			})
		})

		Context("when no webhook secret is configured", func() {
			It("should reject every delivery", func() {
				bare := flutterwave.New(flutterwave.Config{
					SecretKey: secretKey,
					BaseURL:   "http://unused",
				}, logger)

				result, err := bare.HandleWebhook([]byte(`{}`), "")

				Expect(err).ToNot(HaveOccurred())
				Expect(result.Success).To(BeFalse())
			})
		})

		Context("when the payload is malformed JSON", func() {
			It("should return an error", func() {
				result, err := adapter.HandleWebhook([]byte(`{not json`), webhookSecret)

				Expect(err).To(HaveOccurred())
				Expect(result).To(BeNil())
			})
		})
	})
})
