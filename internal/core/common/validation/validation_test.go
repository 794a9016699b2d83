package validation_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	errors "github.com/pesalend/loan-intake/internal"
	"github.com/pesalend/loan-intake/internal/core/common/validation"
)

func TestValidation(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Validation Suite")
}

var _ = Describe("ValidationBuilder", func() {
	Describe("Required", func() {
		It("should reject empty strings", func() {
			v := validation.NewValidator()
			v.Field("reference", "").Required()

			err := v.Validate()

			Expect(err).ToNot(BeNil())
			Expect(err.Code).To(Equal(errors.ErrCodeValidationFailed))
		})

		It("should reject zero int64 identifiers", func() {
			v := validation.NewValidator()
			v.Field("application_id", int64(0)).Required()

			Expect(v.Validate()).ToNot(BeNil())
		})

		It("should reject zero decimal amounts", func() {
			v := validation.NewValidator()
			v.Field("amount", decimal.Zero).Required()

			Expect(v.Validate()).ToNot(BeNil())
		})

		It("should accept present values", func() {
			v := validation.NewValidator()
			v.Field("reference", "loan-abc").Required()
			v.Field("application_id", int64(42)).Required()
			v.Field("amount", decimal.NewFromInt(300)).Required()

			Expect(v.Validate()).To(BeNil())
		})
	})

	Describe("PositiveAmount", func() {
		It("should reject negative amounts", func() {
			v := validation.NewValidator()
			v.Field("amount", decimal.NewFromInt(-5)).PositiveAmount()

			err := v.Validate()

			Expect(err).ToNot(BeNil())
			details, ok := err.Details.(errors.ValidationErrors)
			Expect(ok).To(BeTrue())
			Expect(details.Errors[0].Code).To(Equal(string(errors.ErrCodeInvalidAmount)))
		})

		It("should accept positive amounts", func() {
			v := validation.NewValidator()
			v.Field("amount", decimal.RequireFromString("0.01")).PositiveAmount()

			Expect(v.Validate()).To(BeNil())
		})
	})

	Describe("CurrencyCode", func() {
		It("should reject lowercase and wrong-length codes", func() {
			v := validation.NewValidator()
			v.Field("currency", "usd").CurrencyCode()
			v.Field("charge_in", "KSHS").CurrencyCode()

			err := v.Validate()

			Expect(err).ToNot(BeNil())
			details := err.Details.(errors.ValidationErrors)
			Expect(details.Errors).To(HaveLen(2))
		})

		It("should skip empty optional codes", func() {
			v := validation.NewValidator()
			v.Field("charge_in", "").CurrencyCode()

			Expect(v.Validate()).To(BeNil())
		})

		It("should accept valid ISO codes", func() {
			v := validation.NewValidator()
			v.Field("currency", "KES").CurrencyCode()

			Expect(v.Validate()).To(BeNil())
		})
	})

	Describe("Email", func() {
		It("should reject malformed addresses", func() {
			for _, bad := range []string{"plainaddress", "@missinglocal.com", "user@", "user@nodot"} {
				v := validation.NewValidator()
				v.Field("customer.email", bad).Email()
				Expect(v.Validate()).ToNot(BeNil(), "expected %q to be rejected", bad)
			}
		})

		It("should accept plausible addresses", func() {
			v := validation.NewValidator()
			v.Field("customer.email", "applicant@example.com").Email()

			Expect(v.Validate()).To(BeNil())
		})
	})

	Describe("Validate", func() {
		It("should collect errors across fields", func() {
			v := validation.NewValidator()
			v.Field("reference", "").Required()
			v.Field("amount", decimal.Zero).PositiveAmount()

			err := v.Validate()

			Expect(err).ToNot(BeNil())
			details := err.Details.(errors.ValidationErrors)
			Expect(details.Errors).To(HaveLen(2))
		})
	})
})
