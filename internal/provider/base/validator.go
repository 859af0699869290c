package base

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"payrelay/internal/domain/payment"
	"payrelay/internal/provider"
)

var (
	phoneNoise   = regexp.MustCompile(`[^\d+]`)
	kenyanMSISDN = regexp.MustCompile(`^254\d{9}$`)
	alnum        = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// PhoneValidator normalizes Kenyan numbers to the 254XXXXXXXXX form Daraja expects.
type PhoneValidator struct {
	countryCode string
}

func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{countryCode: "254"}
}

// ValidatePhone accepts 0712345678, 712345678, +254712345678 and
// 254712345678 (spaces and dashes ignored) and returns 254712345678.
func (v *PhoneValidator) ValidatePhone(phone string) (string, error) {
	normalized := phoneNoise.ReplaceAllString(phone, "")
	normalized = strings.TrimPrefix(normalized, "+")

	switch {
	case strings.HasPrefix(normalized, "0"):
		normalized = v.countryCode + normalized[1:]
	case !strings.HasPrefix(normalized, v.countryCode):
		normalized = v.countryCode + normalized
	}

	if !kenyanMSISDN.MatchString(normalized) {
		return "", &provider.ValidationError{
			Field:   "phone_number",
			Message: fmt.Sprintf("invalid phone number format: %s (expected 254XXXXXXXXX)", phone),
		}
	}
	return normalized, nil
}

// AmountValidator validates payment amounts
type AmountValidator struct {
	minAmount int64
	maxAmount int64
	currency  string
}

// NewAmountValidator creates an amount validator with limits; maxAmount 0 means unbounded.
func NewAmountValidator(currency string, minAmount, maxAmount int64) *AmountValidator {
	return &AmountValidator{
		minAmount: minAmount,
		maxAmount: maxAmount,
		currency:  currency,
	}
}

// ValidateAmount validates payment amount
func (v *AmountValidator) ValidateAmount(amount int64) error {
	if amount <= 0 {
		return &provider.ValidationError{Field: "amount", Message: "amount must be greater than zero"}
	}
	if amount < v.minAmount {
		return &provider.ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("amount must be at least %d %s", v.minAmount, v.currency),
		}
	}
	if v.maxAmount > 0 && amount > v.maxAmount {
		return &provider.ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("amount must not exceed %d %s", v.maxAmount, v.currency),
		}
	}
	return nil
}

// RequestValidator checks outbound requests before any provider call.
type RequestValidator struct {
	phoneValidator  *PhoneValidator
	amountValidator *AmountValidator
}

// NewRequestValidator creates a validator for KES amounts within [minAmount, maxAmount].
func NewRequestValidator(minAmount, maxAmount int64) *RequestValidator {
	return &RequestValidator{
		phoneValidator:  NewPhoneValidator(),
		amountValidator: NewAmountValidator("KES", minAmount, maxAmount),
	}
}

// ValidatePush validates req and normalizes its phone number in place.
func (v *RequestValidator) ValidatePush(req *payment.PushPayment) error {
	if err := v.amountValidator.ValidateAmount(req.Amount); err != nil {
		return err
	}

	phone, err := v.phoneValidator.ValidatePhone(req.PhoneNumber)
	if err != nil {
		return err
	}
	req.PhoneNumber = phone

	req.AccountReference = strings.TrimSpace(req.AccountReference)
	if req.AccountReference == "" {
		return &provider.ValidationError{Field: "account_reference", Message: "account reference is required"}
	}
	if !alnum.MatchString(req.AccountReference) {
		return &provider.ValidationError{Field: "account_reference", Message: "account reference must be alphanumeric"}
	}
	if err := maxLen("account_reference", req.AccountReference, payment.MaxAccountReference); err != nil {
		return err
	}

	req.TransactionDesc = strings.TrimSpace(req.TransactionDesc)
	if req.TransactionDesc == "" {
		return &provider.ValidationError{Field: "transaction_desc", Message: "description is required"}
	}
	return maxLen("transaction_desc", req.TransactionDesc, payment.MaxTransactionDesc)
}

// ValidateDisbursement validates req, applies defaults and normalizes its phone
// number in place. An empty OriginatorConversationID is filled with a UUID.
func (v *RequestValidator) ValidateDisbursement(req *payment.Disbursement) error {
	if err := v.amountValidator.ValidateAmount(req.Amount); err != nil {
		return err
	}

	phone, err := v.phoneValidator.ValidatePhone(req.PhoneNumber)
	if err != nil {
		return err
	}
	req.PhoneNumber = phone

	if req.CommandID == "" {
		req.CommandID = payment.BusinessPayment
	}
	if !validCommand(req.CommandID) {
		names := make([]string, 0, len(payment.CommandIDs))
		for _, c := range payment.CommandIDs {
			names = append(names, string(c))
		}
		return &provider.ValidationError{
			Field:   "command_id",
			Message: fmt.Sprintf("command_id must be one of: %s", strings.Join(names, ", ")),
		}
	}

	if strings.TrimSpace(req.Remarks) == "" {
		req.Remarks = "Payment"
	}
	if err := maxLen("remarks", req.Remarks, payment.MaxRemarks); err != nil {
		return err
	}
	if err := maxLen("occasion", req.Occasion, payment.MaxOccasion); err != nil {
		return err
	}

	if strings.TrimSpace(req.OriginatorConversationID) == "" {
		req.OriginatorConversationID = uuid.NewString()
	}
	return nil
}

func validCommand(c payment.CommandID) bool {
	for _, known := range payment.CommandIDs {
		if c == known {
			return true
		}
	}
	return false
}

func maxLen(field, value string, limit int) error {
	if utf8.RuneCountInString(value) > limit {
		return &provider.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be at most %d characters", limit),
		}
	}
	return nil
}
