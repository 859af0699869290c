package outcome

import (
	"encoding/json"
	"time"
)

// UnknownResultCode marks a callback whose result code was missing or unreadable.
// It is non-zero so such a callback is never reported as succeeded.
const UnknownResultCode = -1

// PaymentOutcome is the canonical shape of every provider result callback.
// Optional fields stay nil when the provider did not send them.
type PaymentOutcome struct {
	CorrelationID     string   `json:"correlation_id"`
	SecondaryID       string   `json:"secondary_id"`
	TransactionID     *string  `json:"transaction_id,omitempty"`
	ResultCode        int      `json:"result_code"`
	ResultType        *int     `json:"result_type,omitempty"`
	ResultDescription string   `json:"result_description"`
	Amount            *float64 `json:"amount,omitempty"`
	ProviderReceipt   *string  `json:"provider_receipt,omitempty"`
	CounterpartyPhone *string  `json:"counterparty_phone,omitempty"`
	CounterpartyName  *string  `json:"counterparty_name,omitempty"`
	CompletedAt       *string  `json:"completed_at,omitempty"`

	RecipientRegistered   *string  `json:"recipient_registered,omitempty"`
	WorkingAccountBalance *float64 `json:"working_account_balance,omitempty"`
	UtilityAccountBalance *float64 `json:"utility_account_balance,omitempty"`
	ChargesPaidBalance    *float64 `json:"charges_paid_balance,omitempty"`

	RawMetadata map[string]any `json:"raw_metadata"`
	// Issues lists what could not be read from the payload.
	Issues []string `json:"issues,omitempty"`
}

// Succeeded is derived from the result code and never stored.
func (o PaymentOutcome) Succeeded() bool {
	return o.ResultCode == 0
}

// Degraded reports whether normalization had to skip anything.
func (o PaymentOutcome) Degraded() bool {
	return len(o.Issues) > 0
}

// MarshalJSON adds the derived "succeeded" flag.
func (o PaymentOutcome) MarshalJSON() ([]byte, error) {
	type plain PaymentOutcome
	if o.RawMetadata == nil {
		o.RawMetadata = map[string]any{}
	}
	return json.Marshal(struct {
		plain
		Succeeded bool `json:"succeeded"`
	}{plain: plain(o), Succeeded: o.Succeeded()})
}

// Type names the kind of event pushed to subscribers.
type Type string

const (
	TypeSTKResult     Type = "stk_result"
	TypeB2CResult     Type = "b2c_result"
	TypeB2CTimeout    Type = "b2c_timeout"
	TypeCallbackError Type = "callback_error"
)

// Envelope is the message subscribers receive.
type Envelope struct {
	Type       Type            `json:"type"`
	Data       *PaymentOutcome `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// NewEnvelope wraps an outcome.
func NewEnvelope(t Type, o PaymentOutcome, at time.Time) Envelope {
	return Envelope{Type: t, Data: &o, ReceivedAt: at.UTC()}
}

// NewErrorEnvelope reports a callback that could not be processed at all.
func NewErrorEnvelope(err error, at time.Time) Envelope {
	return Envelope{Type: TypeCallbackError, Error: err.Error(), ReceivedAt: at.UTC()}
}
