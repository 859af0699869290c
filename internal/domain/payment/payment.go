package payment

// CommandID is the B2C command kind.
type CommandID string

const (
	SalaryPayment    CommandID = "SalaryPayment"
	BusinessPayment  CommandID = "BusinessPayment"
	PromotionPayment CommandID = "PromotionPayment"
)

// CommandIDs lists every accepted disbursement command.
var CommandIDs = []CommandID{SalaryPayment, BusinessPayment, PromotionPayment}

// Field limits imposed by Daraja.
const (
	MaxAccountReference = 12
	MaxTransactionDesc  = 13
	MaxRemarks          = 100
	MaxOccasion         = 100
)

// PushPayment asks the customer to approve a charge on their phone.
type PushPayment struct {
	PhoneNumber      string `json:"phone_number"`
	Amount           int64  `json:"amount"`
	AccountReference string `json:"account_reference"`
	TransactionDesc  string `json:"transaction_desc"`
}

// Disbursement sends money from the business to a customer.
type Disbursement struct {
	PhoneNumber string    `json:"phone_number"`
	Amount      int64     `json:"amount"`
	CommandID   CommandID `json:"command_id"`
	Remarks     string    `json:"remarks"`
	Occasion    string    `json:"occasion,omitempty"`
	// OriginatorConversationID is the idempotency key; generated when empty.
	OriginatorConversationID string `json:"originator_conversation_id"`
}

// PushResult is Daraja's synchronous acknowledgement of an STK push.
type PushResult struct {
	MerchantRequestID   string `json:"merchant_request_id"`
	CheckoutRequestID   string `json:"checkout_request_id"`
	ResponseCode        string `json:"response_code"`
	ResponseDescription string `json:"response_description"`
	CustomerMessage     string `json:"customer_message"`
}

// DisbursementResult is Daraja's synchronous acknowledgement of a B2C request.
type DisbursementResult struct {
	ConversationID           string `json:"conversation_id"`
	OriginatorConversationID string `json:"originator_conversation_id"`
	ResponseCode             string `json:"response_code"`
	ResponseDescription      string `json:"response_description"`
}
