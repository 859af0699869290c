package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"payrelay/internal/domain/outcome"
	"payrelay/internal/domain/payment"
	middlewarex "payrelay/internal/http/middleware"
)

// PaymentService is what the payment routes need from the orchestrator.
type PaymentService interface {
	InitiatePush(ctx context.Context, req payment.PushPayment) (payment.PushResult, error)
	InitiateDisbursement(ctx context.Context, req payment.Disbursement) (payment.DisbursementResult, error)
	HandleCallback(ctx context.Context, t outcome.Type, raw []byte, readErr error) (outcome.Envelope, error)
}

// InitiateSTK sends an STK push prompt to the customer's phone.
func InitiateSTK(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in payment.PushPayment
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request", "INVALID_JSON", "request body must be a JSON object", "")
			return
		}

		out, err := svc.InitiatePush(r.Context(), in)
		if err != nil {
			writeProviderError(w, r, "STK push request failed", err)
			return
		}

		merchantKey, _ := middlewarex.MerchantKey(r.Context())
		log.Info().
			Str("merchant_key", merchantKey).
			Str("checkout_request_id", out.CheckoutRequestID).
			Str("response_code", out.ResponseCode).
			Int64("amount", in.Amount).
			Msg("STK push initiated")

		writeJSON(w, http.StatusOK, out)
	}
}
