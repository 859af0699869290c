package handlers

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"payrelay/internal/domain/payment"
	middlewarex "payrelay/internal/http/middleware"
)

// InitiateB2C sends money from the business shortcode to a customer.
func InitiateB2C(svc PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in payment.Disbursement
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request", "INVALID_JSON", "request body must be a JSON object", "")
			return
		}

		out, err := svc.InitiateDisbursement(r.Context(), in)
		if err != nil {
			writeProviderError(w, r, "B2C payment request failed", err)
			return
		}

		merchantKey, _ := middlewarex.MerchantKey(r.Context())
		log.Info().
			Str("merchant_key", merchantKey).
			Str("conversation_id", out.ConversationID).
			Str("originator_conversation_id", out.OriginatorConversationID).
			Str("response_code", out.ResponseCode).
			Msg("B2C payment initiated")

		writeJSON(w, http.StatusOK, out)
	}
}
