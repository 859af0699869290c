package handlers

import (
	"errors"
	"io"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"payrelay/internal/domain/outcome"
	"payrelay/internal/services/event"
)

type callbackResponse struct {
	Message   string           `json:"message"`
	Data      outcome.Envelope `json:"data"`
	Timestamp string           `json:"timestamp"`
}

// Callback receives a Daraja result callback. Daraja retries anything that is
// not a 200, so every outcome, including internal failures, is acknowledged
// with 200 and only logged here.
func Callback(svc PaymentService, t outcome.Type, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))

		env, err := svc.HandleCallback(r.Context(), t, body, readErr)
		switch {
		case errors.Is(err, event.ErrDuplicate):
			log.Info().Str("type", string(t)).Msg("duplicate callback acknowledged")
		case err != nil:
			log.Error().
				Err(err).
				Str("type", string(t)).
				Str("request_id", chimw.GetReqID(r.Context())).
				Int("body_length", len(body)).
				Msg("callback processing failed")
		}

		msg := message
		if env.Type == outcome.TypeCallbackError {
			msg = "Callback received"
		}
		writeJSON(w, http.StatusOK, callbackResponse{
			Message:   msg,
			Data:      env,
			Timestamp: now(),
		})
	}
}
