package outcome

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMarshalIncludesDerivedSucceeded(t *testing.T) {
	amount := 1.0
	b, err := json.Marshal(PaymentOutcome{CorrelationID: "m-1", ResultCode: 0, Amount: &amount})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, true, got["succeeded"])
	require.Equal(t, 1.0, got["amount"])
	require.Equal(t, map[string]any{}, got["raw_metadata"])
	require.NotContains(t, got, "provider_receipt")
}

func TestMarshalFailedOutcomeOmitsAbsentFields(t *testing.T) {
	b, err := json.Marshal(PaymentOutcome{ResultCode: 1, ResultDescription: "Insufficient funds"})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, false, got["succeeded"])
	require.NotContains(t, got, "amount")
}

func TestEnvelopeRoundTripIgnoresDerivedField(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	env := NewEnvelope(TypeB2CResult, PaymentOutcome{CorrelationID: "AG_1", ResultCode: 2001}, at)

	b, err := json.Marshal(env)
	require.NoError(t, err)

	var back Envelope
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, TypeB2CResult, back.Type)
	require.Equal(t, 2001, back.Data.ResultCode)
	require.False(t, back.Data.Succeeded())
	require.True(t, back.ReceivedAt.Equal(at))
}

func TestErrorEnvelope(t *testing.T) {
	env := NewErrorEnvelope(errors.New("read body: unexpected EOF"), time.Now())
	require.Equal(t, TypeCallbackError, env.Type)
	require.Nil(t, env.Data)
	require.Equal(t, "read body: unexpected EOF", env.Error)
}
