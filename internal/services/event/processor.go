package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"payrelay/internal/domain/outcome"
	"payrelay/internal/provider/mpesa"
)

// ErrDuplicate is returned when a callback with the same ids was already processed.
var ErrDuplicate = errors.New("duplicate callback")

// Publisher delivers envelopes to subscribers.
type Publisher interface {
	Publish(ctx context.Context, env outcome.Envelope) error
}

// Deduper remembers callbacks that were already published. FirstSeen returns
// true the first time it is called for key.
type Deduper interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
}

// Processor turns raw callback bodies into published envelopes.
type Processor struct {
	publisher Publisher
	deduper   Deduper
	now       func() time.Time
}

// NewProcessor creates a processor. deduper may be nil.
func NewProcessor(publisher Publisher, deduper Deduper) *Processor {
	return &Processor{
		publisher: publisher,
		deduper:   deduper,
		now:       time.Now,
	}
}

// Process normalizes raw and publishes it. The envelope is returned even when
// an error is, so the caller can acknowledge the callback with it.
func (p *Processor) Process(ctx context.Context, t outcome.Type, raw []byte) (outcome.Envelope, error) {
	variant, err := variantFor(t)
	if err != nil {
		env := outcome.NewErrorEnvelope(err, p.now())
		return env, p.publish(ctx, env)
	}

	o := mpesa.Normalize(raw, variant)
	env := outcome.NewEnvelope(t, o, p.now())

	logger := log.With().
		Str("type", string(t)).
		Str("correlation_id", o.CorrelationID).
		Str("secondary_id", o.SecondaryID).
		Int("result_code", o.ResultCode).
		Logger()

	if o.Degraded() {
		logger.Warn().Strs("issues", o.Issues).Msg("callback normalized with issues")
	}

	if key, ok := dedupeKey(t, o); ok && p.deduper != nil {
		first, err := p.deduper.FirstSeen(ctx, key)
		switch {
		case err != nil:
			logger.Error().Err(err).Msg("dedupe check failed, publishing anyway")
		case !first:
			logger.Info().Msg("duplicate callback ignored")
			return env, ErrDuplicate
		}
	}

	if err := p.publish(ctx, env); err != nil {
		return env, err
	}

	logger.Info().Bool("succeeded", o.Succeeded()).Msg("callback processed")
	return env, nil
}

// ProcessFailure publishes a callback_error envelope for a callback whose body
// could not be read at all.
func (p *Processor) ProcessFailure(ctx context.Context, t outcome.Type, cause error) (outcome.Envelope, error) {
	env := outcome.NewErrorEnvelope(fmt.Errorf("%s callback: %w", t, cause), p.now())
	return env, p.publish(ctx, env)
}

func (p *Processor) publish(ctx context.Context, env outcome.Envelope) error {
	if err := p.publisher.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}
	return nil
}

func variantFor(t outcome.Type) (mpesa.Variant, error) {
	switch t {
	case outcome.TypeSTKResult:
		return mpesa.PushResult, nil
	case outcome.TypeB2CResult, outcome.TypeB2CTimeout:
		return mpesa.DisbursementResult, nil
	default:
		return 0, fmt.Errorf("unsupported callback type %q", t)
	}
}

// dedupeKey identifies a callback. Callbacks without both ids are never deduplicated.
func dedupeKey(t outcome.Type, o outcome.PaymentOutcome) (string, bool) {
	if o.CorrelationID == "" || o.SecondaryID == "" {
		return "", false
	}
	return string(t) + ":" + o.CorrelationID + ":" + o.SecondaryID, true
}
