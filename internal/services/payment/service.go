package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"payrelay/internal/domain/outcome"
	"payrelay/internal/domain/payment"
	"payrelay/internal/provider"
	"payrelay/internal/provider/mpesa"
)

// TokenSource issues bearer tokens.
type TokenSource interface {
	AccessToken(ctx context.Context, force bool) (mpesa.Credential, error)
	Invalidate()
}

// Submitter sends validated requests to the provider.
type Submitter interface {
	SubmitSTK(ctx context.Context, token string, req payment.PushPayment) (payment.PushResult, error)
	SubmitB2C(ctx context.Context, token string, req payment.Disbursement) (payment.DisbursementResult, error)
}

// Validator checks and normalizes requests in place.
type Validator interface {
	ValidatePush(req *payment.PushPayment) error
	ValidateDisbursement(req *payment.Disbursement) error
}

// CallbackProcessor normalizes and publishes provider callbacks.
type CallbackProcessor interface {
	Process(ctx context.Context, t outcome.Type, raw []byte) (outcome.Envelope, error)
	ProcessFailure(ctx context.Context, t outcome.Type, cause error) (outcome.Envelope, error)
}

// Service is the payment orchestrator: it authenticates and submits outbound
// requests and hands inbound callbacks to the processor.
type Service struct {
	auth      TokenSource
	gateway   Submitter
	validator Validator
	callbacks CallbackProcessor

	tokenRetries  uint64
	retryInterval time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithTokenRetry sets how often a timed out token fetch is retried and the
// initial backoff interval.
func WithTokenRetry(retries uint64, initial time.Duration) Option {
	return func(s *Service) {
		s.tokenRetries = retries
		s.retryInterval = initial
	}
}

// NewService creates a new payment service
func NewService(auth TokenSource, gateway Submitter, validator Validator, callbacks CallbackProcessor, opts ...Option) *Service {
	s := &Service{
		auth:          auth,
		gateway:       gateway,
		validator:     validator,
		callbacks:     callbacks,
		tokenRetries:  2,
		retryInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitiatePush validates req and sends an STK push prompt.
func (s *Service) InitiatePush(ctx context.Context, req payment.PushPayment) (payment.PushResult, error) {
	if err := s.validator.ValidatePush(&req); err != nil {
		return payment.PushResult{}, err
	}

	var res payment.PushResult
	err := s.withToken(ctx, func(token string) error {
		var err error
		res, err = s.gateway.SubmitSTK(ctx, token, req)
		return err
	})
	if err != nil {
		return payment.PushResult{}, ServiceError{Op: "initiate_push", Message: "STK push failed", Err: err}
	}
	return res, nil
}

// InitiateDisbursement validates req, fills in defaults and sends a B2C payment.
func (s *Service) InitiateDisbursement(ctx context.Context, req payment.Disbursement) (payment.DisbursementResult, error) {
	if err := s.validator.ValidateDisbursement(&req); err != nil {
		return payment.DisbursementResult{}, err
	}

	var res payment.DisbursementResult
	err := s.withToken(ctx, func(token string) error {
		var err error
		res, err = s.gateway.SubmitB2C(ctx, token, req)
		return err
	})
	if err != nil {
		return payment.DisbursementResult{}, ServiceError{Op: "initiate_disbursement", Message: "B2C payment failed", Err: err}
	}
	return res, nil
}

// HandleCallback processes a callback body. The error is for logging only;
// the provider must be acknowledged regardless.
func (s *Service) HandleCallback(ctx context.Context, t outcome.Type, raw []byte, readErr error) (outcome.Envelope, error) {
	if readErr != nil {
		return s.callbacks.ProcessFailure(ctx, t, readErr)
	}
	return s.callbacks.Process(ctx, t, raw)
}

// withToken runs submit with a cached or fresh token. A 401 from the provider
// invalidates the token and submit is retried once with a forced refresh.
// Submissions are never retried on timeout.
func (s *Service) withToken(ctx context.Context, submit func(token string) error) error {
	cred, err := s.token(ctx, false)
	if err != nil {
		return err
	}

	err = submit(cred.Token)
	if !mpesa.IsUnauthorized(err) {
		return err
	}

	log.Warn().Msg("provider rejected access token, refreshing once")
	s.auth.Invalidate()
	cred, err = s.token(ctx, true)
	if err != nil {
		return err
	}
	return submit(cred.Token)
}

// token fetches a credential, retrying only timeouts.
func (s *Service) token(ctx context.Context, force bool) (mpesa.Credential, error) {
	var (
		cred    mpesa.Credential
		lastErr error
	)
	op := func() error {
		c, err := s.auth.AccessToken(ctx, force)
		if err == nil {
			cred = c
			return nil
		}
		lastErr = err
		var authErr *provider.AuthError
		if errors.As(err, &authErr) && authErr.Retryable() {
			log.Warn().Err(err).Msg("access token fetch timed out, retrying")
			return err
		}
		return backoff.Permanent(err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, s.tokenRetries), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		// Retry reports ctx.Err() when the deadline ends a wait; surface the
		// token failure instead.
		if lastErr != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return mpesa.Credential{}, lastErr
		}
		return mpesa.Credential{}, err
	}
	return cred, nil
}

// ServiceError represents a payment service error
type ServiceError struct {
	Op      string
	Message string
	Err     error
}

func (e ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment service %s: %s (%v)", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("payment service %s: %s", e.Op, e.Message)
}

func (e ServiceError) Unwrap() error {
	return e.Err
}
