package mpesa

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"payrelay/internal/config"
	"payrelay/internal/domain/payment"
	"payrelay/internal/provider"
	"payrelay/internal/provider/base"
)

const (
	stkPushEndpoint = "/mpesa/stkpush/v1/processrequest"
	b2cEndpoint     = "/mpesa/b2c/v3/paymentrequest"

	timestampLayout = "20060102150405"
)

// eat is East Africa Time, the zone Daraja expects STK timestamps in.
var eat = time.FixedZone("EAT", 3*3600)

// GatewayConfig is what the request builder needs from the Daraja account.
type GatewayConfig struct {
	Shortcode      string
	Passkey        string
	InitiatorName  string
	STKCallbackURL string
	B2CResultURL   string
	B2CTimeoutURL  string
}

// Gateway submits payment requests to Daraja. It does not fetch tokens; the
// caller passes a bearer token in.
type Gateway struct {
	http       *base.HTTPClient
	cfg        GatewayConfig
	secCred    string
	secCredErr error
	now        func() time.Time
}

// NewGateway creates a gateway. securityCredential may be empty when B2C is
// not used; SubmitB2C then fails with secErr.
func NewGateway(client *base.HTTPClient, cfg GatewayConfig, securityCredential string, secErr error) *Gateway {
	return &Gateway{
		http:       client,
		cfg:        cfg,
		secCred:    securityCredential,
		secCredErr: secErr,
		now:        time.Now,
	}
}

// Client bundles the pieces the rest of the service uses to talk to Daraja.
type Client struct {
	Auth    *AuthProvider
	Gateway *Gateway
}

// New wires a token cache, auth provider and gateway sharing one HTTP client.
func New(cfg config.MpesaCfg) *Client {
	httpClient := base.NewHTTPClient("mpesa", cfg.Timeout)
	httpClient.SetBaseURL(cfg.BaseURL)

	cache := NewTokenCache(nil)
	secCred, secErr := SecurityCredential(cfg)
	if secErr != nil {
		log.Warn().Err(secErr).Msg("B2C security credential unavailable; disbursements will fail")
	}

	gateway := NewGateway(httpClient, GatewayConfig{
		Shortcode:      cfg.Shortcode,
		Passkey:        cfg.Passkey,
		InitiatorName:  cfg.InitiatorName,
		STKCallbackURL: cfg.STKCallbackURL,
		B2CResultURL:   cfg.B2CResultURL,
		B2CTimeoutURL:  cfg.B2CTimeoutURL,
	}, secCred, secErr)

	return &Client{
		Auth:    NewAuthProvider(httpClient, cache, cfg.ConsumerKey, cfg.ConsumerSecret),
		Gateway: gateway,
	}
}

// Password builds the STK push password and the timestamp it was derived from.
func Password(shortcode, passkey string, at time.Time) (password, timestamp string) {
	timestamp = at.In(eat).Format(timestampLayout)
	password = base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
	return password, timestamp
}

// SubmitSTK sends an already validated push payment.
func (g *Gateway) SubmitSTK(ctx context.Context, token string, req payment.PushPayment) (payment.PushResult, error) {
	password, timestamp := Password(g.cfg.Shortcode, g.cfg.Passkey, g.now())

	payload := map[string]interface{}{
		"BusinessShortCode": g.cfg.Shortcode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            req.Amount,
		"PartyA":            req.PhoneNumber,
		"PartyB":            g.cfg.Shortcode,
		"PhoneNumber":       req.PhoneNumber,
		"CallBackURL":       g.cfg.STKCallbackURL,
		"AccountReference":  req.AccountReference,
		"TransactionDesc":   req.TransactionDesc,
	}

	var response struct {
		MerchantRequestID   string `json:"MerchantRequestID"`
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
		CustomerMessage     string `json:"CustomerMessage"`
	}
	if err := g.submit(ctx, stkPushEndpoint, token, payload, &response); err != nil {
		return payment.PushResult{}, err
	}

	log.Info().
		Str("provider", "mpesa").
		Str("operation", "stk_push").
		Str("checkout_request_id", response.CheckoutRequestID).
		Str("response_code", response.ResponseCode).
		Int64("amount", req.Amount).
		Msg("M-Pesa operation")

	return payment.PushResult{
		MerchantRequestID:   response.MerchantRequestID,
		CheckoutRequestID:   response.CheckoutRequestID,
		ResponseCode:        response.ResponseCode,
		ResponseDescription: response.ResponseDescription,
		CustomerMessage:     response.CustomerMessage,
	}, nil
}

// SubmitB2C sends an already validated disbursement.
func (g *Gateway) SubmitB2C(ctx context.Context, token string, req payment.Disbursement) (payment.DisbursementResult, error) {
	if g.secCred == "" {
		err := g.secCredErr
		if err == nil {
			err = errors.New("security credential not configured")
		}
		return payment.DisbursementResult{}, &provider.UpstreamError{
			StatusCode: http.StatusInternalServerError,
			Code:       provider.ErrCodeSecurityCred,
			Message:    err.Error(),
			Err:        err,
		}
	}

	payload := map[string]interface{}{
		"OriginatorConversationID": req.OriginatorConversationID,
		"InitiatorName":            g.cfg.InitiatorName,
		"SecurityCredential":       g.secCred,
		"CommandID":                string(req.CommandID),
		"Amount":                   req.Amount,
		"PartyA":                   g.cfg.Shortcode,
		"PartyB":                   req.PhoneNumber,
		"Remarks":                  req.Remarks,
		"QueueTimeOutURL":          g.cfg.B2CTimeoutURL,
		"ResultURL":                g.cfg.B2CResultURL,
		"Occasion":                 req.Occasion,
	}

	var response struct {
		ConversationID           string `json:"ConversationID"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ResponseCode             string `json:"ResponseCode"`
		ResponseDescription      string `json:"ResponseDescription"`
	}
	if err := g.submit(ctx, b2cEndpoint, token, payload, &response); err != nil {
		return payment.DisbursementResult{}, err
	}

	log.Info().
		Str("provider", "mpesa").
		Str("operation", "b2c").
		Str("conversation_id", response.ConversationID).
		Str("originator_conversation_id", response.OriginatorConversationID).
		Str("command_id", string(req.CommandID)).
		Int64("amount", req.Amount).
		Msg("M-Pesa operation")

	return payment.DisbursementResult{
		ConversationID:           response.ConversationID,
		OriginatorConversationID: response.OriginatorConversationID,
		ResponseCode:             response.ResponseCode,
		ResponseDescription:      response.ResponseDescription,
	}, nil
}

// submit posts payload with a bearer token and decodes a 2xx body into out.
// Every failure is an *provider.UpstreamError.
func (g *Gateway) submit(ctx context.Context, endpoint, token string, payload, out interface{}) error {
	resp, err := g.http.PostJSON(ctx, endpoint, payload, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if err != nil {
		timeout := base.IsTimeout(err)
		return &provider.UpstreamError{Timeout: timeout, Transport: !timeout, Err: err}
	}

	if !resp.IsSuccess() {
		fault := resp.Fault(provider.ErrCodeUnknown)
		return &provider.UpstreamError{
			StatusCode: resp.StatusCode,
			Code:       fault.ErrorCode,
			Message:    fault.ErrorMessage,
			RequestID:  fault.RequestID,
		}
	}

	if err := resp.UnmarshalJSON(out); err != nil {
		return &provider.UpstreamError{
			StatusCode: http.StatusBadGateway,
			Code:       provider.ErrCodeMalformed,
			Message:    "unreadable provider response",
			Err:        err,
		}
	}
	return nil
}

// IsUnauthorized reports whether a submission was refused because the bearer
// token is no longer accepted.
func IsUnauthorized(err error) bool {
	var upErr *provider.UpstreamError
	return errors.As(err, &upErr) && upErr.StatusCode == http.StatusUnauthorized
}
