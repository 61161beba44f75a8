/**
 * @description
 * This package provides a client for the Flutterwave payments API. It covers
 * the two calls the ledger-service needs: creating a hosted checkout session
 * and verifying a transaction after redirect or webhook.
 *
 * All failures surface as *GatewayError so callers can tell retryable
 * conditions (network faults, gateway 5xx) from terminal rejections without
 * inspecting strings.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package flutterwave

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"time"
)

// ErrorKind classifies a gateway failure.
type ErrorKind string

const (
	// KindUnavailable covers transport faults, timeouts and gateway 5xx
	// responses. The payment state is unknown; the caller should retry.
	KindUnavailable ErrorKind = "unavailable"
	// KindRejected covers gateway 4xx responses. Retrying the same request
	// will not help.
	KindRejected ErrorKind = "rejected"
)

// GatewayError is the closed error surface of this package.
type GatewayError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	cause      error
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("flutterwave api error (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("flutterwave api error (%s): %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.cause }

// Retryable reports whether the caller may safely retry the same call.
func (e *GatewayError) Retryable() bool { return e.Kind == KindUnavailable }

// IsRetryable reports whether err is a retryable gateway failure.
func IsRetryable(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Retryable()
}

// Client is a client for the Flutterwave API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new Flutterwave API client.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CheckoutRequest describes a hosted checkout session to create.
type CheckoutRequest struct {
	TxRef         string
	AmountKobo    int64
	Currency      string
	RedirectURL   string
	CustomerEmail string
	Title         string
	Meta          map[string]interface{}
}

// CheckoutSession is the hosted payment session returned by the gateway.
type CheckoutSession struct {
	AuthorizationURL string
}

// VerificationData is the normalized verification result.
type VerificationData struct {
	Status     string
	TxRef      string
	AmountKobo int64
	Currency   string
	Meta       map[string]interface{}
	Raw        json.RawMessage
}

// Successful reports whether the gateway considers the transaction paid.
func (v *VerificationData) Successful() bool { return v.Status == "successful" }

type apiEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type checkoutPayload struct {
	TxRef       string `json:"tx_ref"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	RedirectURL string `json:"redirect_url"`
	Customer    struct {
		Email string `json:"email"`
	} `json:"customer"`
	Customizations struct {
		Title string `json:"title"`
	} `json:"customizations"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

type verificationPayload struct {
	Status   string                 `json:"status"`
	TxRef    string                 `json:"tx_ref"`
	Amount   float64                `json:"amount"`
	Currency string                 `json:"currency"`
	Meta     map[string]interface{} `json:"meta"`
}

// koboToMajorString renders a kobo amount as the major-unit decimal string the
// gateway expects.
func koboToMajorString(kobo int64) string {
	return fmt.Sprintf("%d.%02d", kobo/100, kobo%100)
}

// CreateCheckoutSession requests a hosted payment page for the given charge.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	payload := checkoutPayload{
		TxRef:       req.TxRef,
		Amount:      koboToMajorString(req.AmountKobo),
		Currency:    req.Currency,
		RedirectURL: req.RedirectURL,
		Meta:        req.Meta,
	}
	payload.Customer.Email = req.CustomerEmail
	payload.Customizations.Title = req.Title

	data, err := c.doRequest(ctx, http.MethodPost, "/v3/payments", payload)
	if err != nil {
		return nil, err
	}

	var session struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode checkout response: %w", err)
	}
	if session.Link == "" {
		return nil, &GatewayError{Kind: KindRejected, Message: "checkout response missing payment link"}
	}
	return &CheckoutSession{AuthorizationURL: session.Link}, nil
}

// VerifyTransaction fetches the authoritative state of a transaction by the
// gateway-assigned transaction id.
func (c *Client) VerifyTransaction(ctx context.Context, transactionID string) (*VerificationData, error) {
	path := "/v3/transactions/" + url.PathEscape(transactionID) + "/verify"
	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeVerification(data)
}

// VerifyTransactionByReference fetches the authoritative state of a
// transaction by the merchant reference (tx_ref).
func (c *Client) VerifyTransactionByReference(ctx context.Context, txRef string) (*VerificationData, error) {
	path := "/v3/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(txRef)
	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeVerification(data)
}

func decodeVerification(data json.RawMessage) (*VerificationData, error) {
	var payload verificationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode verification response: %w", err)
	}
	return &VerificationData{
		Status:     payload.Status,
		TxRef:      payload.TxRef,
		AmountKobo: int64(math.Round(payload.Amount * 100)),
		Currency:   payload.Currency,
		Meta:       payload.Meta,
		Raw:        data,
	}, nil
}

// doRequest executes an authenticated call and returns the envelope's data
// payload on success.
func (c *Client) doRequest(ctx context.Context, method, path string, payload interface{}) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &GatewayError{Kind: KindUnavailable, Message: "request failed", cause: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayError{Kind: KindUnavailable, StatusCode: resp.StatusCode, Message: "failed to read response", cause: err}
	}

	if resp.StatusCode >= 500 {
		log.Printf("level=warn component=flutterwave_client method=%s path=%s status=%d msg=\"gateway unavailable\"", method, path, resp.StatusCode)
		return nil, &GatewayError{Kind: KindUnavailable, StatusCode: resp.StatusCode, Message: "gateway error"}
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &GatewayError{Kind: KindRejected, StatusCode: resp.StatusCode, Message: "unparsable error response"}
		}
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || envelope.Status == "error" {
		log.Printf("level=warn component=flutterwave_client method=%s path=%s status=%d message=%q", method, path, resp.StatusCode, envelope.Message)
		return nil, &GatewayError{Kind: KindRejected, StatusCode: resp.StatusCode, Message: envelope.Message}
	}

	return envelope.Data, nil
}
