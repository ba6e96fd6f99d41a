package gateway

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// ErrUnavailable means the provider timed out or errored after the
// bounded retry; callers surface it as a retryable failure.
var ErrUnavailable = errors.New("payment gateway unavailable")

// ErrRejected means the provider refused the request itself. Retrying
// the same payload would only be refused again.
var ErrRejected = errors.New("payment gateway rejected request")

// SessionRequest asks the provider to open a payment session.
type SessionRequest struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"gross_amount"`
	Method  string  `json:"payment_type"`
}

// Session is the provider's answer: its transaction reference plus
// payment instructions (redirect URL and/or QR string).
type Session struct {
	Ref        string `json:"transaction_id"`
	PaymentURL string `json:"redirect_url,omitempty"`
	QRString   string `json:"qr_string,omitempty"`
}

// StatusResponse is the provider's view of a transaction, used by the
// synchronous confirm path.
type StatusResponse struct {
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
}

// Client talks to the external payment provider. Every call carries a
// timeout and retries once with backoff before giving up.
type Client struct {
	BaseURL   string
	ServerKey string
	HTTP      *http.Client

	Timeout time.Duration
	Backoff time.Duration
}

func NewClient() *Client {
	base := os.Getenv("GATEWAY_BASE_URL")
	if base == "" {
		base = "https://api.sandbox.gateway.local"
	}
	return &Client{
		BaseURL:   base,
		ServerKey: os.Getenv("GATEWAY_SERVER_KEY"),
		HTTP:      &http.Client{},
		Timeout:   5 * time.Second,
		Backoff:   500 * time.Millisecond,
	}
}

// CreateSession opens a payment session for the order.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var s Session
	err = c.do(ctx, http.MethodPost, c.BaseURL+"/v2/charge", body, &s)
	if err != nil {
		return nil, err
	}
	if s.Ref == "" {
		return nil, fmt.Errorf("%w: empty transaction reference", ErrUnavailable)
	}
	return &s, nil
}

// Status fetches the provider's current view of a transaction.
func (c *Client) Status(ctx context.Context, orderID string) (*StatusResponse, error) {
	var st StatusResponse
	if err := c.do(ctx, http.MethodGet, c.BaseURL+"/v2/"+orderID+"/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// do issues the request with a per-attempt timeout and one retry.
// Provider rejections (4xx) come back as ErrRejected without a second
// attempt; only transport errors and 5xx are retried.
func (c *Client) do(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(c.Backoff):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.Timeout)
		err := c.once(attemptCtx, method, url, body, out)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrRejected) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) once(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.ServerKey, "")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Signature computes the provider's notification signature:
// sha512(orderID + statusCode + grossAmount + serverKey), hex encoded.
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}
