// Package paystack is a small client for the Paystack transaction API and its
// webhook signature scheme.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"custody/internal/models"
)

type Client struct {
	BaseURL     string
	SecretKey   string
	CallbackURL string
	HTTPClient  *http.Client
}

func NewClient(baseURL, secretKey, callbackURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		SecretKey:   secretKey,
		CallbackURL: callbackURL,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type InitializeRequest struct {
	Email       string `json:"email"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type VerifyResult struct {
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	PaidAt          string `json:"paid_at"`
	GatewayResponse string `json:"gateway_response"`
}

// Outcome maps the gateway status onto a ledger status. An empty result means
// the charge has not settled either way yet.
func (v VerifyResult) Outcome() string {
	return Outcome(v.Status)
}

func (v VerifyResult) PaidAtTime() *time.Time {
	return parseTime(v.PaidAt)
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIError is returned for non-2xx responses and for envelopes with
// status=false.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack api error: %d %s", e.StatusCode, e.Message)
}

func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (InitializeResult, error) {
	if req.CallbackURL == "" {
		req.CallbackURL = c.CallbackURL
	}
	var result InitializeResult
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", req, &result); err != nil {
		return InitializeResult{}, err
	}
	if result.Reference == "" {
		result.Reference = req.Reference
	}
	return result, nil
}

func (c *Client) Verify(ctx context.Context, reference string) (VerifyResult, error) {
	var result VerifyResult
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return VerifyResult{}, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("paystack: decode response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Status {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// Outcome maps a Paystack charge status to success, failed, or "" while the
// charge is still in flight.
func Outcome(status string) string {
	switch strings.ToLower(status) {
	case "success":
		return models.StatusSuccess
	case "failed", "abandoned", "reversed":
		return models.StatusFailed
	default:
		return ""
	}
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	parsed = parsed.UTC()
	return &parsed
}
