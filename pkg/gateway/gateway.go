// Package gateway is the client side of MedLingo's translation endpoint,
// POST /api/translate. It also defines the JSON wire types the server uses.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Path is the route of the translation endpoint.
const Path = "/api/translate"

// TranslateRequest is the JSON request body.
type TranslateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
}

// TranslateResponse is the JSON body of a successful response.
type TranslateResponse struct {
	Translation string `json:"translation"`
}

// ErrorResponse is the JSON body of every non-200 response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Error is returned by [Client.Translate] for non-200 responses.
type Error struct {
	Status  int
	Message string
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("gateway: %d %s: %s", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("gateway: %d %s", e.Status, e.Message)
}

// IsRateLimited reports whether err is a 429 answer from the gateway.
func IsRateLimited(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Status == http.StatusTooManyRequests
}

// Client calls a MedLingo translation endpoint. It is safe for concurrent use.
type Client struct {
	baseURL string
	hc      *http.Client
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// NewClient returns a client for the server at baseURL, e.g. "http://localhost:8080".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Translate asks the gateway to translate text from src to dst.
func (c *Client) Translate(ctx context.Context, text, src, dst string) (string, error) {
	body, err := json.Marshal(TranslateRequest{Text: text, SourceLanguage: src, TargetLanguage: dst})
	if err != nil {
		return "", fmt.Errorf("gateway: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway: translate: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("gateway: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var er ErrorResponse
		if json.Unmarshal(raw, &er) != nil || er.Error == "" {
			er.Error = http.StatusText(resp.StatusCode)
		}
		return "", &Error{Status: resp.StatusCode, Message: er.Error, Details: er.Details}
	}

	var out TranslateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("gateway: decode response: %w", err)
	}
	return out.Translation, nil
}
