// client.go
//
// Certificate lifecycle and draft reconciliation engine for the ampline job-management platform
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of ampline-certsvc.
// ampline-certsvc is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// ampline-certsvc is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with ampline-certsvc.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

package draft

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RetryConfig bounds transport-level retries on the client.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Client is the HTTP implementation of Store, plus the lifecycle and review
// operations a full certificate client needs.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cookie     string
	retry      RetryConfig
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithRetry overrides the retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithSessionCookie sets the cookie_session value sent with every request.
func WithSessionCookie(value string) Option {
	return func(c *Client) { c.cookie = value }
}

// NewClient creates a certificate service client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	if c.retry.BaseDelay <= 0 {
		c.retry.BaseDelay = 200 * time.Millisecond
	}
	if c.retry.MaxDelay <= 0 {
		c.retry.MaxDelay = 5 * time.Second
	}
	return c
}

// NewIdempotencyKey returns a fresh key for amend/reissue retries.
func NewIdempotencyKey() string { return uuid.NewString() }

// Get fetches a certificate document.
func (c *Client) Get(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := c.do(ctx, http.MethodGet, "/api/certificates/"+url.PathEscape(id), nil, nil, true, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Create creates a new draft certificate of the given kind.
func (c *Client) Create(ctx context.Context, body map[string]any) (*Document, error) {
	var doc Document
	err := c.do(ctx, http.MethodPost, "/api/certificates", body, nil, false, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Save replaces the draft payload and rows under optimistic revision
// checking. A stale revision surfaces as an APIError with RevisionError set.
func (c *Client) Save(ctx context.Context, id string, revision uint64, payload map[string]any, rows []map[string]any, unlock []string) (*Document, error) {
	body := map[string]any{
		"revision": revision,
		"payload":  payload,
	}
	if rows != nil {
		body["rows"] = rows
	}
	if len(unlock) > 0 {
		body["unlock"] = unlock
	}
	var doc Document
	err := c.do(ctx, http.MethodPatch, "/api/certificates/"+url.PathEscape(id), body, nil, false, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Complete transitions a draft to completed.
func (c *Client) Complete(ctx context.Context, id string) (*Document, error) {
	return c.lifecycle(ctx, id, "complete", nil, nil)
}

// Issue transitions a completed certificate to issued.
func (c *Client) Issue(ctx context.Context, id string) (*Document, error) {
	return c.lifecycle(ctx, id, "issue", nil, nil)
}

// Void transitions a draft or completed certificate to void.
func (c *Client) Void(ctx context.Context, id string) (*Document, error) {
	return c.lifecycle(ctx, id, "void", nil, nil)
}

// Amend branches a new draft from an issued certificate. The idempotency key
// makes retries return the same branch.
func (c *Client) Amend(ctx context.Context, id, idempotencyKey string) (*Document, error) {
	return c.lifecycle(ctx, id, "amend", nil, map[string]string{"Idempotency-Key": idempotencyKey})
}

// Reissue branches a new draft from any certificate, superseding the source.
func (c *Client) Reissue(ctx context.Context, id, reason, idempotencyKey string) (*Document, error) {
	var body map[string]any
	if reason != "" {
		body = map[string]any{"reason": reason}
	}
	return c.lifecycle(ctx, id, "reissue", body, map[string]string{"Idempotency-Key": idempotencyKey})
}

// SubmitReview submits a draft for external review.
func (c *Client) SubmitReview(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodPost, "/api/certificates/"+url.PathEscape(id)+"/review/submit", nil, nil, false, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Lineage fetches the amend/reissue relations of a certificate.
func (c *Client) Lineage(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/api/certificates/"+url.PathEscape(id)+"/lineage", nil, nil, true, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) lifecycle(ctx context.Context, id, action string, body map[string]any, headers map[string]string) (*Document, error) {
	var doc Document
	path := "/api/certificates/" + url.PathEscape(id) + "/" + action
	err := c.do(ctx, http.MethodPost, path, body, headers, false, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, retryable bool, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	attempts := 1
	if retryable {
		attempts = c.retry.MaxAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if len(bodyBytes) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if c.cookie != "" {
			req.AddCookie(&http.Cookie{Name: "cookie_session", Value: c.cookie})
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < attempts {
				sleepWithBackoff(c.retry, attempt)
				continue
			}
			return err
		}
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			return json.Unmarshal(respBody, out)
		}
		if shouldRetryStatus(resp.StatusCode) && attempt < attempts {
			sleepWithBackoff(c.retry, attempt)
			continue
		}
		return parseAPIError(resp.StatusCode, respBody)
	}
	return nil
}

func shouldRetryStatus(status int) bool {
	return status == 429 || status == 502 || status == 503 || status == 504
}

func sleepWithBackoff(cfg RetryConfig, attempt int) {
	d := cfg.BaseDelay << (attempt - 1)
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	time.Sleep(d)
}

func parseAPIError(status int, body []byte) error {
	out := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, out); err != nil {
		out.Message = strings.TrimSpace(string(body))
		if out.Message == "" {
			out.Message = http.StatusText(status)
		}
		return out
	}
	out.StatusCode = status
	return out
}
