// Package review implements sequential ("zen") paragraph review against a
// running galley server: a REST client for the correction API, completion
// polling, a diff-backed edit surface, and the session that dispatches
// reviewer actions.
package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/proofloop/galley/internal/models"
)

// APIError is a non-2xx response from the server. The server answers errors
// with {"error": message}; Message carries that text unmodified so it can be
// shown to the reviewer as-is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string { return e.Message }

// Client calls the review endpoints of a galley server.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets a logger for request debug output.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetParagraph fetches one paragraph.
func (c *Client) GetParagraph(ctx context.Context, chapterID int64, index int) (*models.Paragraph, error) {
	var p models.Paragraph
	if err := c.do(ctx, http.MethodGet, c.paragraphURL(chapterID, index, ""), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GenerateCorrection asks the server to queue correction generation for the
// paragraph. Repeated calls re-trigger generation.
func (c *Client) GenerateCorrection(ctx context.Context, chapterID int64, index int) error {
	return c.do(ctx, http.MethodPost, c.paragraphURL(chapterID, index, "generateCorrection"), nil, nil)
}

// SaveManual stores manual text for the paragraph and returns the updated
// paragraph.
func (c *Client) SaveManual(ctx context.Context, chapterID int64, index int, text string) (*models.Paragraph, error) {
	var p models.Paragraph
	body := models.SaveManualRequest{CorrectedText: text}
	if err := c.do(ctx, http.MethodPost, c.paragraphURL(chapterID, index, "saveManual"), body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Approve finalizes the paragraph. A nil text is sent as JSON null and means
// "no correction needed": the server keeps the original and marks the
// paragraph notRequired.
func (c *Client) Approve(ctx context.Context, chapterID int64, index int, text *string) error {
	body := models.ApproveRequest{CorrectedText: text}
	return c.do(ctx, http.MethodPost, c.paragraphURL(chapterID, index, "approve"), body, nil)
}

// Reject dismisses the paragraph's correction. The response body is not
// consumed; the rejected state is confirmed by the next fetch.
func (c *Client) Reject(ctx context.Context, chapterID int64, index int) error {
	return c.do(ctx, http.MethodPost, c.paragraphURL(chapterID, index, "reject"), nil, nil)
}

// Clear resets the paragraph to its imported state, removing both corrected
// texts.
func (c *Client) Clear(ctx context.Context, chapterID int64, index int) error {
	return c.do(ctx, http.MethodPost, c.paragraphURL(chapterID, index, "clear"), nil, nil)
}

// NextParagraph returns the index of the nearest paragraph needing review in
// the given direction. The server owns the skip order; a chapter boundary
// surfaces as an APIError with the server's message.
func (c *Client) NextParagraph(ctx context.Context, chapterID int64, current int, reverse bool) (int, error) {
	u := fmt.Sprintf("%s/api/zen/nextParagraph/%d?current=%d&reverse=%t", c.baseURL, chapterID, current, reverse)
	var out models.NextParagraphResponse
	if err := c.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return 0, err
	}
	return out.Next, nil
}

// Thinking reports whether any generation job is queued or running.
func (c *Client) Thinking(ctx context.Context) (bool, error) {
	var out models.AIStatus
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/api/ai/status", nil, &out); err != nil {
		return false, err
	}
	return out.Thinking, nil
}

func (c *Client) paragraphURL(chapterID int64, index int, action string) string {
	u := fmt.Sprintf("%s/api/chapters/%d/paragraphs/%d", c.baseURL, chapterID, index)
	if action != "" {
		u += "/" + action
	}
	return u
}

func (c *Client) do(ctx context.Context, method, url string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return apiError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// apiError extracts the server's error message. Bodies that are not the
// usual {"error": message} shape fall back to the raw text.
func apiError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return &APIError{StatusCode: status, Message: payload.Error}
	}
	return &APIError{
		StatusCode: status,
		Message:    fmt.Sprintf("server returned %d: %s", status, strings.TrimSpace(string(body))),
	}
}
