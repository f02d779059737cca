// Package correction produces and validates corrected paragraph variants.
// Generation itself happens behind the Generator interface; this package
// never sees prompts or model names, only text in and text out.
package correction

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

	"github.com/proofloop/galley/pkg/utils"
)

// Request carries one paragraph to the correction service.
type Request struct {
	Text        string `json:"text"`
	StylePrompt string `json:"stylePrompt,omitempty"`
	Strength    int    `json:"strength"`
}

// Generator produces corrected text and chapter summaries.
type Generator interface {
	CorrectParagraph(ctx context.Context, req *Request) (string, error)
	SummarizeChapter(ctx context.Context, text string) (string, error)
}

// HTTPGenerator talks to an external correction service. It is pure
// transport: the service decides how corrections are produced.
type HTTPGenerator struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// HTTPGeneratorOption configures an HTTPGenerator.
type HTTPGeneratorOption func(*HTTPGenerator)

// WithHTTPLogger sets the logger for the generator.
func WithHTTPLogger(logger *zap.Logger) HTTPGeneratorOption {
	return func(g *HTTPGenerator) {
		g.logger = logger
	}
}

// NewHTTPGenerator creates a generator backed by the service at baseURL.
func NewHTTPGenerator(baseURL string, timeout time.Duration, opts ...HTTPGeneratorOption) *HTTPGenerator {
	g := &HTTPGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CorrectParagraph posts one paragraph and returns the corrected text.
func (g *HTTPGenerator) CorrectParagraph(ctx context.Context, req *Request) (string, error) {
	var resp struct {
		CorrectedText string `json:"correctedText"`
	}
	if err := g.post(ctx, "/correct", req, &resp); err != nil {
		return "", err
	}
	if resp.CorrectedText == "" {
		return "", fmt.Errorf("correction service returned an empty correction")
	}
	return resp.CorrectedText, nil
}

// SummarizeChapter posts chapter text and returns a short summary.
func (g *HTTPGenerator) SummarizeChapter(ctx context.Context, text string) (string, error) {
	var resp struct {
		Summary string `json:"summary"`
	}
	req := struct {
		Text string `json:"text"`
	}{Text: text}
	if err := g.post(ctx, "/summarize", req, &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}

func (g *HTTPGenerator) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("correction service unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("correction service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	g.logger.Debug("correction service call",
		zap.String("path", path),
		zap.Duration("took", time.Since(start)))

	return json.Unmarshal(data, out)
}

// StaticGenerator produces deterministic corrections without an external
// service: whitespace is normalized and a fixed set of common misspellings is
// replaced. For development and testing.
type StaticGenerator struct {
	replacements [][2]string
}

// NewStaticGenerator creates a generator with the default replacement set.
func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{
		replacements: [][2]string{
			{"teh", "the"},
			{"recieve", "receive"},
			{"seperate", "separate"},
			{"definately", "definitely"},
			{"occured", "occurred"},
		},
	}
}

// CorrectParagraph normalizes whitespace and applies the replacement set.
func (g *StaticGenerator) CorrectParagraph(_ context.Context, req *Request) (string, error) {
	text := strings.Join(strings.Fields(req.Text), " ")
	for _, r := range g.replacements {
		text = strings.ReplaceAll(text, r[0], r[1])
	}
	return text, nil
}

// SummarizeChapter returns the truncated opening of the chapter.
func (g *StaticGenerator) SummarizeChapter(_ context.Context, text string) (string, error) {
	return utils.Truncate(strings.Join(strings.Fields(text), " "), 160), nil
}
