package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rulebridge/rulebridge/errors"
	"github.com/rulebridge/rulebridge/format"
)

// maxResponseBytes bounds how much of a backend response we will read.
const maxResponseBytes = 4 << 20

// HTTPTranslator calls a translation service over HTTP.
type HTTPTranslator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTranslator builds a translator client for baseURL. A zero timeout
// defaults to 30s; the breaker's call timeout is expected to be tighter.
func NewHTTPTranslator(baseURL string, timeout time.Duration) *HTTPTranslator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTranslator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type translateRequest struct {
	Content      string `json:"content"`
	SourceFormat string `json:"source_format"`
	TargetFormat string `json:"target_format"`
}

type translateResponse struct {
	TranslatedContent string  `json:"translated_content"`
	Confidence        float64 `json:"confidence"`
	Error             string  `json:"error,omitempty"`
}

// Translate sends the rule to the backend and decodes the result.
func (t *HTTPTranslator) Translate(ctx context.Context, content string, src, dst format.Format) (Translation, error) {
	payload := translateRequest{
		Content:      content,
		SourceFormat: src.String(),
		TargetFormat: dst.String(),
	}

	var resp translateResponse
	if err := postJSON(ctx, t.client, t.baseURL+"/translate", payload, &resp); err != nil {
		return Translation{}, errors.WrapDownstream(err, "remote", "Translate", "call translation backend")
	}
	if resp.Error != "" {
		return Translation{}, errors.WrapDownstream(
			fmt.Errorf("%w: %s", errors.ErrBackendResponse, resp.Error),
			"remote", "Translate", "decode translation response")
	}
	return Translation{
		TranslatedContent: resp.TranslatedContent,
		RawConfidence:     resp.Confidence,
	}, nil
}

// HTTPValidator calls a syntax validation service over HTTP.
type HTTPValidator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPValidator builds a validator client for baseURL.
func NewHTTPValidator(baseURL string, timeout time.Duration) *HTTPValidator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPValidator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type validateRequest struct {
	Content string `json:"content"`
	Format  string `json:"format"`
}

type wireIssue struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

type validateResponse struct {
	SyntaxErrors   []wireIssue `json:"syntax_errors"`
	FormatWarnings []wireIssue `json:"format_warnings"`
	Error          string      `json:"error,omitempty"`
}

// CheckSyntax asks the backend for a syntax report on content.
func (v *HTTPValidator) CheckSyntax(ctx context.Context, content string, f format.Format) (SyntaxReport, error) {
	payload := validateRequest{Content: content, Format: f.String()}

	var resp validateResponse
	if err := postJSON(ctx, v.client, v.baseURL+"/validate", payload, &resp); err != nil {
		return SyntaxReport{}, errors.WrapDownstream(err, "remote", "CheckSyntax", "call validation backend")
	}
	if resp.Error != "" {
		return SyntaxReport{}, errors.WrapDownstream(
			fmt.Errorf("%w: %s", errors.ErrBackendResponse, resp.Error),
			"remote", "CheckSyntax", "decode validation response")
	}
	return SyntaxReport{
		SyntaxErrors:   toIssues(resp.SyntaxErrors),
		FormatWarnings: toIssues(resp.FormatWarnings),
	}, nil
}

func toIssues(in []wireIssue) []RemoteIssue {
	if len(in) == 0 {
		return nil
	}
	out := make([]RemoteIssue, len(in))
	for i, w := range in {
		out[i] = RemoteIssue{
			Code:     w.Code,
			Message:  w.Message,
			Severity: w.Severity,
			Line:     w.Line,
			Column:   w.Column,
		}
	}
	return out
}

// postJSON performs one JSON round trip, mapping transport and status
// failures onto the backend sentinels.
func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrBackendFailure, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", errors.ErrBackendFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", errors.ErrBackendFailure, resp.StatusCode, truncate(data, 256))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", errors.ErrBackendResponse, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
