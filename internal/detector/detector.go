// Package detector implements the C11 collaborator: a client for an
// OpenAI-compatible chat-completions endpoint that proposes TTS
// corrections for one chunk of text.
package detector

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

const systemPrompt = `You correct Markdown prose so it reads naturally aloud through text-to-speech. You never change meaning, spelling of real words, or style. You only fix mechanical artifacts: letters separated by spaces that spell one word, stylized Unicode letters, runs of inconsistent capitalization, and stray punctuation.

Return ONLY a JSON array of objects, each with exactly these keys:
  "find": the exact substring to replace
  "replace": the corrected substring
  "reason": one of "TTS_SPACED", "UNICODE_STYLIZED", "CASE_GLITCH", "SIMPLE_PUNCT"

Return [] if nothing needs correcting. No explanation, no code fence, no other text.`

// DetectError classifies a non-fatal detector failure so the caller
// can attribute it to the right rejection counter.
type DetectError struct {
	Kind string
	Err  error
}

func (e *DetectError) Error() string {
	return fmt.Sprintf("detect: %s: %v", e.Kind, e.Err)
}

func (e *DetectError) Unwrap() error { return e.Err }

// RejectionKind reports the rejection kind, satisfying pipeline's
// detectKinder interface without pipeline needing to import this
// package.
func (e *DetectError) RejectionKind() string { return e.Kind }

// Rejection kinds, used as "rejections.<kind>" counters under the
// "detect" report stage.
const (
	KindNetwork      = "network"
	KindTimeout      = "timeout"
	KindMalformed    = "malformed_json"
	KindNonArray     = "non_array"
	KindOversize     = "oversize"
	KindEmptyArray   = "empty_array"
	maxResponseChars = 2000
)

// Client calls one OpenAI-compatible chat-completions endpoint.
type Client struct {
	endpoint   string
	model      string
	http       *http.Client
	maxRetries int
}

// New builds a Client. timeout bounds each individual HTTP call;
// maxRetries is the number of additional attempts after the first.
func New(endpoint, model string, timeout time.Duration, maxRetries int) *Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		http:       &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
}

// Detect proposes corrections for one chunk of text. It returns
// decoded JSON values (map[string]interface{} per candidate item) so
// plan.Validate can run its schema check against the raw shape. On
// any detector-side failure it retries up to maxRetries more times
// (once with the default configuration) before giving up and
// returning the last *DetectError.
func (c *Client) Detect(ctx context.Context, text string) ([]interface{}, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		items, err := c.detectOnce(ctx, text)
		if err == nil {
			return items, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) detectOnce(ctx context.Context, text string) ([]interface{}, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "<TEXT_TO_CORRECT>" + text + "</TEXT_TO_CORRECT>"},
		},
		Temperature: 0.2,
		TopP:        0.9,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &DetectError{Kind: KindNetwork, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &DetectError{Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &DetectError{Kind: KindTimeout, Err: err}
		}
		return nil, &DetectError{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DetectError{Kind: KindNetwork, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &DetectError{Kind: KindNetwork, Err: err}
	}

	var chat chatResponse
	if err := json.Unmarshal(rawBody, &chat); err != nil {
		return nil, &DetectError{Kind: KindMalformed, Err: err}
	}
	if len(chat.Choices) == 0 {
		return nil, &DetectError{Kind: KindMalformed, Err: fmt.Errorf("response carried no choices")}
	}

	content := strings.TrimSpace(chat.Choices[0].Message.Content)
	if content == "" {
		content = strings.TrimSpace(chat.Choices[0].Message.ReasoningContent)
	}
	if len(content) > maxResponseChars {
		return nil, &DetectError{Kind: KindOversize, Err: fmt.Errorf("response body is %d chars", len(content))}
	}

	content = stripThinkBlock(content)
	content = stripCodeFence(content)
	if !strings.HasPrefix(strings.TrimSpace(content), "[") {
		content = extractJSONArray(content)
	}
	if !strings.HasPrefix(strings.TrimSpace(content), "[") {
		return nil, &DetectError{Kind: KindNonArray, Err: fmt.Errorf("no top-level JSON array found in response")}
	}

	var items []interface{}
	if err := json.Unmarshal([]byte(content), &items); err != nil {
		return nil, &DetectError{Kind: KindMalformed, Err: err}
	}
	if len(items) == 0 {
		return nil, &DetectError{Kind: KindEmptyArray, Err: fmt.Errorf("detector returned an empty array")}
	}
	return items, nil
}

// stripThinkBlock removes a leading <think>...</think> block some
// reasoning models emit before the actual answer.
func stripThinkBlock(s string) string {
	const open, close = "<think>", "</think>"
	start := strings.Index(s, open)
	if start < 0 {
		return s
	}
	end := strings.Index(s, close)
	if end < 0 {
		return strings.TrimSpace(s[:start])
	}
	return strings.TrimSpace(s[:start] + s[end+len(close):])
}

// stripCodeFence removes a ```json ... ``` or ``` ... ``` wrapper.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// extractJSONArray pulls the first [...] substring out of s, for
// responses that bury the array in leading or trailing prose.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	if start < 0 {
		return s
	}
	end := strings.LastIndex(s, "]")
	if end < start {
		return s
	}
	return s[start : end+1]
}
