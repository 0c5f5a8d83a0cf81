package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/xerrors"

	"github.com/cvemind/cvemind/pkg/etc"
	"github.com/cvemind/cvemind/pkg/metrics"
)

const (
	pathChatCompletions = "/chat/completions"

	// maxResponseBytes bounds the completion body read into memory.
	maxResponseBytes   = 1 << 20
	maxErrorBodyLength = 512
)

// Summarizer asks the LLM endpoint about a vulnerability.
type Summarizer interface {
	// Summarize returns the completion for details rendered with the mode's prompt template.
	// On failure it returns both a displayable placeholder text and a non-nil *Error.
	Summarize(ctx context.Context, details string, mode Mode, extra string) (string, error)
}

// Error is returned when a completion could not be obtained. StatusCode is zero when the
// endpoint was not reached or answered with an unusable body.
type Error struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm responded with status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("llm request failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Placeholder is the displayable text returned alongside an *Error.
func Placeholder(err error) string {
	return "Error generating response: " + err.Error()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type client struct {
	config  etc.GenAI
	http    *http.Client
	metrics *metrics.Metrics
}

// NewClient constructs a Summarizer for an OpenAI-compatible chat completions endpoint.
func NewClient(config etc.GenAI, m *metrics.Metrics) Summarizer {
	return &client{
		config: config,
		http: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		metrics: m,
	}
}

func (c *client) Summarize(ctx context.Context, details string, mode Mode, extra string) (string, error) {
	if _, ok := userPrompts[mode]; !ok {
		mode = ModeSummary
	}
	log := slog.With(slog.String("mode", mode.String()), slog.String("model", c.config.Model))

	text, err := c.complete(ctx, systemPrompt, buildUserPrompt(details, mode, extra))
	if err != nil {
		c.metrics.SummaryRequests.WithLabelValues(mode.String(), "error").Inc()
		log.Error("Error while generating completion", slog.String("err", err.Error()))
		return Placeholder(err), err
	}

	c.metrics.SummaryRequests.WithLabelValues(mode.String(), "success").Inc()
	log.Debug("Generated completion", slog.Int("length", len(text)))
	return text, nil
}

func (c *client) complete(ctx context.Context, system, user string) (string, error) {
	b, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	})
	if err != nil {
		return "", &Error{Err: xerrors.Errorf("marshalling request: %w", err)}
	}

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + pathChatCompletions
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", &Error{Err: xerrors.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	res, err := c.http.Do(req)
	if err != nil {
		return "", &Error{Err: xerrors.Errorf("sending request: %w", err)}
	}
	defer func() {
		_ = res.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return "", &Error{Err: xerrors.Errorf("reading response: %w", err)}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		text := string(body)
		if len(text) > maxErrorBodyLength {
			text = text[:maxErrorBodyLength]
		}
		return "", &Error{
			StatusCode: res.StatusCode,
			Body:       text,
			Err:        xerrors.Errorf("unexpected status: %s", res.Status),
		}
	}

	var completion chatResponse
	if err = json.Unmarshal(body, &completion); err != nil {
		return "", &Error{Err: xerrors.Errorf("decoding response: %w", err)}
	}
	if len(completion.Choices) == 0 {
		return "", &Error{Err: xerrors.New("response has no choices")}
	}

	return completion.Choices[0].Message.Content, nil
}
