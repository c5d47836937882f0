// ABOUTME: Streaming chat-completions client over server-sent events
// ABOUTME: Converts each streamed chunk into a fragment.Fragment

package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/YubinMoon/servant-bot/internal/fragment"
)

const (
	chunkPrefix = "data:"
	endMessage  = "[DONE]"

	defaultBaseURL = "https://api.openai.com/v1"
	maxLineSize    = 1 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature *float64
	// Timeout bounds one whole stream, from request to last chunk.
	Timeout time.Duration
	// HTTPClient overrides the traced default client.
	HTTPClient *http.Client
}

// APIError is a non-200 response from the completion endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completion api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("completion api: status %d: %s", e.StatusCode, e.Message)
}

// Client streams completions.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a client. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return operation + " " + r.URL.Path
			}),
		)}
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With("component", "completion"),
	}
}

// Model returns the default model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Stream sends req and yields one fragment per streamed chunk. The sequence
// ends after "[DONE]", at end of body, or after the first error.
func (c *Client) Stream(ctx context.Context, req Request) iter.Seq2[fragment.Fragment, error] {
	return func(yield func(fragment.Fragment, error) bool) {
		if c.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
		}

		model := req.Model
		if model == "" {
			model = c.cfg.Model
		}

		ctx, span := tracer.Start(ctx, "completion stream")
		defer span.End()
		span.SetAttributes(
			attribute.String("request.model", model),
			attribute.Int("request.messages", len(req.Messages)),
			attribute.Int("request.tools", len(req.Tools)),
		)

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(fragment.Fragment{}, err)
		}

		resp, err := c.send(ctx, model, req)
		if err != nil {
			fail(err)
			return
		}
		defer resp.Body.Close()
		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))

		if resp.StatusCode != http.StatusOK {
			fail(readAPIError(resp))
			return
		}

		started := time.Now()
		first := true
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, chunkPrefix) {
				// blank separators, comments, event: lines
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, chunkPrefix))
			if payload == "" {
				continue
			}
			if payload == endMessage {
				return
			}

			f, err := parseChunk([]byte(payload))
			if err != nil {
				fail(err)
				return
			}
			if first {
				span.AddEvent("received first chunk")
				span.SetAttributes(attribute.Float64("response.time_to_first_chunk", time.Since(started).Seconds()))
				first = false
			}
			if f.FinishReason.Done() {
				span.SetAttributes(attribute.String("response.finish_reason", f.FinishReason.String()))
			}
			if f.Usage != nil {
				span.SetAttributes(
					attribute.Int("usage.prompt", f.Usage.PromptTokens),
					attribute.Int("usage.completion", f.Usage.CompletionTokens),
					attribute.Int("usage.total", f.Usage.TotalTokens),
				)
			}
			if f.IsEmpty() {
				continue
			}
			if !yield(f, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			fail(fmt.Errorf("reading streamed response: %w", err))
		}
	}
}

func (c *Client) send(ctx context.Context, model string, req Request) (*http.Response, error) {
	body := requestBody{
		Model:         model,
		Messages:      req.Messages,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
		Tools:         req.Tools,
		Temperature:   req.Temperature,
	}
	if body.Temperature == nil {
		body.Temperature = c.cfg.Temperature
	}
	if len(req.Tools) > 0 {
		body.ToolChoice = "auto"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	c.logger.Debug("sending completion request", "model", model, "messages", len(req.Messages))
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return resp, nil
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return apiErr
	}
	var body errorBody
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

func parseChunk(data []byte) (fragment.Fragment, error) {
	var chunk chunkBody
	if err := json.Unmarshal(data, &chunk); err != nil {
		return fragment.Fragment{}, fmt.Errorf("decoding chunk: %w", err)
	}

	f := fragment.Fragment{ID: chunk.ID, Model: chunk.Model}
	if chunk.Usage != nil {
		f.Usage = &fragment.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	if len(chunk.Choices) == 0 {
		return f, nil
	}

	choice := chunk.Choices[0]
	f.Delta.Role = choice.Delta.Role
	f.Delta.Content = choice.Delta.Content
	for _, tc := range choice.Delta.ToolCalls {
		f.Delta.ToolCalls = append(f.Delta.ToolCalls, fragment.ToolCall{
			Index:     tc.Index,
			ID:        tc.ID,
			Type:      tc.Type,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if choice.FinishReason != nil {
		reason, err := fragment.ParseFinishReason(*choice.FinishReason)
		if err != nil {
			return fragment.Fragment{}, err
		}
		f.FinishReason = reason
	}
	return f, nil
}

// IsTimeout reports whether err came from the stream deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
