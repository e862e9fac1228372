// Package openai provides a completion client backed by any OpenAI-compatible
// chat-completions endpoint (OpenAI itself, LM Studio, vLLM, llama.cpp server).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/parley-ai/parley/pkg/provider/completion"
	"github.com/parley-ai/parley/pkg/turn"
)

// Client implements completion.Client using the OpenAI SDK.
type Client struct {
	client      oai.Client
	model       string
	maxTokens   int
	temperature float64
}

// config holds optional configuration for the client.
type config struct {
	baseURL     string
	timeout     time.Duration
	maxTokens   int
	temperature float64
}

// Option is a functional option for Client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Set this to target a
// local OpenAI-compatible server (e.g., "http://localhost:1234/v1").
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxTokens caps the number of completion tokens per request. Responses
// exceeding the cap are truncated by the backend, not treated as an error.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = n }
}

// WithTemperature sets the sampling temperature for all requests.
func WithTemperature(t float64) Option {
	return func(c *config) { c.temperature = t }
}

// New constructs a Client for the given model. apiKey may be a placeholder
// for local servers that do not check credentials, but must not be empty.
func New(apiKey string, model string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Client{
		client:      oai.NewClient(reqOpts...),
		model:       model,
		maxTokens:   cfg.maxTokens,
		temperature: cfg.temperature,
	}, nil
}

// Compile-time assertion that Client satisfies completion.Client.
var _ completion.Client = (*Client)(nil)

// Stream implements completion.Client.
func (c *Client) Stream(ctx context.Context, msgs []turn.Message) (<-chan completion.Chunk, error) {
	params, err := c.buildParams(msgs)
	if err != nil {
		return nil, err
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, classify(err)
	}

	ch := make(chan completion.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			out := completion.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- completion.Chunk{Err: classify(err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Complete implements completion.Client. Reasoning traces are stripped from
// the returned text.
func (c *Client) Complete(ctx context.Context, msgs []turn.Message) (string, error) {
	params, err := c.buildParams(msgs)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response: %w", completion.ErrProtocol)
	}

	return completion.StripReasoning(resp.Choices[0].Message.Content), nil
}

// buildParams converts messages into OpenAI SDK params using the client's
// configured model, token cap, and temperature.
func (c *Client) buildParams(msgs []turn.Message) (oai.ChatCompletionNewParams, error) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case turn.RoleSystem:
			messages = append(messages, oai.SystemMessage(m.Content))
		case turn.RoleUser:
			messages = append(messages, oai.UserMessage(m.Content))
		case turn.RoleAssistant:
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: unknown message role %q", m.Role)
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	if c.temperature != 0 {
		params.Temperature = param.NewOpt(c.temperature)
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(c.maxTokens))
	}
	return params, nil
}

// classify maps an SDK or transport error onto the completion error taxonomy.
// Context errors pass through unwrapped so callers can distinguish
// cancellation from timeout.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apierr *oai.Error
	if errors.As(err, &apierr) {
		return &completion.BackendError{Status: apierr.StatusCode, Message: apierr.Message}
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", completion.ErrUnavailable, err)
	}

	return fmt.Errorf("%w: %v", completion.ErrProtocol, err)
}
