// Package anyllm provides a completion client backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface
// covering OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// local llama.cpp/llamafile servers.
//
// Use this backend when a completion profile must talk a protocol other than
// OpenAI chat completions; for plain OpenAI-compatible endpoints prefer the
// openai package.
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/parley-ai/parley/pkg/provider/completion"
	"github.com/parley-ai/parley/pkg/turn"
)

// Client implements completion.Client by wrapping any-llm-go.
type Client struct {
	backend     anyllmlib.Provider
	model       string
	maxTokens   int
	temperature float64
}

// Compile-time assertion that Client satisfies completion.Client.
var _ completion.Client = (*Client)(nil)

// New creates a Client backed by the given vendor name.
//
// vendor is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile". model is the vendor-specific
// model name. maxTokens caps completion output (0 = vendor default) and
// temperature sets sampling (0 = vendor default).
//
// opts are any-llm-go options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). Without an API key option, the vendor's usual
// environment variable is consulted.
func New(vendor, model string, maxTokens int, temperature float64, opts ...anyllmlib.Option) (*Client, error) {
	if vendor == "" {
		return nil, fmt.Errorf("anyllm: vendor must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(vendor, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", vendor, err)
	}

	return &Client{
		backend:     backend,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}, nil
}

// createBackend creates the underlying any-llm-go provider for vendor.
func createBackend(vendor string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(vendor) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported vendor %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", vendor)
	}
}

// Stream implements completion.Client.
func (c *Client) Stream(ctx context.Context, msgs []turn.Message) (<-chan completion.Chunk, error) {
	params := c.buildParams(msgs)

	backendChunks, backendErrs := c.backend.CompletionStream(ctx, params)

	ch := make(chan completion.Chunk, 32)
	go func() {
		defer close(ch)

		for chunk := range backendChunks {
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

		// Backend errors are delivered after the chunk channel is drained.
		if err := <-backendErrs; err != nil {
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
	resp, err := c.backend.Completion(ctx, c.buildParams(msgs))
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("anyllm: empty choices in response: %w", completion.ErrProtocol)
	}
	return completion.StripReasoning(resp.Choices[0].Message.ContentString()), nil
}

// buildParams converts messages into any-llm CompletionParams.
func (c *Client) buildParams(msgs []turn.Message) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, len(msgs))
	for i, m := range msgs {
		messages[i] = anyllmlib.Message{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}

	params := anyllmlib.CompletionParams{
		Model:    c.model,
		Messages: messages,
	}
	if c.temperature != 0 {
		t := c.temperature
		params.Temperature = &t
	}
	if c.maxTokens > 0 {
		mt := c.maxTokens
		params.MaxTokens = &mt
	}
	return params
}

// classify maps an any-llm error onto the completion error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", completion.ErrUnavailable, err)
	}

	return fmt.Errorf("%w: %v", completion.ErrProtocol, err)
}
