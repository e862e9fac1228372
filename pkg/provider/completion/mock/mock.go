// Package mock provides a test double for the completion.Client interface.
//
// Use Client in unit tests to feed controlled streams into the session engine
// without a live backend. All configurable fields must be set before first
// use; call records may be read after the test synchronises with the code
// under test.
package mock

import (
	"context"
	"sync"

	"github.com/parley-ai/parley/pkg/provider/completion"
	"github.com/parley-ai/parley/pkg/turn"
)

// Client is a mock implementation of completion.Client.
// Zero values cause methods to return zero values and nil errors.
type Client struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// StreamChunks is the sequence of Chunk values emitted on the channel
	// returned by Stream, in order, before the channel is closed.
	StreamChunks []completion.Chunk

	// StreamErr, if non-nil, is returned from Stream instead of a channel.
	StreamErr error

	// Hold, when non-nil, keeps the stream channel open after all
	// StreamChunks have been emitted until Hold is closed or the stream
	// context is cancelled. Used to test cancellation mid-stream.
	Hold chan struct{}

	// CompleteText is returned by Complete.
	CompleteText string

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// --- Call records ---

	// StreamCalls records the messages passed to each Stream invocation.
	StreamCalls [][]turn.Message

	// CompleteCalls records the messages passed to each Complete invocation.
	CompleteCalls [][]turn.Message
}

// Compile-time assertion that Client satisfies completion.Client.
var _ completion.Client = (*Client)(nil)

// Stream records the call and returns a channel emitting StreamChunks.
func (c *Client) Stream(ctx context.Context, msgs []turn.Message) (<-chan completion.Chunk, error) {
	c.mu.Lock()
	c.StreamCalls = append(c.StreamCalls, msgs)
	if c.StreamErr != nil {
		err := c.StreamErr
		c.mu.Unlock()
		return nil, err
	}
	chunks := make([]completion.Chunk, len(c.StreamChunks))
	copy(chunks, c.StreamChunks)
	hold := c.Hold
	c.mu.Unlock()

	ch := make(chan completion.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, chunk := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- chunk:
			}
		}
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns CompleteText / CompleteErr.
func (c *Client) Complete(ctx context.Context, msgs []turn.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CompleteCalls = append(c.CompleteCalls, msgs)
	if c.CompleteErr != nil {
		return "", c.CompleteErr
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.CompleteText, nil
}

// StreamCallCount returns the number of Stream invocations so far.
func (c *Client) StreamCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.StreamCalls)
}

// CompleteCallCount returns the number of Complete invocations so far.
func (c *Client) CompleteCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.CompleteCalls)
}
