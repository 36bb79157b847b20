package llm

import (
	"context"
)

// Transport performs a single chat-completion call with the given API key.
// Implementations must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, messages []ChatMessage, apiKey string) (*ChatResponse, error)
}

// TransportFunc adapts a plain function to the Transport interface
type TransportFunc func(ctx context.Context, messages []ChatMessage, apiKey string) (*ChatResponse, error)

// Send implements Transport
func (f TransportFunc) Send(ctx context.Context, messages []ChatMessage, apiKey string) (*ChatResponse, error) {
	return f(ctx, messages, apiKey)
}
