package openai

import (
	"context"
	"sync"

	"github.com/themobileprof/chatmanager/pkg/llm"
)

// Call records one Send invocation on a MockClient
type Call struct {
	Messages []llm.ChatMessage
	APIKey   string
}

// MockClient implements llm.Transport for testing
type MockClient struct {
	mu sync.Mutex

	// SendFunc allows customizing the behavior
	SendFunc func(context.Context, []llm.ChatMessage, string) (*llm.ChatResponse, error)

	// Tracking for assertions
	Calls []Call
}

var _ llm.Transport = (*MockClient)(nil)

// NewMockClient creates a new mock client with default behavior
func NewMockClient() *MockClient {
	return &MockClient{
		Calls: make([]Call, 0),
	}
}

// Send implements llm.Transport
func (m *MockClient) Send(ctx context.Context, messages []llm.ChatMessage, apiKey string) (*llm.ChatResponse, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, Call{Messages: messages, APIKey: apiKey})
	m.mu.Unlock()

	if m.SendFunc != nil {
		return m.SendFunc(ctx, messages, apiKey)
	}

	return MockResponse("This is a mock response."), nil
}

// MockResponse builds a single-choice response with fixed usage counters
func MockResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:      "mock-response-1",
		Object:  "chat.completion",
		Created: 1234567890,
		Model:   DefaultModel,
		Choices: []llm.Choice{
			{
				Index:        0,
				Message:      llm.ChatMessage{Role: llm.RoleAssistant, Content: content},
				FinishReason: "stop",
			},
		},
		Usage: llm.Usage{
			PromptTokens:     10,
			CompletionTokens: 5,
			TotalTokens:      15,
		},
	}
}

// Reset clears the call history
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = make([]Call, 0)
}

// CallCount returns the number of calls made
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// KeysUsed returns the API key of every call in call order
func (m *MockClient) KeysUsed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		keys[i] = c.APIKey
	}
	return keys
}
