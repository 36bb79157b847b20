package llm

// Roles accepted by chat-completion APIs
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage represents a message in the conversation
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// ChatRequest represents a request body for the /chat/completions endpoint
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// Choice is one completion alternative returned by the API
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage holds the token counters reported by the API
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse represents a non-streaming response
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// TokenUsage returns the total number of tokens billed for the response
func (r *ChatResponse) TokenUsage() int {
	return r.Usage.TotalTokens
}

// ChoiceNum returns the number of choices in the response
func (r *ChatResponse) ChoiceNum() int {
	return len(r.Choices)
}

// Text returns the content of the given choice. ok is false when the
// index is out of range.
func (r *ChatResponse) Text(choice int) (content string, ok bool) {
	if choice < 0 || choice >= len(r.Choices) {
		return "", false
	}
	return r.Choices[choice].Message.Content, true
}
