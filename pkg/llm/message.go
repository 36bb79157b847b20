package llm

import "fmt"

// Messages builds the ordered message list of a single request
type Messages struct {
	repo []ChatMessage
}

// NewMessages creates a message list seeded with msgs
func NewMessages(msgs ...ChatMessage) *Messages {
	repo := make([]ChatMessage, len(msgs))
	copy(repo, msgs)
	return &Messages{repo: repo}
}

// PushSystem appends a system message
func (m *Messages) PushSystem(content string) *Messages {
	return m.Push(ChatMessage{Role: RoleSystem, Content: content})
}

// PushUser appends a user message
func (m *Messages) PushUser(content string) *Messages {
	return m.Push(ChatMessage{Role: RoleUser, Content: content})
}

// PushAssistant appends an assistant message
func (m *Messages) PushAssistant(content string) *Messages {
	return m.Push(ChatMessage{Role: RoleAssistant, Content: content})
}

// Push appends msg
func (m *Messages) Push(msg ChatMessage) *Messages {
	m.repo = append(m.repo, msg)
	return m
}

// Set replaces the message at index
func (m *Messages) Set(index int, msg ChatMessage) error {
	if index < 0 || index >= len(m.repo) {
		return fmt.Errorf("message index %d out of range [0,%d)", index, len(m.repo))
	}
	m.repo[index] = msg
	return nil
}

// DeleteFunc removes every message for which del returns true
func (m *Messages) DeleteFunc(del func(ChatMessage) bool) {
	kept := m.repo[:0]
	for _, msg := range m.repo {
		if !del(msg) {
			kept = append(kept, msg)
		}
	}
	m.repo = kept
}

// Len returns the number of messages
func (m *Messages) Len() int {
	return len(m.repo)
}

// Drain returns a copy of the messages in order
func (m *Messages) Drain() []ChatMessage {
	out := make([]ChatMessage, len(m.repo))
	copy(out, m.repo)
	return out
}
