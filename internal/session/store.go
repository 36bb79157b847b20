// Package session keeps named, append-only logs of request/response pairs.
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/themobileprof/chatmanager/pkg/llm"
)

// Exchange is one logged request and its response. Response is nil when the
// call failed.
type Exchange struct {
	Request  []llm.ChatMessage
	Response *llm.ChatResponse
	At       time.Time
}

// Formatter turns an exchange into the value written by Export
type Formatter func(request []llm.ChatMessage, response *llm.ChatResponse) any

// DefaultFormatter renders [request_messages, response_text] where a missing
// response (or a response without choices) renders as "None".
func DefaultFormatter(request []llm.ChatMessage, response *llm.ChatResponse) any {
	text := "None"
	if response != nil {
		if content, ok := response.Text(0); ok {
			text = content
		}
	}
	return []any{request, text}
}

// Session is an append-only log. All methods are safe for concurrent use.
type Session struct {
	name      string
	exchanges []Exchange
	mu        sync.RWMutex
}

func newSession(name string) *Session {
	return &Session{
		name:      name,
		exchanges: make([]Exchange, 0),
	}
}

// Name returns the session name
func (s *Session) Name() string {
	return s.name
}

// Push appends an exchange. The request is copied so later changes by the
// caller do not alter the log.
func (s *Session) Push(request []llm.ChatMessage, response *llm.ChatResponse) {
	logged := make([]llm.ChatMessage, len(request))
	copy(logged, request)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.exchanges = append(s.exchanges, Exchange{
		Request:  logged,
		Response: response,
		At:       time.Now(),
	})
}

// Len returns the number of logged exchanges
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exchanges)
}

// Exchanges returns a copy of the log in append order
func (s *Session) Exchanges() []Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Exchange, len(s.exchanges))
	copy(out, s.exchanges)
	return out
}

// Export applies formatter to every exchange in order and returns the results
// as an indented JSON array. A nil formatter means DefaultFormatter.
func (s *Session) Export(formatter Formatter) (string, error) {
	if formatter == nil {
		formatter = DefaultFormatter
	}

	exchanges := s.Exchanges()
	entries := make([]any, len(exchanges))
	for i, ex := range exchanges {
		entries[i] = formatter(ex.Request, ex.Response)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to export session %q: %w", s.name, err)
	}
	return string(data), nil
}

// Store holds every session of the process. Sessions are never deleted.
type Store struct {
	sessions map[string]*Session
	order    []string
	mu       sync.RWMutex
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		order:    make([]string, 0),
	}
}

// CreateOrGet returns the named session, creating it on first use
func (st *Store) CreateOrGet(name string) *Session {
	st.mu.RLock()
	s, exists := st.sessions[name]
	st.mu.RUnlock()
	if exists {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	// another caller may have created it between the locks
	if s, exists := st.sessions[name]; exists {
		return s
	}
	s = newSession(name)
	st.sessions[name] = s
	st.order = append(st.order, name)
	return s
}

// Find returns the named session if it exists
func (st *Store) Find(name string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, exists := st.sessions[name]
	return s, exists
}

// Names returns session names in creation order
func (st *Store) Names() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	names := make([]string, len(st.order))
	copy(names, st.order)
	return names
}
