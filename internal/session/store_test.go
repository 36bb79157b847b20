package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/themobileprof/chatmanager/pkg/llm"
)

func reply(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID: "resp",
		Choices: []llm.Choice{
			{Message: llm.ChatMessage{Role: llm.RoleAssistant, Content: content}, FinishReason: "stop"},
		},
	}
}

func TestStore_CreateOrGetIsIdempotent(t *testing.T) {
	st := NewStore()

	s1 := st.CreateOrGet("s1")
	s1.Push([]llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}}, nil)

	again := st.CreateOrGet("s1")
	assert.Same(t, s1, again)
	assert.Equal(t, 1, again.Len())

	st.CreateOrGet("s2")
	assert.Equal(t, []string{"s1", "s2"}, st.Names())
}

func TestStore_Find(t *testing.T) {
	st := NewStore()

	_, ok := st.Find("missing")
	assert.False(t, ok)

	created := st.CreateOrGet("x")
	found, ok := st.Find("x")
	assert.True(t, ok)
	assert.Same(t, created, found)
	assert.Equal(t, "x", found.Name())
}

func TestSession_PushKeepsOrder(t *testing.T) {
	s := NewStore().CreateOrGet("s")
	for i := 0; i < 3; i++ {
		s.Push([]llm.ChatMessage{{Role: llm.RoleUser, Content: fmt.Sprint(i)}}, reply(fmt.Sprint("r", i)))
	}

	exchanges := s.Exchanges()
	require.Len(t, exchanges, 3)
	for i, ex := range exchanges {
		assert.Equal(t, fmt.Sprint(i), ex.Request[0].Content)
		text, _ := ex.Response.Text(0)
		assert.Equal(t, fmt.Sprint("r", i), text)
		assert.False(t, ex.At.IsZero())
	}
}

func TestSession_ExportDefault(t *testing.T) {
	s := NewStore().CreateOrGet("s")
	s.Push([]llm.ChatMessage{{Role: llm.RoleUser, Content: "hello"}}, reply("hi there"))
	s.Push([]llm.ChatMessage{{Role: llm.RoleUser, Content: "again"}}, nil)
	s.Push([]llm.ChatMessage{{Role: llm.RoleUser, Content: "empty"}}, &llm.ChatResponse{})

	out, err := s.Export(nil)
	require.NoError(t, err)

	var decoded [][]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded, 3)

	var req []llm.ChatMessage
	require.NoError(t, json.Unmarshal(decoded[0][0], &req))
	assert.Equal(t, []llm.ChatMessage{{Role: "user", Content: "hello"}}, req)

	var texts []string
	for _, pair := range decoded {
		var text string
		require.NoError(t, json.Unmarshal(pair[1], &text))
		texts = append(texts, text)
	}
	assert.Equal(t, []string{"hi there", "None", "None"}, texts)

	assert.Contains(t, out, "\n  [", "export is indented")
}

func TestSession_ExportCustomFormatter(t *testing.T) {
	s := NewStore().CreateOrGet("s")
	s.Push([]llm.ChatMessage{{Role: llm.RoleUser, Content: "q1"}}, reply("a1"))
	s.Push([]llm.ChatMessage{{Role: llm.RoleUser, Content: "q2"}}, reply("a2"))

	out, err := s.Export(func(req []llm.ChatMessage, resp *llm.ChatResponse) any {
		text, _ := resp.Text(0)
		return map[string]string{"q": req[0].Content, "a": text}
	})
	require.NoError(t, err)

	var decoded []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, []map[string]string{{"q": "q1", "a": "a1"}, {"q": "q2", "a": "a2"}}, decoded)
}

func TestSession_ExportEmpty(t *testing.T) {
	out, err := NewStore().CreateOrGet("s").Export(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestSession_ExportUnencodable(t *testing.T) {
	s := NewStore().CreateOrGet("s")
	s.Push(nil, nil)

	_, err := s.Export(func([]llm.ChatMessage, *llm.ChatResponse) any { return make(chan int) })
	assert.Error(t, err)
}

func TestSession_ConcurrentPush(t *testing.T) {
	st := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st.CreateOrGet("shared").Push([]llm.ChatMessage{{Role: llm.RoleUser, Content: fmt.Sprint(i)}}, nil)
		}(i)
	}
	wg.Wait()

	s, ok := st.Find("shared")
	require.True(t, ok)
	assert.Equal(t, 50, s.Len())
	assert.Equal(t, []string{"shared"}, st.Names())

	seen := make(map[string]bool)
	for _, ex := range s.Exchanges() {
		seen[ex.Request[0].Content] = true
	}
	assert.Len(t, seen, 50)
}

func TestSession_PushCopiesRequest(t *testing.T) {
	s := NewStore().CreateOrGet("default")

	request := []llm.ChatMessage{{Role: llm.RoleUser, Content: "original"}}
	s.Push(request, reply("ok"))
	request[0].Content = "rewritten"

	assert.Equal(t, "original", s.Exchanges()[0].Request[0].Content)
}
