package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/themobileprof/chatmanager/internal/keys"
	"github.com/themobileprof/chatmanager/internal/logger"
	"github.com/themobileprof/chatmanager/pkg/llm"
	"github.com/themobileprof/chatmanager/pkg/openai"
)

func newRegistry(t *testing.T, n int) *keys.Registry {
	t.Helper()
	r := keys.NewRegistry()
	for i := 1; i <= n; i++ {
		require.NoError(t, r.Add(fmt.Sprintf("key%d", i), fmt.Sprintf("sk-secret%d", i)))
	}
	return r
}

func newTestManager(ks KeySelector, transport llm.Transport, opts ...Option) *Manager {
	opts = append([]Option{WithLogger(logger.Nop())}, opts...)
	return NewManager(ks, transport, opts...)
}

func userMessage(content string) []llm.ChatMessage {
	return llm.NewMessages().PushUser(content).Drain()
}

// echoTransport replies with the content of the last message
func echoTransport(delay func(string) time.Duration) *openai.MockClient {
	mock := openai.NewMockClient()
	mock.SendFunc = func(ctx context.Context, messages []llm.ChatMessage, apiKey string) (*llm.ChatResponse, error) {
		content := messages[len(messages)-1].Content
		if delay != nil {
			select {
			case <-time.After(delay(content)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return openai.MockResponse(content), nil
	}
	return mock
}

type recordingArchiver struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (a *recordingArchiver) Archive(ctx context.Context, rec Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return a.err
}

func TestManager_NotReady(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		mock := openai.NewMockClient()
		m := newTestManager(newRegistry(t, 1), mock)

		assert.False(t, m.IsReady())
		assert.Nil(t, m.Send(context.Background(), userMessage("hi")))
		assert.Equal(t, 0, mock.CallCount())
	})

	t.Run("no credentials", func(t *testing.T) {
		mock := openai.NewMockClient()
		m := newTestManager(keys.NewRegistry(), mock)
		m.SelectSession("default")

		assert.False(t, m.IsReady())
		assert.Nil(t, m.Send(context.Background(), userMessage("hi")))
		assert.Equal(t, 0, mock.CallCount())
		assert.Equal(t, 0, m.CurrentSession().Len())
	})

	t.Run("batch returns one nil per request", func(t *testing.T) {
		mock := openai.NewMockClient()
		m := newTestManager(keys.NewRegistry(), mock)
		m.SelectSession("default")

		batch := [][]llm.ChatMessage{userMessage("a"), userMessage("b"), userMessage("c")}
		results := m.SendBatch(context.Background(), batch, 2)

		require.Len(t, results, 3)
		for _, r := range results {
			assert.Nil(t, r)
		}
		assert.Equal(t, 0, mock.CallCount())
	})
}

func TestManager_SendLogsExchange(t *testing.T) {
	mock := echoTransport(nil)
	reg := newRegistry(t, 2)
	m := newTestManager(reg, mock)
	sess := m.SelectSession("chat")

	require.True(t, m.IsReady())
	resp := m.Send(context.Background(), userMessage("hello"))
	require.NotNil(t, resp)

	text, ok := resp.Text(0)
	assert.True(t, ok)
	assert.Equal(t, "hello", text)

	exchanges := sess.Exchanges()
	require.Len(t, exchanges, 1)
	assert.Equal(t, "hello", exchanges[0].Request[0].Content)
	assert.Same(t, resp, exchanges[0].Response)

	assert.Equal(t, []string{"sk-secret1"}, mock.KeysUsed())
}

func TestManager_SendRotatesCredentials(t *testing.T) {
	mock := echoTransport(nil)
	m := newTestManager(newRegistry(t, 3), mock)
	m.SelectSession("default")

	for i := 0; i < 4; i++ {
		require.NotNil(t, m.Send(context.Background(), userMessage("x")))
	}
	assert.Equal(t, []string{"sk-secret1", "sk-secret2", "sk-secret3", "sk-secret1"}, mock.KeysUsed())
}

func TestManager_TransportFailures(t *testing.T) {
	tests := []struct {
		name string
		send func(context.Context, []llm.ChatMessage, string) (*llm.ChatResponse, error)
	}{
		{
			name: "error",
			send: func(context.Context, []llm.ChatMessage, string) (*llm.ChatResponse, error) {
				return nil, &openai.APIError{StatusCode: 401, Body: "Incorrect API key provided: sk-secret1"}
			},
		},
		{
			name: "nil response",
			send: func(context.Context, []llm.ChatMessage, string) (*llm.ChatResponse, error) {
				return nil, nil
			},
		},
		{
			name: "panic",
			send: func(context.Context, []llm.ChatMessage, string) (*llm.ChatResponse, error) {
				panic("connection reset")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := openai.NewMockClient()
			mock.SendFunc = tt.send
			m := newTestManager(newRegistry(t, 1), mock)
			sess := m.SelectSession("default")

			assert.Nil(t, m.Send(context.Background(), userMessage("hi")))

			exchanges := sess.Exchanges()
			require.Len(t, exchanges, 1, "failed exchanges are still logged")
			assert.Nil(t, exchanges[0].Response)
		})
	}
}

func TestManager_TimeoutMapsToNil(t *testing.T) {
	mock := echoTransport(func(string) time.Duration { return time.Hour })
	m := newTestManager(newRegistry(t, 1), mock, WithTimeout(20*time.Millisecond))
	m.SelectSession("default")

	start := time.Now()
	assert.Nil(t, m.Send(context.Background(), userMessage("slow")))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestManager_SendBatchPreservesOrder(t *testing.T) {
	// later requests finish first
	mock := echoTransport(func(content string) time.Duration {
		var i int
		fmt.Sscanf(content, "req-%d", &i)
		return time.Duration(20-i) * time.Millisecond
	})
	m := newTestManager(newRegistry(t, 3), mock)
	sess := m.SelectSession("batch")

	batch := make([][]llm.ChatMessage, 20)
	for i := range batch {
		batch[i] = userMessage(fmt.Sprintf("req-%d", i))
	}

	results := m.SendBatch(context.Background(), batch, 4)
	require.Len(t, results, len(batch))
	for i, r := range results {
		require.NotNil(t, r, "result %d", i)
		text, _ := r.Text(0)
		assert.Equal(t, fmt.Sprintf("req-%d", i), text)
	}
	assert.Equal(t, len(batch), sess.Len())
}

func TestManager_SendBatchBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	mock := openai.NewMockClient()
	mock.SendFunc = func(ctx context.Context, messages []llm.ChatMessage, apiKey string) (*llm.ChatResponse, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return openai.MockResponse("ok"), nil
	}

	m := newTestManager(newRegistry(t, 2), mock)
	m.SelectSession("default")

	batch := make([][]llm.ChatMessage, 12)
	for i := range batch {
		batch[i] = userMessage("x")
	}

	results := m.SendBatch(context.Background(), batch, 3)
	assert.Len(t, results, 12)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 12, mock.CallCount())
}

func TestManager_SendBatchDefaultConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	mock := openai.NewMockClient()
	mock.SendFunc = func(ctx context.Context, messages []llm.ChatMessage, apiKey string) (*llm.ChatResponse, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return openai.MockResponse("ok"), nil
	}

	m := newTestManager(newRegistry(t, 1), mock, WithDefaultConcurrency(2))
	m.SelectSession("default")

	batch := make([][]llm.ChatMessage, 8)
	for i := range batch {
		batch[i] = userMessage("x")
	}
	m.SendBatch(context.Background(), batch, 0)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestManager_SendBatchSpreadsUsage(t *testing.T) {
	reg := newRegistry(t, 3)
	m := newTestManager(reg, echoTransport(nil))
	m.SelectSession("default")

	batch := make([][]llm.ChatMessage, 9)
	for i := range batch {
		batch[i] = userMessage("x")
	}
	m.SendBatch(context.Background(), batch, 5)

	for _, u := range reg.Stats() {
		assert.Equal(t, 3, u.Uses, u.Name)
	}
}

func TestManager_MixedBatchFailures(t *testing.T) {
	mock := openai.NewMockClient()
	mock.SendFunc = func(ctx context.Context, messages []llm.ChatMessage, apiKey string) (*llm.ChatResponse, error) {
		if messages[0].Content == "bad" {
			return nil, errors.New("boom")
		}
		return openai.MockResponse("ok"), nil
	}
	m := newTestManager(newRegistry(t, 2), mock)
	sess := m.SelectSession("default")

	results := m.SendBatch(context.Background(), [][]llm.ChatMessage{
		userMessage("good"), userMessage("bad"), userMessage("good"),
	}, 2)

	require.Len(t, results, 3)
	assert.NotNil(t, results[0])
	assert.Nil(t, results[1])
	assert.NotNil(t, results[2])
	assert.Equal(t, 3, sess.Len())
}

func TestManager_CircuitBreakerSkipsTransport(t *testing.T) {
	mock := openai.NewMockClient()
	mock.SendFunc = func(context.Context, []llm.ChatMessage, string) (*llm.ChatResponse, error) {
		return nil, errors.New("upstream down")
	}
	m := newTestManager(newRegistry(t, 1), mock, WithCircuitBreaker(1, time.Hour))
	sess := m.SelectSession("default")

	assert.Nil(t, m.Send(context.Background(), userMessage("one")))
	assert.Nil(t, m.Send(context.Background(), userMessage("two")))

	assert.Equal(t, 1, mock.CallCount(), "open breaker short-circuits the transport")
	assert.Equal(t, 2, sess.Len())
}

func TestManager_RateLimitWaitFailure(t *testing.T) {
	mock := echoTransport(nil)
	m := newTestManager(newRegistry(t, 1), mock, WithRateLimit(rate.Every(time.Hour), 1))
	defer m.Close()
	m.SelectSession("default")

	require.NotNil(t, m.Send(context.Background(), userMessage("first")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Nil(t, m.Send(ctx, userMessage("second")))
	assert.Equal(t, 1, mock.CallCount())
}

func TestManager_Archive(t *testing.T) {
	arch := &recordingArchiver{err: errors.New("database unavailable")}
	mock := openai.NewMockClient()
	mock.SendFunc = func(ctx context.Context, messages []llm.ChatMessage, apiKey string) (*llm.ChatResponse, error) {
		if messages[0].Content == "fail" {
			return nil, errors.New("boom")
		}
		return openai.MockResponse("ok"), nil
	}
	m := newTestManager(newRegistry(t, 1), mock, WithArchive(arch))
	m.SelectSession("archived")

	assert.NotNil(t, m.Send(context.Background(), userMessage("ok")), "archive errors do not affect the result")
	assert.Nil(t, m.Send(context.Background(), userMessage("fail")))

	require.Len(t, arch.records, 2)
	assert.Equal(t, "archived", arch.records[0].Session)
	assert.Equal(t, "key1", arch.records[0].Credential)
	assert.NotNil(t, arch.records[0].Response)
	assert.NoError(t, arch.records[0].Err)

	assert.Nil(t, arch.records[1].Response)
	assert.Error(t, arch.records[1].Err)
}

func TestManager_SelectSession(t *testing.T) {
	m := newTestManager(newRegistry(t, 1), echoTransport(nil))

	assert.Nil(t, m.CurrentSession())

	a := m.SelectSession("a")
	m.Send(context.Background(), userMessage("to a"))
	b := m.SelectSession("b")
	assert.Same(t, b, m.CurrentSession())

	again := m.SelectSession("a")
	assert.Same(t, a, again, "existing sessions are reused")
	assert.Equal(t, 1, again.Len())
	assert.Equal(t, []string{"a", "b"}, m.Sessions().Names())
}

func TestManager_ExportSession(t *testing.T) {
	m := newTestManager(newRegistry(t, 1), echoTransport(nil))
	m.SelectSession("default")
	m.Send(context.Background(), userMessage("hello"))

	out, err := m.ExportSession("default", nil)
	require.NoError(t, err)
	assert.Contains(t, out, `"hello"`)

	_, err = m.ExportSession("missing", nil)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestManager_ConcurrentSendsCountEveryUse(t *testing.T) {
	reg := newRegistry(t, 4)
	m := newTestManager(reg, echoTransport(nil))
	sess := m.SelectSession("default")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				m.Send(context.Background(), userMessage("x"))
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, u := range reg.Stats() {
		assert.Equal(t, 50, u.Uses, u.Name)
		total += u.Uses
	}
	assert.Equal(t, 200, total)
	assert.Equal(t, 200, sess.Len())
}

func TestManager_BreakerStates(t *testing.T) {
	plain := newTestManager(newRegistry(t, 1), echoTransport(nil))
	assert.Nil(t, plain.BreakerStates())
	plain.ForgetCredential("key1")

	mock := openai.NewMockClient()
	mock.SendFunc = func(context.Context, []llm.ChatMessage, string) (*llm.ChatResponse, error) {
		return nil, errors.New("down")
	}
	m := newTestManager(newRegistry(t, 1), mock, WithCircuitBreaker(1, time.Hour))
	m.SelectSession("default")
	m.Send(context.Background(), userMessage("x"))

	states := m.BreakerStates()
	require.Contains(t, states, "key1")
	assert.Equal(t, "open", states["key1"].String())

	m.ForgetCredential("key1")
	assert.NotContains(t, m.BreakerStates(), "key1")
}

func TestManager_SharedSessionStoreAndFuncTransport(t *testing.T) {
	var calls atomic.Int32
	transport := llm.TransportFunc(func(ctx context.Context, messages []llm.ChatMessage, apiKey string) (*llm.ChatResponse, error) {
		calls.Add(1)
		return openai.MockResponse("ok"), nil
	})

	first := newTestManager(newRegistry(t, 1), transport)
	first.SelectSession("shared")
	require.NotNil(t, first.Send(context.Background(), userMessage("one")))

	second := newTestManager(newRegistry(t, 1), transport, WithSessionStore(first.Sessions()))
	sess := second.SelectSession("shared")
	require.NotNil(t, second.Send(context.Background(), userMessage("two")))

	assert.Equal(t, 2, sess.Len(), "both managers log to the same session")
	assert.Equal(t, int32(2), calls.Load())
}

func TestManager_FailureLogRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	mock := openai.NewMockClient()
	mock.SendFunc = func(context.Context, []llm.ChatMessage, string) (*llm.ChatResponse, error) {
		return nil, &openai.APIError{StatusCode: 401, Body: "Incorrect API key provided: sk-secret1abcdef"}
	}
	m := NewManager(newRegistry(t, 1), mock, WithLogger(zerolog.New(&buf)))
	m.SelectSession("default")

	assert.Nil(t, m.Send(context.Background(), userMessage("hi")))

	out := buf.String()
	assert.NotContains(t, out, "sk-secret1abcdef")
	assert.Contains(t, out, "[API_KEY]")
	assert.Contains(t, out, `"redacted":true`)
}
