// Package dispatch sends chat requests with rotated credentials and logs
// every exchange to the current session.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/themobileprof/chatmanager/internal/circuitbreaker"
	"github.com/themobileprof/chatmanager/internal/keys"
	"github.com/themobileprof/chatmanager/internal/logger"
	"github.com/themobileprof/chatmanager/internal/privacy"
	"github.com/themobileprof/chatmanager/internal/ratelimit"
	"github.com/themobileprof/chatmanager/internal/session"
	"github.com/themobileprof/chatmanager/pkg/llm"
)

const (
	DefaultConcurrency = 5
	DefaultTimeout     = 60 * time.Second
)

var (
	ErrUnknownSession = errors.New("session does not exist")
	errEmptyResponse  = errors.New("transport returned no response")
)

// KeySelector is the part of the credential registry the dispatcher needs
type KeySelector interface {
	HasCredential() bool
	SelectCredential() (keys.Credential, error)
}

// Record describes one finished exchange for archiving
type Record struct {
	Session    string
	Credential string // credential name, never the secret
	Request    []llm.ChatMessage
	Response   *llm.ChatResponse
	Err        error
	Latency    time.Duration
}

// Archiver receives every finished exchange
type Archiver interface {
	Archive(ctx context.Context, rec Record) error
}

// Manager orchestrates sending requests. It owns the session store and the
// pointer to the current session.
type Manager struct {
	keys      KeySelector
	transport llm.Transport
	sessions  *session.Store

	mu      sync.RWMutex
	current *session.Session

	concurrency int
	timeout     time.Duration
	breakers    *circuitbreaker.Group
	limiter     *ratelimit.Keyed
	archive     Archiver
	log         zerolog.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger replaces the component logger
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithDefaultConcurrency sets the worker count used when SendBatch gets n <= 0
func WithDefaultConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithTimeout bounds each transport call
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithCircuitBreaker stops using a credential for resetTimeout after
// maxFailures consecutive transport failures
func WithCircuitBreaker(maxFailures int, resetTimeout time.Duration) Option {
	return func(m *Manager) {
		m.breakers = circuitbreaker.NewGroup(maxFailures, resetTimeout)
	}
}

// WithRateLimit paces calls per credential locally
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(m *Manager) {
		m.limiter = ratelimit.New(r, burst, 10*time.Minute)
	}
}

// WithArchive forwards every finished exchange to an Archiver
func WithArchive(a Archiver) Option {
	return func(m *Manager) {
		m.archive = a
	}
}

// WithSessionStore uses an existing store instead of a fresh one
func WithSessionStore(st *session.Store) Option {
	return func(m *Manager) {
		if st != nil {
			m.sessions = st
		}
	}
}

// NewManager creates a dispatcher with no current session
func NewManager(ks KeySelector, transport llm.Transport, opts ...Option) *Manager {
	m := &Manager{
		keys:        ks,
		transport:   transport,
		sessions:    session.NewStore(),
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
		log:         logger.New("dispatch"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Close releases background resources
func (m *Manager) Close() {
	if m.limiter != nil {
		m.limiter.Stop()
	}
}

// BreakerStates returns the breaker state per credential name, or nil when
// circuit breaking is disabled
func (m *Manager) BreakerStates() map[string]circuitbreaker.State {
	if m.breakers == nil {
		return nil
	}
	return m.breakers.States()
}

// ForgetCredential drops per-credential state for a removed credential
func (m *Manager) ForgetCredential(name string) {
	if m.breakers != nil {
		m.breakers.Forget(name)
	}
}

// SelectSession makes the named session current, creating it if needed
func (m *Manager) SelectSession(name string) *session.Session {
	s := m.sessions.CreateOrGet(name)

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	m.log.Debug().Str("session", name).Msg("session selected")
	return s
}

// CurrentSession returns the current session or nil
func (m *Manager) CurrentSession() *session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Sessions returns the session store
func (m *Manager) Sessions() *session.Store {
	return m.sessions
}

// IsReady reports whether credentials exist and a session is selected
func (m *Manager) IsReady() bool {
	return m.CurrentSession() != nil && m.keys.HasCredential()
}

// ExportSession exports the named session with formatter (nil for the default)
func (m *Manager) ExportSession(name string, formatter session.Formatter) (string, error) {
	s, ok := m.sessions.Find(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSession, name)
	}
	return s.Export(formatter)
}

// Send dispatches one request. It returns nil when the manager is not ready
// or the call failed; failures are logged, never returned.
func (m *Manager) Send(ctx context.Context, messages []llm.ChatMessage) *llm.ChatResponse {
	sess := m.CurrentSession()
	if sess == nil || !m.keys.HasCredential() {
		m.log.Debug().Bool("has_session", sess != nil).Msg("not ready, request dropped")
		return nil
	}
	return m.send(ctx, sess, messages)
}

// SendBatch dispatches every request on up to concurrency workers
// (n <= 0 uses the default) and returns the results in input order.
func (m *Manager) SendBatch(ctx context.Context, batch [][]llm.ChatMessage, concurrency int) []*llm.ChatResponse {
	results := make([]*llm.ChatResponse, len(batch))

	sess := m.CurrentSession()
	if sess == nil || !m.keys.HasCredential() {
		m.log.Debug().Int("requests", len(batch)).Msg("not ready, batch dropped")
		return results
	}

	if concurrency <= 0 {
		concurrency = m.concurrency
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, messages := range batch {
		g.Go(func() error {
			results[i] = m.send(ctx, sess, messages)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (m *Manager) send(ctx context.Context, sess *session.Session, messages []llm.ChatMessage) *llm.ChatResponse {
	cred, err := m.keys.SelectCredential()
	if err != nil {
		// the last credential was removed after the readiness check
		m.log.Warn().Err(err).Msg("no credential available")
		return nil
	}

	start := time.Now()
	resp, err := m.call(ctx, cred, messages)
	latency := time.Since(start)

	sess.Push(messages, resp)

	if err != nil {
		msg := err.Error()
		m.log.Warn().
			Str("session", sess.Name()).
			Str("credential", cred.Name).
			Dur("latency", latency).
			Bool("redacted", privacy.ContainsSecret(msg)).
			Str("error", privacy.SanitizeForLogging(msg)).
			Msg("chat completion failed")
	} else {
		m.log.Debug().
			Str("session", sess.Name()).
			Str("credential", cred.Name).
			Dur("latency", latency).
			Int("total_tokens", resp.TokenUsage()).
			Msg("chat completion received")
	}

	if m.archive != nil {
		rec := Record{
			Session:    sess.Name(),
			Credential: cred.Name,
			Request:    messages,
			Response:   resp,
			Err:        err,
			Latency:    latency,
		}
		if aerr := m.archive.Archive(ctx, rec); aerr != nil {
			m.log.Error().Err(aerr).Str("session", sess.Name()).Msg("failed to archive exchange")
		}
	}

	return resp
}

// call performs the transport call for one credential, guarded by the
// optional limiter and breaker. Panics in the transport become errors.
func (m *Manager) call(ctx context.Context, cred keys.Credential, messages []llm.ChatMessage) (*llm.ChatResponse, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx, cred.Name); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var resp *llm.ChatResponse
	fn := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("transport panic: %v", r)
			}
		}()

		resp, err = m.transport.Send(callCtx, messages, cred.Secret)
		if err == nil && resp == nil {
			err = errEmptyResponse
		}
		return err
	}

	var err error
	if m.breakers != nil {
		err = m.breakers.Call(cred.Name, fn)
	} else {
		err = fn()
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}
