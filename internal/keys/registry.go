// Package keys manages a group of API credentials and decides which one
// to use for the next request.
package keys

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

// Credential is a named API secret. It is immutable once added.
type Credential struct {
	Name   string
	Secret string
}

// Usage is a read-only view of one credential's bookkeeping
type Usage struct {
	Name     string
	Uses     int
	LastUsed time.Time // zero when never used
}

// Registry holds credentials and selects among them according to a Policy.
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	creds    map[string]Credential
	usage    map[string]int
	lastUsed map[string]time.Time
	order    []string // sorted names, used for roll-polling
	cursor   int
	policy   Policy
	now      func() time.Time
	intn     func(n int) int
}

// Option configures a Registry
type Option func(*Registry)

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithRand replaces the random source used by PolicyRandom.
// intn must return a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(r *Registry) {
		r.intn = intn
	}
}

// WithPolicy sets the initial policy. Unknown policies fall back to PolicyDefault.
func WithPolicy(p Policy) Option {
	return func(r *Registry) {
		if _, ok := selectors[p]; ok {
			r.policy = p
		}
	}
}

// NewRegistry creates an empty registry using roll-polling
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		creds:    make(map[string]Credential),
		usage:    make(map[string]int),
		lastUsed: make(map[string]time.Time),
		order:    []string{},
		cursor:   unstarted,
		policy:   PolicyDefault,
		now:      time.Now,
		intn:     rand.IntN,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Add registers a credential. Names and secrets must both be unique.
func (r *Registry) Add(name, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.creds[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	if _, exists := r.nameBySecret(secret); exists {
		return fmt.Errorf("%w (name %q)", ErrDuplicateSecret, name)
	}

	r.creds[name] = Credential{Name: name, Secret: secret}
	r.rebuild()
	return nil
}

// Remove deletes a credential by name
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.creds[name]; !exists {
		return fmt.Errorf("%w: %q", ErrUnknownName, name)
	}

	delete(r.creds, name)
	r.rebuild()
	return nil
}

// HasCredential reports whether at least one credential is registered
func (r *Registry) HasCredential() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.creds) != 0
}

// Select returns the secret chosen by the active policy
func (r *Registry) Select() (string, error) {
	cred, err := r.SelectCredential()
	if err != nil {
		return "", err
	}
	return cred.Secret, nil
}

// SelectCredential is Select returning the whole credential
func (r *Registry) SelectCredential() (Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.creds) == 0 {
		return Credential{}, ErrEmptyRegistry
	}

	now := r.now()
	name, cursor := selectors[r.policy](snapshot{
		names:    r.order,
		usage:    r.usage,
		lastUsed: r.lastUsed,
		cursor:   r.cursor,
		now:      now,
		intn:     r.intn,
	})
	r.cursor = cursor
	r.touch(name, now)
	return r.creds[name], nil
}

// SelectByName returns the secret of the named credential without consulting
// the policy. Bookkeeping is still updated.
func (r *Registry) SelectByName(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, exists := r.creds[name]
	if !exists {
		return "", fmt.Errorf("%w: %q", ErrUnknownName, name)
	}
	r.touch(name, r.now())
	return cred.Secret, nil
}

// SetPolicy switches the selection policy. Usage counts, timestamps and the
// roll-polling cursor are kept.
func (r *Registry) SetPolicy(id string) error {
	p, err := ParsePolicy(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
	return nil
}

// Policy returns the active policy
func (r *Registry) Policy() Policy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy
}

// NameBySecret looks up the name of the credential holding secret
func (r *Registry) NameBySecret(secret string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nameBySecret(secret)
}

// NameExists reports whether a credential with this name is registered
func (r *Registry) NameExists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.creds[name]
	return exists
}

// SecretExists reports whether any credential holds this secret
func (r *Registry) SecretExists(secret string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.nameBySecret(secret)
	return exists
}

// Len returns the number of registered credentials
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.creds)
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Credentials returns every credential sorted by name
func (r *Registry) Credentials() []Credential {
	r.mu.Lock()
	defer r.mu.Unlock()

	creds := make([]Credential, 0, len(r.order))
	for _, name := range r.order {
		creds = append(creds, r.creds[name])
	}
	return creds
}

// Stats returns the bookkeeping of every credential, sorted by name
func (r *Registry) Stats() []Usage {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make([]Usage, 0, len(r.order))
	for _, name := range r.order {
		stats = append(stats, Usage{
			Name:     name,
			Uses:     r.usage[name],
			LastUsed: r.lastUsed[name],
		})
	}
	return stats
}

func (r *Registry) nameBySecret(secret string) (string, bool) {
	for _, c := range r.creds {
		if c.Secret == secret {
			return c.Name, true
		}
	}
	return "", false
}

func (r *Registry) touch(name string, now time.Time) {
	r.usage[name]++
	r.lastUsed[name] = now
}

// rebuild recomputes every structure derived from creds. Surviving names keep
// their counters; new names start unused. Must be called with mu held.
func (r *Registry) rebuild() {
	order := make([]string, 0, len(r.creds))
	usage := make(map[string]int, len(r.creds))
	lastUsed := make(map[string]time.Time, len(r.creds))

	for name := range r.creds {
		order = append(order, name)
		usage[name] = r.usage[name]
		lastUsed[name] = r.lastUsed[name]
	}
	sort.Strings(order)

	r.order = order
	r.usage = usage
	r.lastUsed = lastUsed
	r.cursor = unstarted
}
