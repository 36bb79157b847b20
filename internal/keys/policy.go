package keys

import (
	"fmt"
	"time"
)

// Policy identifies how the registry picks the next credential
type Policy string

const (
	PolicyDefault     Policy = "default"      // alias of PolicyRollPolling
	PolicyRollPolling Policy = "roll-polling" // use in turn
	PolicyRandom      Policy = "random"       // uniform random choice
	PolicyLeastUsed   Policy = "least-used"   // fewest selections so far
	PolicyRestTime    Policy = "rest-time"    // longest time since last use
)

// unstarted marks a cursor that has not selected anything since the last rebuild
const unstarted = -1

// snapshot is the observable registry state handed to a selector.
// names is sorted and never empty.
type snapshot struct {
	names    []string
	usage    map[string]int
	lastUsed map[string]time.Time
	cursor   int
	now      time.Time
	intn     func(n int) int
}

// selector returns the chosen name and the cursor to store afterwards
type selector func(s snapshot) (name string, cursor int)

var selectors = map[Policy]selector{
	PolicyDefault:     selectRollPolling,
	PolicyRollPolling: selectRollPolling,
	PolicyRandom:      selectRandom,
	PolicyLeastUsed:   selectLeastUsed,
	PolicyRestTime:    selectRestTime,
}

// ParsePolicy validates a policy identifier
func ParsePolicy(id string) (Policy, error) {
	p := Policy(id)
	if _, ok := selectors[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, id)
	}
	return p, nil
}

// Policies lists every recognized identifier
func Policies() []Policy {
	return []Policy{PolicyDefault, PolicyRollPolling, PolicyRandom, PolicyLeastUsed, PolicyRestTime}
}

func selectRollPolling(s snapshot) (string, int) {
	next := 0
	if s.cursor != unstarted {
		next = (s.cursor + 1) % len(s.names)
	}
	return s.names[next], next
}

func selectRandom(s snapshot) (string, int) {
	return s.names[s.intn(len(s.names))], s.cursor
}

// selectLeastUsed relies on names being sorted: only a strictly smaller count
// replaces the current best, so ties go to the lexicographically first name.
func selectLeastUsed(s snapshot) (string, int) {
	best := s.names[0]
	for _, name := range s.names[1:] {
		if s.usage[name] < s.usage[best] {
			best = name
		}
	}
	return best, s.cursor
}

func selectRestTime(s snapshot) (string, int) {
	best := s.names[0]
	bestRest, bestNever := rest(s, best)
	for _, name := range s.names[1:] {
		r, never := rest(s, name)
		switch {
		case bestNever:
			// nothing beats a credential that was never used
		case never, r > bestRest:
			best, bestRest, bestNever = name, r, never
		}
	}
	return best, s.cursor
}

func rest(s snapshot, name string) (time.Duration, bool) {
	last := s.lastUsed[name]
	if last.IsZero() {
		return 0, true
	}
	return s.now.Sub(last), false
}
