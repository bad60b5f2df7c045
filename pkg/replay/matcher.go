// Package replay matches live dependency calls against a recorded event
// list and serves back the recorded results.
//
// Matching is forward-only: the matcher scans from its cursor to the end of
// the event list, never backward, and consumes the first event that
// satisfies the live signature. Call order is the most information-
// preserving signal available; a bag-of-events lookup would silently pair
// unrelated calls to the same target and corrupt replay fidelity.
package replay

import (
	"errors"
	"sync"

	"github.com/retracehq/retrace/pkg/cassette"
)

// ErrNoRecording is returned in non-strict mode when no recorded event
// matches a live call. Callers may treat it as "fall through to a default
// or empty response" when working with partial cassettes.
var ErrNoRecording = errors.New("retrace: no recorded event matches this call")

// Matcher walks a loaded cassette's event list during replay. The event
// list is read-only after construction; only the cursor mutates. Safe for
// concurrent calls within the owning session.
type Matcher struct {
	mu     sync.Mutex
	events []cassette.Event
	cursor int
	strict bool
}

// NewMatcher builds a matcher over a recorded event list. With strict set,
// an unmatched call is fatal (MismatchError); otherwise it yields
// ErrNoRecording.
func NewMatcher(events []cassette.Event, strict bool) *Matcher {
	return &Matcher{events: events, strict: strict}
}

// Match finds the recorded event for a live call signature.
//
// It scans events[cursor:] and consumes the first event whose signature
// satisfies the tiered tolerance rules (see cassette.Signature.Matches),
// advancing the cursor one past the matched event. Repeated identical calls
// are therefore served in recorded order, and a consumed event can never
// match again.
func (m *Matcher) Match(sig cassette.Signature) (*cassette.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := m.cursor; i < len(m.events); i++ {
		if m.events[i].Signature.Matches(sig) {
			m.cursor = i + 1
			ev := m.events[i]
			return &ev, nil
		}
	}

	if !m.strict {
		return nil, ErrNoRecording
	}
	return nil, &MismatchError{
		Signature: sig,
		Position:  m.cursor,
		Remaining: m.remainingLocked(),
	}
}

// Cursor returns the index of the next expected event.
func (m *Matcher) Cursor() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// Remaining returns the signatures of events not yet consumed, in order.
func (m *Matcher) Remaining() []cassette.Signature {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingLocked()
}

// Exhausted reports whether every recorded event has been consumed.
func (m *Matcher) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor >= len(m.events)
}

func (m *Matcher) remainingLocked() []cassette.Signature {
	rest := make([]cassette.Signature, 0, len(m.events)-m.cursor)
	for _, ev := range m.events[m.cursor:] {
		rest = append(rest, ev.Signature)
	}
	return rest
}
