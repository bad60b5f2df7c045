package replay

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/retracehq/retrace/pkg/cassette"
)

func httpEvent(eid int, method, target string) cassette.Event {
	return cassette.Event{
		EID:       eid,
		Type:      cassette.EventHTTPClient,
		Signature: cassette.NewSignature("net/http", method, target),
		Result:    cassette.Result{Status: 200},
	}
}

var _ = Describe("Matcher", func() {
	var events []cassette.Event

	BeforeEach(func() {
		events = []cassette.Event{
			httpEvent(1, "GET", "http://api.internal/users"),
			httpEvent(2, "POST", "http://api.internal/orders"),
		}
	})

	Describe("in-order replay", func() {
		It("consumes events in recorded order and advances the cursor", func() {
			m := NewMatcher(events, true)

			ev, err := m.Match(cassette.NewSignature("net/http", "GET", "http://api.internal/users"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.EID).To(Equal(1))
			Expect(m.Cursor()).To(Equal(1))

			ev, err = m.Match(cassette.NewSignature("net/http", "POST", "http://api.internal/orders"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.EID).To(Equal(2))
			Expect(m.Cursor()).To(Equal(2))
			Expect(m.Exhausted()).To(BeTrue())
		})
	})

	Describe("forward-only scanning", func() {
		It("skips ahead to a later event and never matches backward", func() {
			m := NewMatcher(events, true)

			// First live call matches the second recorded event.
			ev, err := m.Match(cassette.NewSignature("net/http", "POST", "http://api.internal/orders"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.EID).To(Equal(2))
			Expect(m.Cursor()).To(Equal(2))

			// The skipped first event is now unreachable.
			_, err = m.Match(cassette.NewSignature("net/http", "GET", "http://api.internal/users"))
			Expect(err).To(HaveOccurred())
			var mismatch *MismatchError
			Expect(err).To(BeAssignableToTypeOf(mismatch))
		})
	})

	Describe("repeated identical calls", func() {
		It("serves them in recorded order without reusing events", func() {
			same := []cassette.Event{
				httpEvent(1, "GET", "http://api.internal/users"),
				httpEvent(2, "GET", "http://api.internal/users"),
			}
			m := NewMatcher(same, true)
			sig := cassette.NewSignature("net/http", "GET", "http://api.internal/users")

			first, err := m.Match(sig)
			Expect(err).NotTo(HaveOccurred())
			second, err := m.Match(sig)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.EID).To(Equal(1))
			Expect(second.EID).To(Equal(2))

			_, err = m.Match(sig)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("strict mode", func() {
		It("returns a MismatchError carrying the remaining signatures", func() {
			m := NewMatcher(events, true)

			_, err := m.Match(cassette.NewSignature("net/http", "DELETE", "http://api.internal/users"))
			var mismatch *MismatchError
			Expect(err).To(HaveOccurred())
			Expect(errors.As(err, &mismatch)).To(BeTrue())
			Expect(mismatch.Position).To(Equal(0))
			Expect(mismatch.Remaining).To(HaveLen(2))
			Expect(mismatch.Error()).To(ContainSubstring("no recorded event matches"))
			Expect(mismatch.Error()).To(ContainSubstring("remaining recorded calls"))

			// A failed match never consumes anything.
			Expect(m.Cursor()).To(Equal(0))
		})

		It("explains exhaustion when no events remain", func() {
			m := NewMatcher(nil, true)
			_, err := m.Match(cassette.NewSignature("net/http", "GET", "http://api.internal/users"))
			Expect(err.Error()).To(ContainSubstring("no events remain"))
		})
	})

	Describe("non-strict mode", func() {
		It("returns ErrNoRecording so callers can fall through", func() {
			m := NewMatcher(events, false)

			_, err := m.Match(cassette.NewSignature("net/http", "DELETE", "http://api.internal/users"))
			Expect(err).To(MatchError(ErrNoRecording))
			Expect(m.Cursor()).To(Equal(0))
		})
	})

	Describe("tolerant matching", func() {
		It("matches when the live call omits a body hash the recording has", func() {
			recorded := httpEvent(1, "POST", "http://api.internal/orders")
			recorded.Signature.BodyHash = "sha256:abc"
			m := NewMatcher([]cassette.Event{recorded}, true)

			ev, err := m.Match(cassette.NewSignature("net/http", "POST", "http://api.internal/orders"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ev.EID).To(Equal(1))
		})
	})

	Describe("Remaining", func() {
		It("lists unconsumed signatures in order", func() {
			m := NewMatcher(events, true)
			Expect(m.Remaining()).To(HaveLen(2))

			_, err := m.Match(cassette.NewSignature("net/http", "GET", "http://api.internal/users"))
			Expect(err).NotTo(HaveOccurred())

			rest := m.Remaining()
			Expect(rest).To(HaveLen(1))
			Expect(rest[0].Operation).To(Equal("POST"))
		})
	})
})
