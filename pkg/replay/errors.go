package replay

import (
	"fmt"
	"strings"

	"github.com/retracehq/retrace/pkg/cassette"
)

// MismatchError is raised in strict mode when a live call has no matching
// recorded event. It is fatal: silently falling through to a live call
// would defeat the determinism guarantee replay exists to provide.
//
// The error carries the unmatched signature and every remaining candidate
// so the divergence can be diagnosed without re-running.
type MismatchError struct {
	Signature cassette.Signature
	Position  int
	Remaining []cassette.Signature
}

func (e *MismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "replay mismatch at event #%d: no recorded event matches %s", e.Position, e.Signature.Summary())
	if len(e.Remaining) == 0 {
		b.WriteString("\nno events remain in the cassette; your code is making more dependency calls than were recorded")
	} else {
		b.WriteString("\nremaining recorded calls:")
		for i, sig := range e.Remaining {
			fmt.Fprintf(&b, "\n  #%d %s", e.Position+i, sig.Summary())
		}
	}
	b.WriteString("\nhint: the code path diverged from the recording; re-record the cassette or disable strict replay")
	return b.String()
}

// ReplayedError reconstructs a dependency failure that was captured during
// recording. Interceptors return it so replay reproduces the original
// failure mode.
type ReplayedError struct {
	Kind    string
	Message string
}

func (e *ReplayedError) Error() string {
	if e.Kind != "" {
		return e.Kind + ": " + e.Message
	}
	return e.Message
}

// AsReplayedError converts captured error info into a returnable error.
func AsReplayedError(info *cassette.ErrorInfo) error {
	if info == nil {
		return nil
	}
	return &ReplayedError{Kind: info.Type, Message: info.Message}
}
