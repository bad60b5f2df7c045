package session

import "fmt"

// InvalidStateError signals programming misuse of the session state machine:
// appending to a finalized or non-recording session, or finalizing twice.
// It always indicates an interceptor or adapter bug and is never recovered
// automatically; swallowing it would silently break the replay contract.
type InvalidStateError struct {
	Op     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid session state in %s: %s", e.Op, e.Reason)
}
