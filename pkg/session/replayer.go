package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/retracehq/retrace/pkg/cassette"
	"github.com/retracehq/retrace/pkg/policy"
	"github.com/retracehq/retrace/pkg/replay"
)

// ReplayOptions configures a replaying session.
type ReplayOptions struct {
	Strict bool
	Hybrid policy.HybridPolicy
	Logger *zap.Logger
}

// Replayer serves recorded dependency results for one inbound request. The
// decoded cassette is read-only; only the matcher cursor mutates, and only
// within the owning request.
type Replayer struct {
	cas     *cassette.Cassette
	matcher *replay.Matcher
	hybrid  policy.HybridPolicy
	logger  *zap.Logger

	mu        sync.Mutex
	finalized bool
}

// BeginReplaying opens a replay session over a decoded cassette, with the
// matcher cursor at the first event.
func BeginReplaying(cas *cassette.Cassette, opts ReplayOptions) *Replayer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("replay session started",
		zap.String("session_id", cas.Session.ID),
		zap.Int("events", len(cas.Events)),
		zap.Bool("strict", opts.Strict),
	)
	return &Replayer{
		cas:     cas,
		matcher: replay.NewMatcher(cas.Events, opts.Strict),
		hybrid:  opts.Hybrid,
		logger:  logger,
	}
}

func (r *Replayer) ID() string { return r.cas.Session.ID }
func (r *Replayer) Mode() Mode { return ModeReplaying }

// Finalized reports whether the session has been closed.
func (r *Replayer) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

// Cassette returns the loaded cassette.
func (r *Replayer) Cassette() *cassette.Cassette { return r.cas }

// Request returns the recorded request envelope.
func (r *Replayer) Request() *cassette.RequestSnapshot { return &r.cas.Request }

// ShouldMock reports whether calls with the given dependency tag are served
// from the cassette or passed through live (hybrid replay).
func (r *Replayer) ShouldMock(tag string) bool {
	return r.hybrid.ShouldMock(tag)
}

// Match resolves a live call signature to its recorded event, consuming it.
// Interceptors must check ShouldMock before calling Match.
func (r *Replayer) Match(sig cassette.Signature) (*cassette.Event, error) {
	ev, err := r.matcher.Match(sig)
	if err != nil {
		r.logger.Warn("replay match failed",
			zap.String("session_id", r.ID()),
			zap.String("signature", sig.Summary()),
			zap.Error(err),
		)
		return nil, err
	}
	r.logger.Debug("replay match",
		zap.String("session_id", r.ID()),
		zap.Int("eid", ev.EID),
		zap.String("signature", sig.Summary()),
	)
	return ev, nil
}

// Cursor returns the index of the next expected event.
func (r *Replayer) Cursor() int { return r.matcher.Cursor() }

// Remaining returns the signatures of unconsumed events, in recorded order.
func (r *Replayer) Remaining() []cassette.Signature { return r.matcher.Remaining() }

// Finalize closes the replay session. Calling it twice is a programming
// error, mirroring the recording side.
func (r *Replayer) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return &InvalidStateError{Op: "Finalize", Reason: "session already finalized"}
	}
	r.finalized = true

	if rest := r.matcher.Remaining(); len(rest) > 0 {
		r.logger.Debug("replay finished with unconsumed events",
			zap.String("session_id", r.ID()),
			zap.Int("unconsumed", len(rest)),
		)
	}
	return nil
}
