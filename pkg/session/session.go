// Package session tracks one logical inbound request through recording or
// replay. A session is exclusively owned by the request context that
// created it; many sessions may be active concurrently with no shared
// mutable state between them.
package session

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/retracehq/retrace/pkg/cassette"
	"github.com/retracehq/retrace/pkg/policy"
	"github.com/retracehq/retrace/pkg/utils"
)

// Mode discriminates the two session variants.
type Mode string

const (
	ModeRecording Mode = "record"
	ModeReplaying Mode = "replay"
)

// Session is the common surface of recording and replaying sessions,
// exposed to dependency interceptors via the request context.
type Session interface {
	ID() string
	Mode() Mode
	Finalized() bool
}

// Sink receives a finalized cassette for synchronous persistence. Implemented
// by storage.CassetteWriter; injected so the session core stays independent
// of storage mechanics.
type Sink interface {
	WriteCassette(ctx context.Context, c *cassette.Cassette) (string, error)
}

// Options configures a recording session. Zero values are usable: sample
// everything, capture bodies on error, 64 KB body cap, no sink.
type Options struct {
	Service           string
	Env               string
	SampleRate        float64 // 0 means 1.0 (record everything)
	ErrorsOnly        bool
	MaxBodyKB         int
	StoreRequestBody  policy.CapturePolicy
	StoreResponseBody policy.CapturePolicy
	Compression       cassette.Compression
	Sink              Sink
	Logger            *zap.Logger
}

func (o *Options) normalize() {
	if o.SampleRate <= 0 {
		o.SampleRate = 1.0
	}
	if o.MaxBodyKB == 0 {
		o.MaxBodyKB = 64
	}
	if o.StoreRequestBody == "" {
		o.StoreRequestBody = policy.CaptureOnError
	}
	if o.StoreResponseBody == "" {
		o.StoreResponseBody = policy.CaptureOnError
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Recorder collects dependency events for one inbound request and turns
// them into a cassette at finalize time.
//
// AppendEvent is safe against concurrent dependency calls within the same
// request: event IDs are assigned under the session mutex in completion
// order, which is the order a replay observer can deterministically
// reconstruct.
type Recorder struct {
	id        string
	opts      Options
	startedAt time.Time
	startMono time.Time

	mu        sync.Mutex
	request   *cassette.RequestSnapshot
	response  *cassette.ResponseSnapshot
	errInfo   *cassette.ErrorInfo
	events    []cassette.Event
	counter   int
	finalized bool
	discarded bool
}

// BeginRecording opens a recording session for the given request envelope.
// Returns nil when the sampling draw rejects the request; callers must then
// behave as pure passthrough.
func BeginRecording(req *cassette.RequestSnapshot, opts Options) *Recorder {
	opts.normalize()

	if opts.SampleRate < 1.0 && rand.Float64() >= opts.SampleRate {
		return nil
	}

	now := time.Now()
	r := &Recorder{
		id:        uuid.NewString(),
		opts:      opts,
		startedAt: now.UTC(),
		startMono: now,
		request:   req,
	}
	opts.Logger.Debug("recording session started",
		zap.String("session_id", r.id),
		zap.String("method", req.Method),
		zap.String("path", req.Path),
	)
	return r
}

func (r *Recorder) ID() string      { return r.id }
func (r *Recorder) Mode() Mode      { return ModeRecording }
func (r *Recorder) Options() Options { return r.opts }

// Finalized reports whether the session has been closed.
func (r *Recorder) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

// ElapsedMS returns milliseconds since the session started.
func (r *Recorder) ElapsedMS() float64 {
	return float64(time.Since(r.startMono)) / float64(time.Millisecond)
}

// AppendEvent records one completed dependency call. The event ID and start
// offset are assigned here, atomically with the append. Returns an
// InvalidStateError if the session is already finalized: losing an event
// silently would break the replay contract, so misuse must surface.
func (r *Recorder) AppendEvent(eventType string, sig cassette.Signature, result cassette.Result, durationMS float64) (*cassette.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return nil, &InvalidStateError{Op: "AppendEvent", Reason: "session already finalized"}
	}

	r.counter++
	ev := cassette.Event{
		EID:           r.counter,
		Type:          eventType,
		StartOffsetMS: r.ElapsedMS() - durationMS,
		DurationMS:    durationMS,
		Signature:     sig,
		Result:        result,
	}
	if ev.StartOffsetMS < 0 {
		ev.StartOffsetMS = 0
	}
	r.events = append(r.events, ev)

	return &r.events[len(r.events)-1], nil
}

// SetRequestBody attaches the request body snapshot. Called just before
// Finalize, once the capture policy decision is known. No-op after finalize.
func (r *Recorder) SetRequestBody(snap *cassette.BodySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized || r.request == nil {
		return
	}
	r.request.Body = snap
}

// MarkError records that the request handler failed. The error info lands in
// the cassette envelope and flips the errors-only persistence decision.
func (r *Recorder) MarkError(errType, message, trace string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errInfo = &cassette.ErrorInfo{Type: errType, Message: message, Trace: trace}
}

// Finalize closes the session, attaches the response envelope, and hands the
// cassette to the configured sink for synchronous persistence.
//
// Under the errors-only policy a session that finalized without an error is
// discarded here rather than written and filtered later, because the
// response status is only known now. Returns the built cassette (nil when
// discarded) and the storage key when a sink wrote it. Calling Finalize
// twice is a programming error.
func (r *Recorder) Finalize(ctx context.Context, resp *cassette.ResponseSnapshot) (*cassette.Cassette, string, error) {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return nil, "", &InvalidStateError{Op: "Finalize", Reason: "session already finalized"}
	}
	r.finalized = true
	if r.discarded {
		r.mu.Unlock()
		return nil, "", nil
	}
	r.response = resp

	isError := r.errInfo != nil || (resp != nil && resp.Status >= 500)
	if r.opts.ErrorsOnly && !isError {
		r.mu.Unlock()
		r.opts.Logger.Debug("errors-only recording discarded", zap.String("session_id", r.id))
		return nil, "", nil
	}

	c := r.buildCassetteLocked()
	r.mu.Unlock()

	if r.opts.Sink == nil {
		return c, "", nil
	}

	key, err := r.opts.Sink.WriteCassette(ctx, c)
	if err != nil {
		r.opts.Logger.Error("cassette write failed",
			zap.String("session_id", r.id),
			zap.Error(err),
		)
		return c, "", err
	}

	r.opts.Logger.Info("cassette written",
		zap.String("session_id", r.id),
		zap.String("key", key),
		zap.Int("events", len(c.Events)),
	)
	return c, key, nil
}

// Discard abandons a partially-built session without writing a cassette.
// Used when the owning request is cancelled: a half-written recording can
// never satisfy the matcher for the calls that would have followed.
func (r *Recorder) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded = true
	r.finalized = true
}

// Events returns a copy of the events appended so far.
func (r *Recorder) Events() []cassette.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]cassette.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) buildCassetteLocked() *cassette.Cassette {
	resp := r.response
	if resp == nil {
		resp = &cassette.ResponseSnapshot{}
	}
	req := r.request
	if req == nil {
		req = &cassette.RequestSnapshot{}
	}

	c := &cassette.Cassette{
		SchemaVersion: cassette.SchemaVersion,
		Session: cassette.SessionMeta{
			ID:         r.id,
			RecordedAt: r.startedAt,
			Service:    r.opts.Service,
			Env:        r.opts.Env,
			Version:    utils.Version,
		},
		Request:   *req,
		Response:  *resp,
		ErrorInfo: r.errInfo,
		Events:    r.events,
		Policies: &cassette.AppliedPolicies{
			RedactionMode:     "default",
			MaxBodyKB:         r.opts.MaxBodyKB,
			StoreRequestBody:  string(r.opts.StoreRequestBody),
			StoreResponseBody: string(r.opts.StoreResponseBody),
			SampleRate:        r.opts.SampleRate,
			ErrorsOnly:        r.opts.ErrorsOnly,
		},
	}
	c.ComputeStats()
	return c
}
