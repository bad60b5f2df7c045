package session

import "context"

// The current session rides the request's context.Context, never a process
// global: a process-wide variable would interleave concurrent requests'
// event streams. Interceptors receive the context of the call they wrap and
// look the session up from it.

type ctxKey struct{}

// WithSession binds a session to a request context. The returned context is
// handed to the request handler so every dependency call made while handling
// the request can find its session.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// Current returns the session bound to ctx, or nil when no session is
// active, meaning: act as pure passthrough, no interception.
func Current(ctx context.Context) Session {
	s, _ := ctx.Value(ctxKey{}).(Session)
	return s
}

// CurrentRecorder returns the active recording session, if any.
func CurrentRecorder(ctx context.Context) (*Recorder, bool) {
	r, ok := ctx.Value(ctxKey{}).(*Recorder)
	return r, ok
}

// CurrentReplayer returns the active replay session, if any.
func CurrentReplayer(ctx context.Context) (*Replayer, bool) {
	r, ok := ctx.Value(ctxKey{}).(*Replayer)
	return r, ok
}
