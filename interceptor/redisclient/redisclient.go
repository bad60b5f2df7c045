// Package redisclient intercepts go-redis commands via the client hook
// chain. Recorded commands land in the active session as cache events;
// during replay, matched commands are answered from the cassette and never
// reach a server.
package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/retracehq/retrace/pkg/cassette"
	"github.com/retracehq/retrace/pkg/policy"
	"github.com/retracehq/retrace/pkg/session"
)

// Tag identifies this interceptor in hybrid mock/live lists.
const Tag = "redis"

const library = "go-redis"

// Hook implements redis.Hook. Install with client.AddHook(redisclient.NewHook()).
type Hook struct {
	// MaxBodyKB caps stored result size. 0 means 64.
	MaxBodyKB int
}

// NewHook returns a hook ready to add to a redis client.
func NewHook() *Hook { return &Hook{} }

var _ redis.Hook = (*Hook)(nil)

func (h *Hook) maxKB() int {
	if h.MaxBodyKB > 0 {
		return h.MaxBodyKB
	}
	return 64
}

// DialHook passes through. During replay mocked commands never dial, and a
// failed dial in record mode is captured at the command level.
func (h *Hook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

// ProcessHook records or replays a single command.
func (h *Hook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if rec, ok := session.CurrentRecorder(ctx); ok && !rec.Finalized() {
			return h.record(ctx, rec, cmd, next)
		}
		if rep, ok := session.CurrentReplayer(ctx); ok && !rep.Finalized() && rep.ShouldMock(Tag) {
			return h.replayCmd(rep, cmd)
		}
		return next(ctx, cmd)
	}
}

// ProcessPipelineHook treats each pipelined command as its own event, in
// pipeline order.
func (h *Hook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		if rec, ok := session.CurrentRecorder(ctx); ok && !rec.Finalized() {
			start := time.Now()
			err := next(ctx, cmds)
			durationMS := float64(time.Since(start)) / float64(time.Millisecond)
			perCmd := durationMS / float64(max(len(cmds), 1))
			for _, cmd := range cmds {
				h.appendEvent(rec, cmd, perCmd)
			}
			return err
		}
		if rep, ok := session.CurrentReplayer(ctx); ok && !rep.Finalized() && rep.ShouldMock(Tag) {
			var firstErr error
			for _, cmd := range cmds {
				if err := h.replayCmd(rep, cmd); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		}
		return next(ctx, cmds)
	}
}

func (h *Hook) record(ctx context.Context, rec *session.Recorder, cmd redis.Cmder, next redis.ProcessHook) error {
	start := time.Now()
	err := next(ctx, cmd)
	durationMS := float64(time.Since(start)) / float64(time.Millisecond)
	h.appendEvent(rec, cmd, durationMS)
	return err
}

func (h *Hook) appendEvent(rec *session.Recorder, cmd redis.Cmder, durationMS float64) {
	sig := signatureFor(cmd)

	var result cassette.Result
	switch err := cmd.Err(); {
	case err == redis.Nil:
		// Cache miss is a result, not a failure, but it must round-trip
		// exactly so replayed lookups miss too.
		result = cassette.Result{Error: &cassette.ErrorInfo{Type: "redis.Nil", Message: err.Error()}}
	case err != nil:
		result = cassette.Result{Error: &cassette.ErrorInfo{Type: "redis_error", Message: err.Error()}}
	default:
		result = cassette.Result{Status: 200, Body: h.snapshotValue(cmd)}
	}

	// A closed session means the request already finalized; drop the event.
	_, _ = rec.AppendEvent(cassette.EventCacheOp, sig, result, durationMS)
}

func (h *Hook) replayCmd(rep *session.Replayer, cmd redis.Cmder) error {
	ev, err := rep.Match(signatureFor(cmd))
	if err != nil {
		cmd.SetErr(err)
		return err
	}

	if ev.Result.Error != nil {
		if ev.Result.Error.Type == "redis.Nil" {
			cmd.SetErr(redis.Nil)
			return redis.Nil
		}
		rerr := fmt.Errorf("%s: %s", ev.Result.Error.Type, ev.Result.Error.Message)
		cmd.SetErr(rerr)
		return rerr
	}

	if err := setValue(cmd, policy.BodyBytes(ev.Result.Body)); err != nil {
		cmd.SetErr(err)
		return err
	}
	return nil
}

// signatureFor derives the replay signature: command name as the operation,
// first key argument as the target.
func signatureFor(cmd redis.Cmder) cassette.Signature {
	target := ""
	if args := cmd.Args(); len(args) > 1 {
		target = fmt.Sprint(args[1])
	}
	return cassette.NewSignature(library, cmd.Name(), target)
}

// snapshotValue captures the command's result value as a JSON body.
func (h *Hook) snapshotValue(cmd redis.Cmder) *cassette.BodySnapshot {
	v := valueOf(cmd)
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return policy.SnapshotBody(data, h.maxKB())
}

func valueOf(cmd redis.Cmder) any {
	switch c := cmd.(type) {
	case *redis.StringCmd:
		return c.Val()
	case *redis.StatusCmd:
		return c.Val()
	case *redis.IntCmd:
		return c.Val()
	case *redis.BoolCmd:
		return c.Val()
	case *redis.FloatCmd:
		return c.Val()
	case *redis.StringSliceCmd:
		return c.Val()
	case *redis.MapStringStringCmd:
		return c.Val()
	case *redis.DurationCmd:
		return c.Val().Milliseconds()
	default:
		return nil
	}
}

// setValue pushes a recorded value back into the command for the caller to
// read. Only the common typed commands are supported; anything else fails
// loudly rather than returning a silent zero value.
func setValue(cmd redis.Cmder, raw []byte) error {
	if raw == nil {
		return nil
	}
	switch c := cmd.(type) {
	case *redis.StringCmd:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return decodeErr(cmd, err)
		}
		c.SetVal(v)
	case *redis.StatusCmd:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return decodeErr(cmd, err)
		}
		c.SetVal(v)
	case *redis.IntCmd:
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return decodeErr(cmd, err)
		}
		c.SetVal(v)
	case *redis.BoolCmd:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return decodeErr(cmd, err)
		}
		c.SetVal(v)
	case *redis.FloatCmd:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return decodeErr(cmd, err)
		}
		c.SetVal(v)
	case *redis.StringSliceCmd:
		var v []string
		if err := json.Unmarshal(raw, &v); err != nil {
			return decodeErr(cmd, err)
		}
		c.SetVal(v)
	case *redis.MapStringStringCmd:
		var v map[string]string
		if err := json.Unmarshal(raw, &v); err != nil {
			return decodeErr(cmd, err)
		}
		c.SetVal(v)
	case *redis.DurationCmd:
		var ms int64
		if err := json.Unmarshal(raw, &ms); err != nil {
			return decodeErr(cmd, err)
		}
		c.SetVal(time.Duration(ms) * time.Millisecond)
	default:
		return fmt.Errorf("retrace: cannot replay %s into %T", cmd.Name(), cmd)
	}
	return nil
}

func decodeErr(cmd redis.Cmder, err error) error {
	return fmt.Errorf("retrace: decoding recorded %s result: %w", cmd.Name(), err)
}
