// Package fiberadapter exposes the tracer as a Fiber middleware. Fiber
// handlers carry the session on the user context, so downstream code using
// c.UserContext() with the standard interceptors works unchanged.
package fiberadapter

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/retracehq/retrace/middleware"
	"github.com/retracehq/retrace/pkg/cassette"
	"github.com/retracehq/retrace/pkg/config"
	"github.com/retracehq/retrace/pkg/diff"
	"github.com/retracehq/retrace/pkg/policy"
	"github.com/retracehq/retrace/pkg/session"
)

// New wraps a configured tracer as a fiber.Handler.
func New(t *middleware.Tracer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cfg := t.Config()
		if !cfg.Enabled() || !cfg.ShouldTrace(c.Path()) {
			return c.Next()
		}
		switch cfg.Mode {
		case config.ModeRecord:
			return record(t, c)
		case config.ModeReplay:
			return replay(t, c)
		default:
			return c.Next()
		}
	}
}

func record(t *middleware.Tracer, c *fiber.Ctx) error {
	cfg := t.Config()

	// Fiber reuses its buffers after the handler returns, so copy now.
	reqBody := append([]byte(nil), c.Body()...)
	if len(reqBody) == 0 {
		reqBody = nil
	}
	reqSnap := snapshotRequest(c)

	rec := session.BeginRecording(reqSnap, session.Options{
		Service:           cfg.ServiceName,
		Env:               cfg.Env,
		SampleRate:        cfg.SampleRate,
		ErrorsOnly:        cfg.ErrorsOnly,
		MaxBodyKB:         cfg.MaxBodyKB,
		StoreRequestBody:  cfg.StoreRequestBody,
		StoreResponseBody: cfg.StoreResponseBody,
		Compression:       cfg.Compression,
		Sink:              t.Sink(),
		Logger:            t.Logger(),
	})
	if rec == nil {
		return c.Next()
	}

	c.SetUserContext(session.WithSession(c.UserContext(), rec))

	defer func() {
		if v := recover(); v != nil {
			rec.MarkError("panic", fmt.Sprint(v), string(debug.Stack()))
			finalize(t, c, rec, reqBody, fiber.StatusInternalServerError, nil)
			panic(v)
		}
	}()

	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		var ferr *fiber.Error
		if errors.As(err, &ferr) {
			status = ferr.Code
		} else {
			status = fiber.StatusInternalServerError
		}
		rec.MarkError("handler_error", err.Error(), "")
	}

	respBody := append([]byte(nil), c.Response().Body()...)
	if len(respBody) == 0 {
		respBody = nil
	}
	finalize(t, c, rec, reqBody, status, respBody)
	return err
}

func finalize(t *middleware.Tracer, c *fiber.Ctx, rec *session.Recorder, reqBody []byte, status int, respBody []byte) {
	if c.UserContext().Err() != nil {
		rec.Discard()
		t.Logger().Debug("recording discarded, request context cancelled",
			zap.String("path", c.Path()),
		)
		return
	}

	cfg := t.Config()
	isError := status >= 500

	if policy.ShouldStoreBody(cfg.StoreRequestBody, isError) {
		rec.SetRequestBody(policy.SnapshotBody(reqBody, cfg.MaxBodyKB))
	} else {
		rec.SetRequestBody(policy.UncapturedBody(reqBody))
	}

	resp := &cassette.ResponseSnapshot{
		Status:     status,
		Headers:    responseHeaders(c),
		DurationMS: rec.ElapsedMS(),
	}
	if policy.ShouldStoreBody(cfg.StoreResponseBody, isError) {
		resp.Body = policy.SnapshotBody(respBody, cfg.MaxBodyKB)
	} else {
		resp.Body = policy.UncapturedBody(respBody)
	}

	if _, _, err := rec.Finalize(c.UserContext(), resp); err != nil {
		t.Logger().Error("finalize failed", zap.Error(err))
	}
}

func replay(t *middleware.Tracer, c *fiber.Ctx) error {
	cfg := t.Config()
	rep := session.BeginReplaying(t.ReplayCassette(), session.ReplayOptions{
		Strict: cfg.StrictReplay,
		Hybrid: cfg.Hybrid(),
		Logger: t.Logger(),
	})

	c.SetUserContext(session.WithSession(c.UserContext(), rep))
	start := time.Now()

	err := c.Next()

	live := cassette.ResponseSnapshot{
		Status:     c.Response().StatusCode(),
		DurationMS: float64(time.Since(start)) / float64(time.Millisecond),
	}
	if ferr := rep.Finalize(); ferr != nil {
		t.Logger().Error("replay finalize failed", zap.Error(ferr))
	}

	d := diff.CompareResponses(t.ReplayCassette().Response, live)
	if d.StatusChanged {
		t.Logger().Warn("replayed response diverged",
			zap.String("session_id", rep.ID()),
			zap.Int("recorded_status", d.OldStatus),
			zap.Int("live_status", d.NewStatus),
		)
	}
	return err
}

func snapshotRequest(c *fiber.Ctx) *cassette.RequestSnapshot {
	headers := make(map[string]string)
	c.Request().Header.VisitAll(func(k, v []byte) {
		headers[string(k)] = string(v)
	})

	var query map[string]string
	if args := c.Context().QueryArgs(); args.Len() > 0 {
		query = make(map[string]string, args.Len())
		args.VisitAll(func(k, v []byte) {
			query[string(k)] = string(v)
		})
	}

	return &cassette.RequestSnapshot{
		Method:        c.Method(),
		Path:          c.Path(),
		RouteTemplate: c.Route().Path,
		Headers:       policy.RedactHeaders(headers),
		Query:         policy.RedactQueryParams(query),
		ClientIP:      c.IP(),
		UserAgent:     string(c.Request().Header.UserAgent()),
	}
}

func responseHeaders(c *fiber.Ctx) map[string]string {
	headers := make(map[string]string)
	c.Response().Header.VisitAll(func(k, v []byte) {
		headers[string(k)] = string(v)
	})
	return policy.RedactHeaders(headers)
}
