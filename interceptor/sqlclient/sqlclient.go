// Package sqlclient intercepts database/sql queries at the driver layer.
// Wrap a driver.Connector and every query or exec routed through the pool is
// recorded into the active session, or answered from the cassette during
// replay.
//
// Interception happens per call, not per connection: pooled connections
// outlive requests, so the session is looked up from the query context.
package sqlclient

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/retracehq/retrace/pkg/cassette"
	"github.com/retracehq/retrace/pkg/session"
)

// Tag identifies this interceptor in hybrid mock/live lists.
const Tag = "db"

const library = "database/sql"

// ErrNoLiveConnection is returned when a replayed session falls through to a
// live query but the connector was built without a base driver.
var ErrNoLiveConnection = errors.New("retrace: no live database behind mock connector")

// WrapConnector wraps a real connector so queries are recorded in record
// mode and served from the cassette in replay mode. Calls outside a session
// pass through untouched.
func WrapConnector(base driver.Connector) driver.Connector {
	return &connector{base: base}
}

// MockConnector builds a connector with no database behind it, for replay
// runs where the dependency is unavailable. Any call that is not served from
// the cassette fails with ErrNoLiveConnection.
func MockConnector() driver.Connector {
	return &connector{}
}

type connector struct {
	base driver.Connector
}

func (c *connector) Connect(ctx context.Context) (driver.Conn, error) {
	if c.base == nil {
		return &conn{}, nil
	}
	base, err := c.base.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &conn{base: base}, nil
}

func (c *connector) Driver() driver.Driver {
	if c.base == nil {
		return nil
	}
	return c.base.Driver()
}

// conn implements the context-aware driver interfaces. base is nil for mock
// connectors.
type conn struct {
	base driver.Conn
}

var (
	_ driver.Conn           = (*conn)(nil)
	_ driver.QueryerContext = (*conn)(nil)
	_ driver.ExecerContext  = (*conn)(nil)
	_ driver.ConnBeginTx    = (*conn)(nil)
)

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	if c.base == nil {
		return nil, ErrNoLiveConnection
	}
	return c.base.Prepare(query)
}

func (c *conn) Close() error {
	if c.base == nil {
		return nil
	}
	return c.base.Close()
}

func (c *conn) Begin() (driver.Tx, error) {
	if c.base == nil {
		return noopTx{}, nil
	}
	//lint:ignore SA1019 fallback required by the driver.Conn contract
	return c.base.Begin()
}

// BeginTx passes through for live connections. On a mock connector
// transactions are inert: replay serves recorded results, there is nothing
// to commit.
func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if c.base == nil {
		return noopTx{}, nil
	}
	if bt, ok := c.base.(driver.ConnBeginTx); ok {
		return bt.BeginTx(ctx, opts)
	}
	return c.base.Begin()
}

// QueryContext records or replays a row-returning statement.
func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	sig := signatureFor(query)

	if rec, ok := session.CurrentRecorder(ctx); ok && !rec.Finalized() {
		return c.recordQuery(ctx, rec, sig, query, args)
	}
	if rep, ok := session.CurrentReplayer(ctx); ok && !rep.Finalized() && rep.ShouldMock(Tag) {
		return replayQuery(rep, sig)
	}
	return c.liveQuery(ctx, query, args)
}

// ExecContext records or replays a statement with no result rows.
func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	sig := signatureFor(query)

	if rec, ok := session.CurrentRecorder(ctx); ok && !rec.Finalized() {
		return c.recordExec(ctx, rec, sig, query, args)
	}
	if rep, ok := session.CurrentReplayer(ctx); ok && !rep.Finalized() && rep.ShouldMock(Tag) {
		return replayExec(rep, sig)
	}
	return c.liveExec(ctx, query, args)
}

func (c *conn) liveQuery(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if c.base == nil {
		return nil, ErrNoLiveConnection
	}
	if q, ok := c.base.(driver.QueryerContext); ok {
		return q.QueryContext(ctx, query, args)
	}
	stmt, err := c.base.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	return stmt.Query(namedToValues(args))
}

func (c *conn) liveExec(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if c.base == nil {
		return nil, ErrNoLiveConnection
	}
	if e, ok := c.base.(driver.ExecerContext); ok {
		return e.ExecContext(ctx, query, args)
	}
	stmt, err := c.base.Prepare(query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	return stmt.Exec(namedToValues(args))
}

func (c *conn) recordQuery(ctx context.Context, rec *session.Recorder, sig cassette.Signature, query string, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	rows, err := c.liveQuery(ctx, query, args)
	durationMS := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		appendError(rec, sig, err, durationMS)
		return nil, err
	}

	// Drain the driver rows so both the caller and the cassette see the
	// full result set.
	rs, err := drainRows(rows)
	if err != nil {
		appendError(rec, sig, err, durationMS)
		return nil, err
	}
	appendRows(rec, sig, rs, durationMS)
	return newReplayRows(rs), nil
}

func (c *conn) recordExec(ctx context.Context, rec *session.Recorder, sig cassette.Signature, query string, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	res, err := c.liveExec(ctx, query, args)
	durationMS := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		appendError(rec, sig, err, durationMS)
		return nil, err
	}
	appendExec(rec, sig, res, durationMS)
	return res, nil
}

func namedToValues(named []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(named))
	for i, nv := range named {
		out[i] = nv.Value
	}
	return out
}

type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

// signatureFor derives the replay signature from SQL text: the leading verb
// as the operation, the first referenced table as the target, and the hash
// of the normalized statement. Bind parameters stay out of the hash, so the
// same statement with different values matches the same recording.
func signatureFor(query string) cassette.Signature {
	norm := normalizeSQL(query)
	sig := cassette.NewSignature(library, sqlVerb(norm), tableOf(norm))
	sig.BodyHash = cassette.HashBody([]byte(norm))
	return sig
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

func sqlVerb(norm string) string {
	verb, _, _ := strings.Cut(norm, " ")
	return strings.ToUpper(verb)
}

// tableOf extracts the first table name after FROM, INTO, UPDATE, JOIN, or
// TABLE. Best effort: a miss leaves the target empty, which only loosens
// matching to the statement hash.
func tableOf(norm string) string {
	fields := strings.Fields(strings.ToLower(norm))
	for i, f := range fields {
		switch f {
		case "from", "into", "update", "join", "table":
			if i+1 < len(fields) {
				return strings.Trim(fields[i+1], `"'(),;`)
			}
		}
	}
	return ""
}
