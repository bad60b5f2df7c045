package sqlclient

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/retracehq/retrace/pkg/cassette"
	"github.com/retracehq/retrace/pkg/policy"
	"github.com/retracehq/retrace/pkg/replay"
	"github.com/retracehq/retrace/pkg/session"
)

// resultSet is the JSON shape of a recorded query result.
type resultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// execResult is the JSON shape of a recorded exec outcome.
type execResult struct {
	LastInsertID int64 `json:"last_insert_id"`
	RowsAffected int64 `json:"rows_affected"`
}

// maxResultKB caps a stored result set. Query results routinely dwarf HTTP
// bodies, so the cap is wider than the body default.
const maxResultKB = 256

// drainRows reads a driver result set to completion and closes it.
func drainRows(rows driver.Rows) (*resultSet, error) {
	defer rows.Close()

	cols := rows.Columns()
	rs := &resultSet{Columns: cols, Rows: [][]any{}}

	dest := make([]driver.Value, len(cols))
	for {
		err := rows.Next(dest)
		if err == io.EOF {
			return rs, nil
		}
		if err != nil {
			return nil, err
		}
		row := make([]any, len(dest))
		for i, v := range dest {
			row[i] = encodeValue(v)
		}
		rs.Rows = append(rs.Rows, row)
	}
}

// encodeValue maps a driver.Value onto a JSON-stable representation.
func encodeValue(v driver.Value) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return t
	}
}

// decodeValue maps a decoded JSON value back to a driver.Value. Numbers come
// back as json.Number so integers survive without a float round trip.
func decodeValue(v any) driver.Value {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case int64:
		return t
	case float64:
		if t == math.Trunc(t) {
			return int64(t)
		}
		return t
	case string:
		return t
	case bool:
		return t
	case nil:
		return nil
	default:
		return fmt.Sprint(t)
	}
}

func appendRows(rec *session.Recorder, sig cassette.Signature, rs *resultSet, durationMS float64) {
	data, err := json.Marshal(rs)
	if err != nil {
		appendError(rec, sig, err, durationMS)
		return
	}
	result := cassette.Result{Status: 200, Body: policy.SnapshotBody(data, maxResultKB)}
	_, _ = rec.AppendEvent(cassette.EventDBQuery, sig, result, durationMS)
}

func appendExec(rec *session.Recorder, sig cassette.Signature, res driver.Result, durationMS float64) {
	var er execResult
	if res != nil {
		// Not every driver supports these; errors just leave zeros.
		if id, err := res.LastInsertId(); err == nil {
			er.LastInsertID = id
		}
		if n, err := res.RowsAffected(); err == nil {
			er.RowsAffected = n
		}
	}
	data, err := json.Marshal(er)
	if err != nil {
		appendError(rec, sig, err, durationMS)
		return
	}
	result := cassette.Result{Status: 200, Body: policy.SnapshotBody(data, maxResultKB)}
	_, _ = rec.AppendEvent(cassette.EventDBQuery, sig, result, durationMS)
}

func appendError(rec *session.Recorder, sig cassette.Signature, err error, durationMS float64) {
	result := cassette.Result{
		Error: &cassette.ErrorInfo{Type: "db_error", Message: err.Error()},
	}
	_, _ = rec.AppendEvent(cassette.EventDBQuery, sig, result, durationMS)
}

func replayQuery(rep *session.Replayer, sig cassette.Signature) (driver.Rows, error) {
	ev, err := rep.Match(sig)
	if err != nil {
		return nil, err
	}
	if ev.Result.IsError() {
		return nil, replay.AsReplayedError(ev.Result.Error)
	}

	var rs resultSet
	if err := decodeBody(ev.Result.Body, &rs); err != nil {
		return nil, err
	}
	return newReplayRows(&rs), nil
}

func replayExec(rep *session.Replayer, sig cassette.Signature) (driver.Result, error) {
	ev, err := rep.Match(sig)
	if err != nil {
		return nil, err
	}
	if ev.Result.IsError() {
		return nil, replay.AsReplayedError(ev.Result.Error)
	}

	var er execResult
	if err := decodeBody(ev.Result.Body, &er); err != nil {
		return nil, err
	}
	return replayResult{er}, nil
}

func decodeBody(snap *cassette.BodySnapshot, out any) error {
	raw := policy.BodyBytes(snap)
	if raw == nil {
		return fmt.Errorf("retrace: recorded query result was not captured; record with store_response_body=always")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("retrace: decoding recorded result: %w", err)
	}
	return nil
}

// replayRows serves a buffered result set through the driver.Rows interface.
// Used both during replay and to hand recorded-and-drained rows back to the
// live caller.
type replayRows struct {
	rs  *resultSet
	pos int
}

func newReplayRows(rs *resultSet) *replayRows { return &replayRows{rs: rs} }

func (r *replayRows) Columns() []string { return r.rs.Columns }

func (r *replayRows) Close() error { return nil }

func (r *replayRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rs.Rows) {
		return io.EOF
	}
	row := r.rs.Rows[r.pos]
	r.pos++
	for i := range dest {
		if i < len(row) {
			dest[i] = decodeValue(row[i])
		} else {
			dest[i] = nil
		}
	}
	return nil
}

// replayResult satisfies driver.Result from a recorded exec outcome.
type replayResult struct {
	er execResult
}

func (r replayResult) LastInsertId() (int64, error) { return r.er.LastInsertID, nil }
func (r replayResult) RowsAffected() (int64, error) { return r.er.RowsAffected, nil }
