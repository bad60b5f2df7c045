// Package diff compares two cassettes recorded for the same endpoint and
// reports what changed: response status, timing, bodies, and the set of
// dependency calls. Used by the CLI for regression triage between a
// baseline recording and a later one.
package diff

import (
	"encoding/json"
	"fmt"

	"github.com/retracehq/retrace/pkg/cassette"
)

// EventDiff describes how one dependency call changed between recordings.
type EventDiff struct {
	Index int    `json:"index"`
	Type  string `json:"type"`

	StatusChanged bool `json:"status_changed,omitempty"`
	OldStatus     int  `json:"old_status,omitempty"`
	NewStatus     int  `json:"new_status,omitempty"`

	DurationDeltaMS  float64 `json:"duration_delta_ms,omitempty"`
	DurationDeltaPct float64 `json:"duration_delta_pct,omitempty"`

	TargetChanged bool   `json:"target_changed,omitempty"`
	OldTarget     string `json:"old_target,omitempty"`
	NewTarget     string `json:"new_target,omitempty"`

	BodyChanged bool `json:"body_changed,omitempty"`

	Critical bool   `json:"critical"`
	Summary  string `json:"summary"`
}

// ResponseDiff describes how the top-level response changed.
type ResponseDiff struct {
	StatusChanged    bool    `json:"status_changed"`
	OldStatus        int     `json:"old_status"`
	NewStatus        int     `json:"new_status"`
	DurationDeltaMS  float64 `json:"duration_delta_ms"`
	DurationDeltaPct float64 `json:"duration_delta_pct"`
	BodyChanged      bool    `json:"body_changed"`
}

// Report is the full comparison of two cassettes. A is the baseline,
// B the candidate.
type Report struct {
	KeyA string `json:"cassette_a"`
	KeyB string `json:"cassette_b"`

	Method string `json:"method"`
	Path   string `json:"path"`

	HasDifferences bool `json:"has_differences"`
	// IsRegression is set when a success turned into an error, an event
	// status degraded, or the dependency call set changed.
	IsRegression bool `json:"is_regression"`

	Response ResponseDiff `json:"response"`

	EventCountA  int         `json:"event_count_a"`
	EventCountB  int         `json:"event_count_b"`
	EventDiffs   []EventDiff `json:"event_diffs,omitempty"`
	ExtraEventsA []int       `json:"extra_events_a,omitempty"` // indices only in A
	ExtraEventsB []int       `json:"extra_events_b,omitempty"` // indices only in B

	TotalDurationDeltaMS float64 `json:"total_duration_delta_ms"`
	CriticalDiffs        int     `json:"critical_diffs"`
}

// Compare diffs baseline a against candidate b. Events are paired by
// signature in order, so an inserted or removed call shows up as extra
// rather than cascading mismatches.
func Compare(a, b *cassette.Cassette, keyA, keyB string) *Report {
	r := &Report{
		KeyA:        keyA,
		KeyB:        keyB,
		Method:      a.Request.Method,
		Path:        a.Request.Path,
		EventCountA: len(a.Events),
		EventCountB: len(b.Events),
	}

	r.Response = CompareResponses(a.Response, b.Response)
	if r.Response.StatusChanged || r.Response.BodyChanged {
		r.HasDifferences = true
	}
	if r.Response.StatusChanged && a.Response.Status < 400 && b.Response.Status >= 400 {
		r.IsRegression = true
	}
	r.TotalDurationDeltaMS = b.Response.DurationMS - a.Response.DurationMS

	pairs, extraA, extraB := pairEvents(a.Events, b.Events)
	r.ExtraEventsA = extraA
	r.ExtraEventsB = extraB
	if len(extraA) > 0 || len(extraB) > 0 {
		r.HasDifferences = true
		r.IsRegression = true
	}

	for _, p := range pairs {
		d := compareEvents(p.idxA, a.Events[p.idxA], b.Events[p.idxB])
		if d == nil {
			continue
		}
		r.HasDifferences = true
		r.EventDiffs = append(r.EventDiffs, *d)
		if d.Critical {
			r.CriticalDiffs++
			r.IsRegression = true
		}
	}

	return r
}

type pair struct{ idxA, idxB int }

// pairEvents greedily matches events by signature while preserving order.
// Unmatched indices on either side are reported separately.
func pairEvents(a, b []cassette.Event) (pairs []pair, extraA, extraB []int) {
	usedB := make([]bool, len(b))
	next := 0
	for i := range a {
		matched := -1
		for j := next; j < len(b); j++ {
			if usedB[j] {
				continue
			}
			if a[i].Signature.Equal(b[j].Signature) {
				matched = j
				break
			}
		}
		if matched < 0 {
			extraA = append(extraA, i)
			continue
		}
		usedB[matched] = true
		if matched == next {
			next++
		}
		pairs = append(pairs, pair{idxA: i, idxB: matched})
	}
	for j := range b {
		if !usedB[j] {
			extraB = append(extraB, j)
		}
	}
	return pairs, extraA, extraB
}

// CompareResponses diffs two response envelopes. Exposed separately so the
// replay middleware can compare a recorded response against the live one
// without building a full candidate cassette.
func CompareResponses(a, b cassette.ResponseSnapshot) ResponseDiff {
	d := ResponseDiff{
		OldStatus:       a.Status,
		NewStatus:       b.Status,
		DurationDeltaMS: b.DurationMS - a.DurationMS,
	}
	d.StatusChanged = a.Status != b.Status
	if a.DurationMS > 0 {
		d.DurationDeltaPct = d.DurationDeltaMS / a.DurationMS * 100
	}
	d.BodyChanged = !bodiesEqual(a.Body, b.Body)
	return d
}

func compareEvents(index int, a, b cassette.Event) *EventDiff {
	d := &EventDiff{
		Index: index,
		Type:  a.Type,
	}

	changed := false

	if a.Result.Status != b.Result.Status {
		d.StatusChanged = true
		d.OldStatus = a.Result.Status
		d.NewStatus = b.Result.Status
		changed = true
		if b.Result.Status >= 400 && a.Result.Status < 400 {
			d.Critical = true
		}
	}

	if a.Signature.Target != b.Signature.Target {
		d.TargetChanged = true
		d.OldTarget = a.Signature.Target
		d.NewTarget = b.Signature.Target
		changed = true
	}

	d.DurationDeltaMS = b.DurationMS - a.DurationMS
	if a.DurationMS > 0 {
		d.DurationDeltaPct = d.DurationDeltaMS / a.DurationMS * 100
	}
	// Timing alone is noise below 2x; flag but don't treat as a difference.
	if a.DurationMS > 0 && b.DurationMS > 2*a.DurationMS && d.DurationDeltaMS > 50 {
		changed = true
	}

	if !bodiesEqual(a.Result.Body, b.Result.Body) {
		d.BodyChanged = true
		changed = true
	}

	if (a.Result.Error == nil) != (b.Result.Error == nil) {
		d.Critical = true
		changed = true
	}

	if !changed {
		return nil
	}
	d.Summary = summarize(d)
	return d
}

// bodiesEqual compares captured bodies by hash when both carry one, falling
// back to a canonical JSON comparison of the data.
func bodiesEqual(a, b *cassette.BodySnapshot) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.Hash != "" && b.Hash != "" {
		return a.Hash == b.Hash
	}
	ja, errA := json.Marshal(a.Data)
	jb, errB := json.Marshal(b.Data)
	if errA != nil || errB != nil {
		return errA == nil && errB == nil
	}
	return string(ja) == string(jb)
}

func summarize(d *EventDiff) string {
	switch {
	case d.StatusChanged:
		return fmt.Sprintf("status %d -> %d", d.OldStatus, d.NewStatus)
	case d.TargetChanged:
		return fmt.Sprintf("target %s -> %s", d.OldTarget, d.NewTarget)
	case d.BodyChanged:
		return "response body changed"
	default:
		return fmt.Sprintf("duration %+.1fms (%+.0f%%)", d.DurationDeltaMS, d.DurationDeltaPct)
	}
}
