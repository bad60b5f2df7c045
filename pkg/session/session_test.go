package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/pkg/cassette"
	"github.com/retracehq/retrace/pkg/policy"
)

// captureSink records the cassettes handed to it.
type captureSink struct {
	mu        sync.Mutex
	cassettes []*cassette.Cassette
}

func (s *captureSink) WriteCassette(_ context.Context, c *cassette.Cassette) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cassettes = append(s.cassettes, c)
	return cassette.Key(c, cassette.CompressionNone), nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cassettes)
}

func testRequest() *cassette.RequestSnapshot {
	return &cassette.RequestSnapshot{Method: "GET", Path: "/users/42", RouteTemplate: "/users/{id}"}
}

func TestBeginRecordingAssignsID(t *testing.T) {
	a := BeginRecording(testRequest(), Options{})
	b := BeginRecording(testRequest(), Options{})
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, ModeRecording, a.Mode())
	assert.False(t, a.Finalized())
}

func TestAppendEventAssignsSequentialIDs(t *testing.T) {
	rec := BeginRecording(testRequest(), Options{})

	sig := cassette.NewSignature("net/http", "GET", "http://api.internal/a")
	ev1, err := rec.AppendEvent(cassette.EventHTTPClient, sig, cassette.Result{Status: 200}, 5)
	require.NoError(t, err)
	ev2, err := rec.AppendEvent(cassette.EventHTTPClient, sig, cassette.Result{Status: 200}, 5)
	require.NoError(t, err)

	assert.Equal(t, 1, ev1.EID)
	assert.Equal(t, 2, ev2.EID)
	assert.GreaterOrEqual(t, ev1.StartOffsetMS, 0.0)
}

func TestAppendEventConcurrent(t *testing.T) {
	rec := BeginRecording(testRequest(), Options{})
	sig := cassette.NewSignature("net/http", "GET", "http://api.internal/a")

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			_, err := rec.AppendEvent(cassette.EventHTTPClient, sig, cassette.Result{Status: 200}, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	events := rec.Events()
	require.Len(t, events, n)

	// Event IDs are unique and strictly increasing in append order.
	seen := make(map[int]bool, n)
	prev := 0
	for _, ev := range events {
		assert.False(t, seen[ev.EID])
		seen[ev.EID] = true
		assert.Greater(t, ev.EID, prev)
		prev = ev.EID
	}
}

func TestAppendEventAfterFinalizeFails(t *testing.T) {
	rec := BeginRecording(testRequest(), Options{})
	_, _, err := rec.Finalize(context.Background(), &cassette.ResponseSnapshot{Status: 200})
	require.NoError(t, err)

	_, err = rec.AppendEvent(cassette.EventHTTPClient, cassette.Signature{}, cassette.Result{}, 0)
	var state *InvalidStateError
	require.ErrorAs(t, err, &state)
}

func TestFinalizeWritesThroughSink(t *testing.T) {
	sink := &captureSink{}
	rec := BeginRecording(testRequest(), Options{Service: "checkout", Env: "staging", Sink: sink})

	sig := cassette.NewSignature("net/http", "GET", "http://api.internal/a")
	_, err := rec.AppendEvent(cassette.EventHTTPClient, sig, cassette.Result{Status: 200}, 3)
	require.NoError(t, err)

	c, key, err := rec.Finalize(context.Background(), &cassette.ResponseSnapshot{Status: 200, DurationMS: 10})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.NotEmpty(t, key)
	assert.Equal(t, 1, sink.count())

	assert.Equal(t, cassette.SchemaVersion, c.SchemaVersion)
	assert.Equal(t, "checkout", c.Session.Service)
	assert.Equal(t, rec.ID(), c.Session.ID)
	assert.Len(t, c.Events, 1)
	require.NotNil(t, c.Stats)
	assert.Equal(t, 1, c.Stats.TotalEvents)
	assert.Equal(t, 1, c.Stats.EventCounts[cassette.EventHTTPClient])
	assert.True(t, rec.Finalized())
}

func TestFinalizeTwiceFails(t *testing.T) {
	rec := BeginRecording(testRequest(), Options{})
	_, _, err := rec.Finalize(context.Background(), &cassette.ResponseSnapshot{Status: 200})
	require.NoError(t, err)

	_, _, err = rec.Finalize(context.Background(), &cassette.ResponseSnapshot{Status: 200})
	var state *InvalidStateError
	require.ErrorAs(t, err, &state)
}

func TestErrorsOnlyDiscardsSuccesses(t *testing.T) {
	sink := &captureSink{}
	rec := BeginRecording(testRequest(), Options{ErrorsOnly: true, Sink: sink})

	c, key, err := rec.Finalize(context.Background(), &cassette.ResponseSnapshot{Status: 200})
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Empty(t, key)
	assert.Equal(t, 0, sink.count())
}

func TestErrorsOnlyKeepsServerErrors(t *testing.T) {
	sink := &captureSink{}
	rec := BeginRecording(testRequest(), Options{ErrorsOnly: true, Sink: sink})

	c, _, err := rec.Finalize(context.Background(), &cassette.ResponseSnapshot{Status: 503})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 1, sink.count())
}

func TestErrorsOnlyKeepsMarkedErrors(t *testing.T) {
	sink := &captureSink{}
	rec := BeginRecording(testRequest(), Options{ErrorsOnly: true, Sink: sink})
	rec.MarkError("panic", "boom", "stack")

	c, _, err := rec.Finalize(context.Background(), &cassette.ResponseSnapshot{Status: 200})
	require.NoError(t, err)
	require.NotNil(t, c)
	require.NotNil(t, c.ErrorInfo)
	assert.Equal(t, "panic", c.ErrorInfo.Type)
	assert.Equal(t, 1, sink.count())
}

func TestDiscardSkipsSink(t *testing.T) {
	sink := &captureSink{}
	rec := BeginRecording(testRequest(), Options{Sink: sink})
	rec.Discard()

	c, key, err := rec.Finalize(context.Background(), &cassette.ResponseSnapshot{Status: 200})
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Empty(t, key)
	assert.Equal(t, 0, sink.count())
	assert.True(t, rec.Finalized())
}

func TestSamplingRateConverges(t *testing.T) {
	// The accepted fraction over many draws must converge on the configured
	// rate. At n=10000 and p=0.3 the standard deviation of the fraction is
	// about 0.0046, so a 0.05 tolerance leaves >10 sigma of headroom.
	const (
		n    = 10000
		rate = 0.3
	)
	accepted := 0
	for range n {
		if BeginRecording(testRequest(), Options{SampleRate: rate}) != nil {
			accepted++
		}
	}
	assert.InDelta(t, rate, float64(accepted)/float64(n), 0.05)
}

func TestSamplingFullRateAlwaysRecords(t *testing.T) {
	for range 100 {
		require.NotNil(t, BeginRecording(testRequest(), Options{SampleRate: 1.0}))
	}
}

func TestSetRequestBody(t *testing.T) {
	rec := BeginRecording(testRequest(), Options{})
	rec.SetRequestBody(policy.SnapshotBody([]byte(`{"q":"x"}`), 64))

	c, _, err := rec.Finalize(context.Background(), &cassette.ResponseSnapshot{Status: 200})
	require.NoError(t, err)
	require.NotNil(t, c.Request.Body)
	assert.True(t, c.Request.Body.Captured)
}

func TestAppliedPoliciesRecorded(t *testing.T) {
	rec := BeginRecording(testRequest(), Options{
		SampleRate:        0.5,
		ErrorsOnly:        false,
		MaxBodyKB:         32,
		StoreRequestBody:  policy.CaptureAlways,
		StoreResponseBody: policy.CaptureNever,
	})
	if rec == nil {
		t.Skip("sampled out")
	}

	c, _, err := rec.Finalize(context.Background(), &cassette.ResponseSnapshot{Status: 200})
	require.NoError(t, err)
	require.NotNil(t, c.Policies)
	assert.Equal(t, 32, c.Policies.MaxBodyKB)
	assert.Equal(t, "always", c.Policies.StoreRequestBody)
	assert.Equal(t, "never", c.Policies.StoreResponseBody)
	assert.InDelta(t, 0.5, c.Policies.SampleRate, 1e-9)
}
