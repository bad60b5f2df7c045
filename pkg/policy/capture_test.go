package policy

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/pkg/cassette"
)

func TestCapturePolicyValid(t *testing.T) {
	assert.True(t, CaptureNever.Valid())
	assert.True(t, CaptureOnError.Valid())
	assert.True(t, CaptureAlways.Valid())
	assert.False(t, CapturePolicy("sometimes").Valid())
}

func TestShouldStoreBody(t *testing.T) {
	assert.False(t, ShouldStoreBody(CaptureNever, false))
	assert.False(t, ShouldStoreBody(CaptureNever, true))
	assert.False(t, ShouldStoreBody(CaptureOnError, false))
	assert.True(t, ShouldStoreBody(CaptureOnError, true))
	assert.True(t, ShouldStoreBody(CaptureAlways, false))
	assert.True(t, ShouldStoreBody(CaptureAlways, true))
}

func TestTruncateBody(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 3*1024)

	kept, truncated := TruncateBody(data, 4)
	assert.False(t, truncated)
	assert.Len(t, kept, 3*1024)

	kept, truncated = TruncateBody(data, 2)
	assert.True(t, truncated)
	assert.Len(t, kept, 2*1024)

	// 0 disables the cap.
	kept, truncated = TruncateBody(data, 0)
	assert.False(t, truncated)
	assert.Len(t, kept, 3*1024)
}

func TestSnapshotBodyJSON(t *testing.T) {
	snap := SnapshotBody([]byte(`{"password":"s3cr3t","name":"Bob"}`), 64)
	require.NotNil(t, snap)

	assert.True(t, snap.Captured)
	assert.Equal(t, "json", snap.Encoding)
	assert.False(t, snap.Truncated)

	data := snap.Data.(map[string]any)
	assert.Equal(t, RedactedValue, data["password"])
	assert.Equal(t, "Bob", data["name"])
}

func TestSnapshotBodyText(t *testing.T) {
	snap := SnapshotBody([]byte("plain text from alice@example.com"), 64)
	require.NotNil(t, snap)
	assert.Equal(t, "text", snap.Encoding)
	assert.Equal(t, "plain text from [REDACTED:EMAIL]", snap.Data)
}

func TestSnapshotBodyBinary(t *testing.T) {
	snap := SnapshotBody([]byte{0xff, 0xfe, 0x00, 0x01}, 64)
	require.NotNil(t, snap)
	assert.Equal(t, "base64", snap.Encoding)
}

func TestSnapshotBodyHashCoversFullPayload(t *testing.T) {
	data := bytes.Repeat([]byte("y"), 3*1024)
	full := SnapshotBody(data, 64)
	capped := SnapshotBody(data, 2)

	require.True(t, capped.Truncated)
	assert.Equal(t, cassette.HashBody(data), capped.Hash)
	assert.Equal(t, full.Hash, capped.Hash)
	assert.Equal(t, len(data), capped.SizeBytes)
}

func TestSnapshotBodyNil(t *testing.T) {
	assert.Nil(t, SnapshotBody(nil, 64))
}

func TestUncapturedBody(t *testing.T) {
	snap := UncapturedBody([]byte(`{"a":1}`))
	require.NotNil(t, snap)
	assert.False(t, snap.Captured)
	assert.Nil(t, snap.Data)
	assert.Equal(t, cassette.HashBody([]byte(`{"a":1}`)), snap.Hash)
	assert.Nil(t, UncapturedBody(nil))
}

func TestBodyBytesRoundTrip(t *testing.T) {
	// JSON round trip.
	snap := SnapshotBody([]byte(`{"ok":true}`), 64)
	assert.JSONEq(t, `{"ok":true}`, string(BodyBytes(snap)))

	// Text round trip.
	snap = SnapshotBody([]byte("hello world"), 64)
	assert.Equal(t, []byte("hello world"), BodyBytes(snap))

	// Binary round trip.
	raw := []byte{0xff, 0xfe, 0x00, 0x01}
	snap = SnapshotBody(raw, 64)
	assert.Equal(t, raw, BodyBytes(snap))

	// Uncaptured bodies reconstruct to nothing.
	assert.Nil(t, BodyBytes(UncapturedBody([]byte("x"))))
	assert.Nil(t, BodyBytes(nil))
}
