package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/pkg/storage"
)

func TestPutGetRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "2026-08-23/a.json", []byte(`{}`)))
	data, err := store.Get(ctx, "2026-08-23/a.json")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
	assert.Equal(t, 1, store.Len())
}

func TestPutCopiesData(t *testing.T) {
	store := New()
	ctx := context.Background()

	buf := []byte(`{"a":1}`)
	require.NoError(t, store.Put(ctx, "k", buf))
	buf[2] = 'X'

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestGetMissingKey(t *testing.T) {
	store := New()
	_, err := store.Get(context.Background(), "nope")
	var notFound storage.ErrNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestListPrefixAndOrder(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "2026-08-23/b.json", nil))
	require.NoError(t, store.Put(ctx, "2026-08-22/a.json", nil))
	require.NoError(t, store.Put(ctx, "2026-08-23/a.json", nil))

	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-08-22/a.json", "2026-08-23/a.json", "2026-08-23/b.json"}, keys)

	keys, err = store.List(ctx, "2026-08-23/")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-08-23/a.json", "2026-08-23/b.json"}, keys)
}
