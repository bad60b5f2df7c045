package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/pkg/storage"
)

func TestPutGetRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key := "2026-08-23/GET_users-id_abc12345.json"
	require.NoError(t, store.Put(ctx, key, []byte(`{"schema_version":"1.0"}`)))

	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"schema_version":"1.0"}`, string(data))

	// Key maps to a real file under the date directory.
	_, err = os.Stat(filepath.Join(store.Root(), "2026-08-23", "GET_users-id_abc12345.json"))
	require.NoError(t, err)
}

func TestGetMissingKey(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "2026-08-23/nope.json")
	var notFound storage.ErrNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "2026-08-23/nope.json", notFound.Key)
}

func TestListFiltersAndSorts(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "2026-08-23/b.json", []byte("{}")))
	require.NoError(t, store.Put(ctx, "2026-08-23/a.json.gz", []byte("{}")))
	require.NoError(t, store.Put(ctx, "2026-08-22/c.json", []byte("{}")))
	require.NoError(t, store.Put(ctx, "2026-08-23/notes.txt", []byte("ignored")))

	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2026-08-22/c.json",
		"2026-08-23/a.json.gz",
		"2026-08-23/b.json",
	}, keys)

	keys, err = store.List(ctx, "2026-08-23/")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-08-23/a.json.gz", "2026-08-23/b.json"}, keys)
}

func TestRejectsEscapingKeys(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), "../outside.json", []byte("{}"))
	require.Error(t, err)
	_, err = store.Get(context.Background(), "../../etc/passwd")
	require.Error(t, err)
}

func TestNewCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cassettes")
	store, err := New(dir)
	require.NoError(t, err)

	info, err := os.Stat(store.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
