package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFS_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "tenant1/p1/export.glb", strings.NewReader("binary scene")))

	r, err := store.Get(ctx, "tenant1/p1/export.glb")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "binary scene", string(data))

	require.NoError(t, store.Delete(ctx, "tenant1/p1/export.glb"))
	_, err = store.Get(ctx, "tenant1/p1/export.glb")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.Delete(ctx, "tenant1/p1/export.glb"), ErrNotFound)
}

func TestFS_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "k", strings.NewReader("one")))
	require.NoError(t, store.Put(ctx, "k", strings.NewReader("two")))

	r, err := store.Get(ctx, "k")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "two", string(data))
}

func TestFS_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../outside", "/abs/path", "a/../../b", "."} {
		require.Error(t, store.Put(ctx, key, strings.NewReader("x")), "key %q", key)
	}
}
