package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFS_SaveLoadList(t *testing.T) {
	ctx := context.Background()
	s, err := NewFS(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "videos/UC1/a.jsonl.gz", []byte("one")))
	require.NoError(t, s.Save(ctx, "videos/UC1/b.jsonl.gz", []byte("three")))
	require.NoError(t, s.Save(ctx, "videos/UC2/a.jsonl.gz", []byte("x")))

	b, err := ReadAll(ctx, s, "videos/UC1/b.jsonl.gz")
	require.NoError(t, err)
	require.Equal(t, "three", string(b))

	files, err := s.List(ctx, "videos/UC1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "videos/UC1/a.jsonl.gz", files[0].Path)
	require.EqualValues(t, 5, files[1].Size)
	require.False(t, files[0].Modified.IsZero())
}

func TestFS_SaveOverwritesAtomically(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFS(root)
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "index/top/v2/index.json", []byte("old")))
	require.NoError(t, s.Save(ctx, "index/top/v2/index.json", []byte("new")))

	b, err := ReadAll(ctx, s, "index/top/v2/index.json")
	require.NoError(t, err)
	require.Equal(t, "new", string(b))

	entries, err := os.ReadDir(filepath.Join(root, "index", "top", "v2"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFS_LoadMissing(t *testing.T) {
	s, err := NewFS(t.TempDir())
	require.NoError(t, err)

	_, err = s.Load(context.Background(), "nope.json")
	require.ErrorIs(t, err, ErrNotFound)

	files, err := s.List(context.Background(), "nothing/here")
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestWithPrefix_ScopesPaths(t *testing.T) {
	ctx := context.Background()
	root, err := NewFS(t.TempDir())
	require.NoError(t, err)
	s := WithPrefix(root, "/db2/")

	require.NoError(t, s.Save(ctx, "channels/a.jsonl.gz", []byte("c")))

	files, err := s.List(ctx, "channels")
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "channels/a.jsonl.gz", files[0].Path)

	b, err := ReadAll(ctx, root, "db2/channels/a.jsonl.gz")
	require.NoError(t, err)
	require.Equal(t, "c", string(b))
}

func TestJoin(t *testing.T) {
	require.Equal(t, "a/b/c", Join("/a/", "", "b", "c/"))
	require.Equal(t, "", Join())
}
