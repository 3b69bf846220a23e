package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"thirdcoast.systems/ytharvest/pkg/blobstore"
)

func newTestStore(t *testing.T) *YtStore {
	t.Helper()
	fs, err := blobstore.NewFS(t.TempDir())
	require.NoError(t, err)
	return NewYtStore(fs)
}

func TestAppend_EmptyWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t).VideoStore("UC1")

	fi, err := s.Append(ctx, nil, nil)
	require.NoError(t, err)
	require.Nil(t, fi)

	md, err := s.LatestFileMetadata(ctx)
	require.NoError(t, err)
	require.Nil(t, md)
}

func TestAppend_RoundTripsAndNamesByMaxTs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t).VideoStore("UC1")

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t3 := time.Date(2024, 3, 1, 12, 30, 0, 500, time.UTC)
	vids := []VideoStored{
		{VideoID: "a", ChannelID: "UC1", UploadDate: t1},
		{VideoID: "c", ChannelID: "UC1", UploadDate: t3},
	}

	fi, err := s.Append(ctx, vids, nil)
	require.NoError(t, err)
	require.NotNil(t, fi)
	require.Contains(t, fi.Path, "videos/UC1/2024-03-01_12-30-00.000000500.")

	md, err := s.LatestFileMetadata(ctx)
	require.NoError(t, err)
	require.NotNil(t, md)
	require.True(t, md.Ts.Equal(t3))

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "a", all[0].VideoID)
	require.True(t, all[1].UploadDate.Equal(t3))
}

func TestLatestFileMetadata_NeverRegresses(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t).CaptionStore("UC1")

	newer := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	older := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Append(ctx, []CaptionStored{{VideoID: "n", UploadDate: newer}}, nil)
	require.NoError(t, err)
	first, err := s.LatestFileMetadata(ctx)
	require.NoError(t, err)

	// A later run that only observed stale data.
	_, err = s.Append(ctx, []CaptionStored{{VideoID: "o", UploadDate: older}}, nil)
	require.NoError(t, err)
	second, err := s.LatestFileMetadata(ctx)
	require.NoError(t, err)

	require.True(t, second.Ts.Equal(first.Ts))
	require.False(t, second.Modified.Before(first.Modified))
}

func TestPartitionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	ys := newTestStore(t)

	_, err := ys.RecStore("UC1").Append(ctx, []RecStored{{FromVideoID: "a", ToVideoID: "b", Rank: 1, Updated: time.Now()}}, nil)
	require.NoError(t, err)

	md, err := ys.RecStore("UC2").LatestFileMetadata(ctx)
	require.NoError(t, err)
	require.Nil(t, md)

	md, err = ys.VideoStore("UC1").LatestFileMetadata(ctx)
	require.NoError(t, err)
	require.Nil(t, md)
}

func TestParseFileTs_IgnoresForeignFiles(t *testing.T) {
	_, ok := parseFileTs("videos/UC1/readme.txt")
	require.False(t, ok)
	_, ok = parseFileTs("videos/UC1/garbage.jsonl.gz")
	require.False(t, ok)

	ts, ok := parseFileTs("videos/UC1/2024-01-02_03-04-05.000000000.abcd1234.jsonl.gz")
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ts)
}
