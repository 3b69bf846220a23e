package ytapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"thirdcoast.systems/ytharvest/internal/store"
)

func TestChannelData_Alive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/channels", r.URL.Path)
		require.Equal(t, "UC1", r.URL.Query().Get("id"))
		require.Equal(t, "k1", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"items":[{"id":"UC1","snippet":{"title":"Chan","country":"US","thumbnails":{"default":{"url":"https://logo"}}},"statistics":{"subscriberCount":"100","viewCount":"5000"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, []string{"k1"})
	ch, err := c.ChannelData(context.Background(), "UC1")
	require.NoError(t, err)
	require.Equal(t, store.ChannelAlive, ch.Status)
	require.Equal(t, "Chan", ch.Title)
	require.Equal(t, "https://logo", ch.LogoURL)
	require.EqualValues(t, 100, *ch.Subs)
	require.EqualValues(t, 5000, *ch.Views)
}

func TestChannelData_UnknownIsDead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	ch, err := NewClient(srv.URL, []string{"k"}).ChannelData(context.Background(), "UCgone")
	require.NoError(t, err)
	require.Equal(t, store.ChannelDead, ch.Status)
	require.Equal(t, "UCgone", ch.ID)
}

func TestRelatedVideos_RotatesKeyOnQuota(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		mu.Lock()
		keys = append(keys, key)
		mu.Unlock()
		if key == "spent" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"errors":[{"reason":"quotaExceeded"}]}}`))
			return
		}
		require.Equal(t, "v1", r.URL.Query().Get("relatedToVideoId"))
		_, _ = w.Write([]byte(`{"items":[{"id":{"videoId":"a"},"snippet":{"title":"A","channelId":"UC2"}},{"id":{}},{"id":{"videoId":"b"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, []string{"spent", "fresh"})
	recs, err := c.RelatedVideos(context.Background(), "v1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "a", recs[0].ToVideoID)
	require.Equal(t, store.RecSourceAPI, recs[0].Source)
	require.Equal(t, []string{"spent", "fresh"}, keys)

	// The exhausted key is not retried on the next call.
	_, err = c.RelatedVideos(context.Background(), "v1")
	require.NoError(t, err)
	require.Equal(t, []string{"spent", "fresh", "fresh"}, keys)
}

func TestGet_AllKeysExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"errors":[{"reason":"quotaExceeded"}]}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, []string{"a", "b"}).RelatedVideos(context.Background(), "v1")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "quotaExceeded", se.Reason)
}

func TestGet_NoKeys(t *testing.T) {
	_, err := NewClient("", nil).ChannelData(context.Background(), "UC1")
	require.ErrorIs(t, err, ErrNoKeys)
}
