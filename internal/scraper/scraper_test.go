package scraper

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"thirdcoast.systems/ytharvest/internal/source"
	"thirdcoast.systems/ytharvest/internal/store"
	"thirdcoast.systems/ytharvest/pkg/ytdlp"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func innertubeServer(t *testing.T, player string, next string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req innertubeReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "WEB", req.Context.Client.ClientName)

		switch r.URL.Path {
		case "/youtubei/v1/player":
			_, _ = w.Write([]byte(player))
		case "/youtubei/v1/next":
			_, _ = w.Write([]byte(next))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

const okPlayer = `{"playabilityStatus":{"status":"OK"},"videoDetails":{"videoId":"v1","title":"First","channelId":"UC1","author":"Chan","viewCount":"1234"}}`

const nextWithRecs = `{"contents":{"twoColumnWatchNextResults":{"secondaryResults":{"secondaryResults":{"results":[
	{"compactVideoRenderer":{"videoId":"r1","title":{"simpleText":"Rec One"},"shortBylineText":{"runs":[{"text":"Other","navigationEndpoint":{"browseEndpoint":{"browseId":"UC2"}}}]}}},
	{"lockupViewModel":{"contentId":"r2","contentType":"LOCKUP_CONTENT_TYPE_VIDEO","metadata":{"lockupMetadataViewModel":{"title":{"content":"Rec Two"}}}}},
	{"lockupViewModel":{"contentId":"PL1","contentType":"LOCKUP_CONTENT_TYPE_PLAYLIST"}},
	{"compactVideoRenderer":{"videoId":"r1","title":{"simpleText":"dup"}}},
	{"continuationItemRenderer":{}}
]}}}}}`

func TestRecsAndExtra_OK(t *testing.T) {
	srv := innertubeServer(t, okPlayer, nextWithRecs)
	s := New(Config{BaseURL: srv.URL, RPS: 1000})

	res := s.RecsAndExtra(context.Background(), "v1", discardLog())
	require.Equal(t, source.OutcomeOK, res.Outcome)
	require.NoError(t, res.Err)
	require.Equal(t, []source.Rec{
		{ToVideoID: "r1", ToVideoTitle: "Rec One", ToChannelID: "UC2", ToChannelTitle: "Other", Source: store.RecSourceScraper},
		{ToVideoID: "r2", ToVideoTitle: "Rec Two", Source: store.RecSourceScraper},
	}, res.Recs)
	require.NotNil(t, res.Extra)
	require.Equal(t, "UC1", res.Extra.ChannelID)
	require.EqualValues(t, 1234, *res.Extra.Views)
}

func TestRecsAndExtra_Restricted(t *testing.T) {
	player := `{"playabilityStatus":{"status":"LOGIN_REQUIRED","reason":"Sign in to confirm your age"}}`
	srv := innertubeServer(t, player, `{}`)
	s := New(Config{BaseURL: srv.URL, RPS: 1000})

	res := s.RecsAndExtra(context.Background(), "v1", discardLog())
	require.Equal(t, source.OutcomeRestricted, res.Outcome)
	require.Empty(t, res.Recs)
	require.Equal(t, "LOGIN_REQUIRED", res.Extra.Error)
}

func TestRecsAndExtra_RemovedVideoKeepsError(t *testing.T) {
	player := `{"playabilityStatus":{"status":"ERROR","reason":"Video unavailable"}}`
	srv := innertubeServer(t, player, `{}`)
	s := New(Config{BaseURL: srv.URL, RPS: 1000})

	res := s.RecsAndExtra(context.Background(), "gone", discardLog())
	require.Equal(t, source.OutcomeOK, res.Outcome)
	require.Empty(t, res.Recs)
	require.Equal(t, "ERROR", res.Extra.Error)
	require.Equal(t, "Video unavailable", res.Extra.SubError)
}

func TestRecsAndExtra_HTTPErrorIsTagged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	s := New(Config{BaseURL: srv.URL, RPS: 1000})

	res := s.RecsAndExtra(context.Background(), "v1", discardLog())
	require.Equal(t, source.OutcomeError, res.Outcome)
	require.ErrorContains(t, res.Err, "429")
}

func TestCaptionTrack_FetchesAndParses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("WEBVTT\n\n00:00.000 --> 00:02.000\nhi there\n"))
	}))
	defer srv.Close()
	s := New(Config{RPS: 1000})

	track, err := s.CaptionTrack(context.Background(), store.CaptionTrackInfo{Language: "en", URL: srv.URL + "/en.vtt"}, discardLog())
	require.NoError(t, err)
	require.Equal(t, "en", track.Info.Language)
	require.Equal(t, []store.Caption{{Duration: 2 * time.Second, Text: "hi there"}}, track.Captions)
}

// fakeYtdlp writes a shell script that prints canned yt-dlp output.
func fakeYtdlp(t *testing.T, lines ...string) *ytdlp.Client {
	t.Helper()
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	for _, l := range lines {
		b.WriteString("printf '%s\\n' '" + l + "'\n")
	}
	p := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(p, []byte(b.String()), 0o755))
	return &ytdlp.Client{Path: p}
}

func TestChannelUploads_StreamsNewestFirst(t *testing.T) {
	yt := fakeYtdlp(t,
		`{"id":"v3","title":"three","channel_id":"UC1","channel":"Chan","timestamp":1700000300,"duration":60,"view_count":9}`,
		`{"id":"v2","title":"two","upload_date":"20231101"}`,
	)
	s := New(Config{Ytdlp: yt})

	up := s.ChannelUploads(context.Background(), "UC1", discardLog())
	defer up.Close()

	v, ok, err := up.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v3", v.ID)
	require.Equal(t, "Chan", v.ChannelTitle)
	require.Equal(t, time.Unix(1700000300, 0).UTC(), v.UploadDate)
	require.Equal(t, time.Minute, v.Duration)

	v, ok, err = up.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "UC1", v.ChannelID)
	require.Equal(t, time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC), v.UploadDate)

	_, ok, err = up.Next(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCaptionTracks_FromInfo(t *testing.T) {
	yt := fakeYtdlp(t, `{"id":"v1","subtitles":{"en":[{"ext":"vtt","url":"https://x/en.vtt"}]},"automatic_captions":{"en":[{"ext":"vtt","url":"https://x/auto.vtt"}]}}`)
	s := New(Config{Ytdlp: yt})

	tracks, err := s.CaptionTracks(context.Background(), "v1", discardLog())
	require.NoError(t, err)
	require.Equal(t, []store.CaptionTrackInfo{
		{Language: "en", URL: "https://x/en.vtt"},
		{Language: "en", URL: "https://x/auto.vtt", Auto: true},
	}, tracks)
}

func TestRestricted(t *testing.T) {
	require.True(t, restricted("AGE_CHECK_REQUIRED", ""))
	require.True(t, restricted("LOGIN_REQUIRED", "This video may be inappropriate for some users."))
	require.False(t, restricted("LOGIN_REQUIRED", "This video is private"))
	require.False(t, restricted("OK", ""))
}
