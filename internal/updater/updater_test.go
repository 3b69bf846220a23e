package updater

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"thirdcoast.systems/ytharvest/internal/db"
	"thirdcoast.systems/ytharvest/internal/seeds"
	"thirdcoast.systems/ytharvest/internal/source"
	"thirdcoast.systems/ytharvest/internal/store"
)

var oneChannel = []seeds.ChannelSeed{{ID: "UC1", Title: "Channel One"}}

func TestParseUpdateType(t *testing.T) {
	for in, want := range map[string]UpdateType{
		"":                      All,
		"all":                   All,
		"channels":              Channels,
		"all-with-missing-recs": AllWithMissingRecs,
	} {
		got, err := ParseUpdateType(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseUpdateType("some")
	require.Error(t, err)
}

func TestUpdate_FirstRunFetchesEverything(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, oneChannel, testConfig())
	now := time.Now().UTC()
	h.scraper.uploads["UC1"] = []source.VideoItem{
		video("v3", now.Add(-1*time.Hour)),
		video("v2", now.Add(-2*time.Hour)),
		video("v1", now.Add(-3*time.Hour)),
	}

	sum, err := h.updater.Update(ctx, All, discardLog())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Channels)
	require.Equal(t, 1, sum.Succeeded)
	require.Zero(t, sum.Failed)
	require.Equal(t, source.Counts{Direct: 3}, sum.Requests)

	channels, err := h.store.ChannelStore().LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	require.Equal(t, store.ChannelAlive, channels[0].Status)

	vids, err := h.store.VideoStore("UC1").LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, vids, 3)
	require.Equal(t, []string{"v3", "v2", "v1"}, []string{vids[0].VideoID, vids[1].VideoID, vids[2].VideoID})
	require.Equal(t, "Channel One", vids[0].ChannelTitle)

	recs, err := h.store.RecStore("UC1").LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 6)
	ranks := map[string][]int{}
	for _, r := range recs {
		require.Equal(t, store.RecSourceScraper, r.Source)
		ranks[r.FromVideoID] = append(ranks[r.FromVideoID], r.Rank)
	}
	for _, id := range []string{"v1", "v2", "v3"} {
		require.Equal(t, []int{1, 2}, ranks[id])
	}

	caps, err := h.store.CaptionStore("UC1").LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, caps, 3)
	for _, c := range caps {
		require.Equal(t, "en-US", c.Info.Language)
	}

	extras, err := h.store.VideoExtraStore().LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, extras, 3)
}

func TestUpdate_SecondRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, oneChannel, testConfig())
	now := time.Now().UTC()
	h.scraper.uploads["UC1"] = []source.VideoItem{video("v2", now.Add(-time.Hour)), video("v1", now.Add(-2*time.Hour))}

	_, err := h.updater.Update(ctx, All, discardLog())
	require.NoError(t, err)
	videos, recs, caps := h.files(t, "videos/UC1"), h.files(t, "recs/UC1"), h.files(t, "captions/UC1")

	sum, err := h.updater.Update(ctx, All, discardLog())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Succeeded)
	require.Zero(t, sum.Requests.Direct)

	require.Equal(t, videos, h.files(t, "videos/UC1"))
	require.Equal(t, recs, h.files(t, "recs/UC1"))
	require.Equal(t, caps, h.files(t, "captions/UC1"))
	require.Len(t, h.scraper.listings, 1)
	require.Equal(t, 2, h.files(t, "channels"))
}

func TestUpdate_StaleChannelRefreshesAndCheckpointNeverRegresses(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, oneChannel, testConfig())
	now := time.Now().UTC()
	v1, v2, v3 := video("v1", now.Add(-3*time.Hour)), video("v2", now.Add(-2*time.Hour)), video("v3", now.Add(-1*time.Hour))
	h.scraper.uploads["UC1"] = []source.VideoItem{v3, v2, v1}

	_, err := h.updater.Update(ctx, All, discardLog())
	require.NoError(t, err)
	md1, err := h.store.VideoStore("UC1").LatestFileMetadata(ctx)
	require.NoError(t, err)

	h.age(t, "videos/UC1", 48*time.Hour)
	v4 := video("v4", now.Add(-10*time.Minute))
	h.scraper.uploads["UC1"] = []source.VideoItem{v4, v3, v2, v1}

	_, err = h.updater.Update(ctx, All, discardLog())
	require.NoError(t, err)
	md2, err := h.store.VideoStore("UC1").LatestFileMetadata(ctx)
	require.NoError(t, err)
	require.True(t, md2.Ts.After(md1.Ts))
	require.True(t, md2.Ts.Equal(v4.UploadDate))

	vids, err := h.store.VideoStore("UC1").LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, vids, 7)

	// Only the new upload is past the caption checkpoint.
	caps, err := h.store.CaptionStore("UC1").LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, caps, 4)
	require.Equal(t, 4, h.scraper.trackCalls)

	// A later run that only sees older uploads leaves the checkpoint alone.
	h.age(t, "videos/UC1", 48*time.Hour)
	h.scraper.uploads["UC1"] = []source.VideoItem{v1}
	_, err = h.updater.Update(ctx, All, discardLog())
	require.NoError(t, err)
	md3, err := h.store.VideoStore("UC1").LatestFileMetadata(ctx)
	require.NoError(t, err)
	require.True(t, md3.Ts.Equal(md2.Ts))
}

func TestUpdate_RestrictedFallsBackToAPIOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, oneChannel, testConfig())
	now := time.Now().UTC()
	h.scraper.uploads["UC1"] = []source.VideoItem{video("v2", now.Add(-time.Hour)), video("v1", now.Add(-2*time.Hour))}
	h.scraper.recs["v2"] = source.RecsRestricted(&store.VideoExtraStored{VideoID: "v2", Error: "restricted", Source: store.RecSourceScraper})
	h.api.related["v2"] = []source.Rec{
		{ToVideoID: "a", Source: store.RecSourceScraper},
		{ToVideoID: "b"},
	}

	sum, err := h.updater.Update(ctx, All, discardLog())
	require.NoError(t, err)
	require.Equal(t, source.Counts{Direct: 2, Fallback: 1}, sum.Requests)
	require.Equal(t, 1, h.api.relatedCalls["v2"])
	require.Equal(t, 1, h.scraper.recCalls["v2"])

	recs, err := h.store.RecStore("UC1").LoadAll(ctx)
	require.NoError(t, err)
	var fromV2 []store.RecStored
	for _, r := range recs {
		if r.FromVideoID == "v2" {
			fromV2 = append(fromV2, r)
		}
	}
	require.Len(t, fromV2, 2)
	for i, r := range fromV2 {
		require.Equal(t, store.RecSourceAPI, r.Source)
		require.Equal(t, i+1, r.Rank)
	}

	extras, err := h.store.VideoExtraStore().LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, extras, 2)
}

func TestUpdate_FallbackFailureYieldsNoRecs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, oneChannel, testConfig())
	h.scraper.uploads["UC1"] = []source.VideoItem{video("v1", time.Now().UTC().Add(-time.Hour))}
	h.scraper.recs["v1"] = source.RecsRestricted(nil)
	h.api.relatedErr = errors.New("quota")

	sum, err := h.updater.Update(ctx, All, discardLog())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Succeeded)
	require.Zero(t, h.files(t, "recs/UC1"))
}

func TestUpdate_DeadAndBlockedChannelsAreNotProcessed(t *testing.T) {
	ctx := context.Background()
	list := []seeds.ChannelSeed{{ID: "UC1", Title: "gone"}, {ID: "UC2"}, {ID: "UC3"}}
	h := newHarness(t, list, testConfig())
	delete(h.api.channels, "UC1")
	h.api.channels["UC2"].StatusMessage = "blocked"
	h.scraper.uploads["UC3"] = []source.VideoItem{video("v1", time.Now().UTC().Add(-time.Hour))}

	sum, err := h.updater.Update(ctx, All, discardLog())
	require.NoError(t, err)
	require.Equal(t, 3, sum.Channels)
	require.Equal(t, 2, sum.Succeeded)
	require.Zero(t, sum.Failed)
	require.Len(t, h.scraper.listings, 1)

	channels, err := h.store.ChannelStore().LoadAll(ctx)
	require.NoError(t, err)
	status := map[string]store.ChannelStatus{}
	for _, c := range channels {
		status[c.ChannelID] = c.Status
	}
	require.Equal(t, store.ChannelDead, status["UC1"])
	require.Equal(t, store.ChannelAlive, status["UC3"])
}

func TestUpdate_ChannelFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, []seeds.ChannelSeed{{ID: "UC1"}, {ID: "UC2"}}, testConfig())
	h.scraper.uploadErr["UC1"] = errors.New("listing broke")
	h.scraper.uploads["UC2"] = []source.VideoItem{video("v1", time.Now().UTC().Add(-time.Hour))}

	sum, err := h.updater.Update(ctx, All, discardLog())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Succeeded)
	require.Equal(t, 1, sum.Failed)
	require.Equal(t, 1, h.files(t, "videos/UC2"))
}

func TestUpdate_ChannelsOnly(t *testing.T) {
	h := newHarness(t, oneChannel, testConfig())
	h.scraper.uploads["UC1"] = []source.VideoItem{video("v1", time.Now().UTC())}

	sum, err := h.updater.Update(context.Background(), Channels, discardLog())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Channels)
	require.Equal(t, 1, sum.Succeeded)
	require.Zero(t, sum.Failed)
	require.Empty(t, h.scraper.listings)
	require.Equal(t, 1, h.files(t, "channels"))
}

func TestUpdate_ChannelsOnlyCountsDeadAsFailed(t *testing.T) {
	h := newHarness(t, []seeds.ChannelSeed{{ID: "UC1"}, {ID: "UC2"}, {ID: "UC3"}}, testConfig())
	delete(h.api.channels, "UC2")

	sum, err := h.updater.Update(context.Background(), Channels, discardLog())
	require.NoError(t, err)
	require.Equal(t, 3, sum.Channels)
	require.Equal(t, 2, sum.Succeeded)
	require.Equal(t, 1, sum.Failed)
}

func TestUpdate_CancelStopsStartingChannels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var list []seeds.ChannelSeed
	for i := range 6 {
		list = append(list, seeds.ChannelSeed{ID: fmt.Sprintf("UC%d", i)})
	}
	cfg := testConfig()
	cfg.ParallelChannels = 1
	h := newHarness(t, list, cfg)
	h.scraper.onUploads = func(string) { cancel() }

	sum, err := h.updater.Update(ctx, All, discardLog())
	require.NoError(t, err)
	require.Len(t, h.scraper.listings, 1, "only the channel running at cancellation is processed")
	require.Equal(t, 6, sum.Channels)
	require.Equal(t, 1, sum.Succeeded)
	require.Equal(t, 5, sum.Failed)
}

func TestUpdate_MissingRecsUsesWarehouseWhenVideosAreFresh(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, oneChannel, testConfig())
	h.scraper.uploads["UC1"] = []source.VideoItem{video("v1", time.Now().UTC().Add(-time.Hour))}

	_, err := h.updater.Update(ctx, All, discardLog())
	require.NoError(t, err)
	require.Zero(t, h.opened)

	h.warehouse.noRecs["UC1"] = []db.VideoRef{{VideoID: "old1", Title: "Old"}}
	_, err = h.updater.Update(ctx, AllWithMissingRecs, discardLog())
	require.NoError(t, err)
	require.Equal(t, 1, h.opened)
	require.Equal(t, 1, h.scraper.recCalls["old1"])
	require.Len(t, h.scraper.listings, 1)
}

func TestUpdate_NoSeedsIsFatal(t *testing.T) {
	h := newHarness(t, nil, testConfig())
	_, err := h.updater.Update(context.Background(), All, discardLog())
	require.ErrorIs(t, err, seeds.ErrNoSeeds)
}

func TestUpdate_LimitedToSeedChannels(t *testing.T) {
	cfg := testConfig()
	cfg.LimitedToSeedChannels = []string{"UC2"}
	h := newHarness(t, []seeds.ChannelSeed{{ID: "UC1"}, {ID: "UC2"}}, cfg)

	sum, err := h.updater.Update(context.Background(), Channels, discardLog())
	require.NoError(t, err)
	require.Equal(t, 1, sum.Channels)
}

func TestChannelVidItems_StopsAfterConsecutiveOldUploads(t *testing.T) {
	h := newHarness(t, oneChannel, testConfig())
	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)
	old := now.Add(-48 * time.Hour)
	h.scraper.uploads["UC1"] = []source.VideoItem{
		video("pinned", old),
		video("n1", now.Add(-time.Hour)),
		video("n2", now.Add(-2*time.Hour)),
		video("o1", old),
		video("o2", old),
		video("o3", old),
		video("unreached", now.Add(-3*time.Hour)),
	}

	vids, err := h.updater.channelVidItems(context.Background(), "UC1", from, discardLog())
	require.NoError(t, err)
	require.Len(t, vids, 2)
	require.Equal(t, "n1", vids[0].ID)
	require.Equal(t, "n2", vids[1].ID)

	listing := h.scraper.listings[0]
	require.Equal(t, 6, listing.pulled)
	require.True(t, listing.closed)
}

func TestVideosToUpdateRecs_BackfillsToMinimum(t *testing.T) {
	cfg := testConfig()
	cfg.RefreshRecsMin = 10
	h := newHarness(t, oneChannel, cfg)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	h.updater.now = func() time.Time { return now }

	days := func(d int) time.Time { return now.AddDate(0, 0, -d) }
	var vids []source.VideoItem
	for d := 48; d >= 40; d-- {
		vids = append(vids, video(fmt.Sprintf("old%d", d), days(d)))
	}
	vids = append(vids, video("fresh3", days(3)), video("fresh1", days(1)), video("fresh2", days(2)))

	refs := h.updater.videosToUpdateRecs(vids, &store.FileMeta{Ts: days(35)})
	require.Len(t, refs, 10)

	ids := make([]string, len(refs))
	seen := map[string]bool{}
	for i, r := range refs {
		ids[i] = r.ID
		require.False(t, seen[r.ID])
		seen[r.ID] = true
	}
	require.Equal(t, []string{"fresh1", "fresh2", "fresh3"}, ids[:3])
	// The newest seven of the older uploads fill the rest.
	for d := 40; d <= 46; d++ {
		require.True(t, seen[fmt.Sprintf("old%d", d)], "day %d", d)
	}
	require.False(t, seen["old47"])
}

func TestVideosToUpdateRecs_FirstTimeTakesAll(t *testing.T) {
	h := newHarness(t, oneChannel, testConfig())
	now := time.Now().UTC()
	vids := []source.VideoItem{video("a", now.AddDate(-1, 0, 0)), video("b", now.AddDate(0, -6, 0)), video("c", now)}

	refs := h.updater.videosToUpdateRecs(vids, nil)
	require.Equal(t, []videoRef{{ID: "c", Title: "title c"}, {ID: "b", Title: "title b"}, {ID: "a", Title: "title a"}}, refs)
}

func TestSaveNewCaptions_EnglishOnlyAndFailuresSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, oneChannel, testConfig())
	now := time.Now().UTC()
	h.scraper.tracks["v1"] = []store.CaptionTrackInfo{{Language: "de"}}
	h.scraper.trackErr["v2"] = errors.New("no captions")
	h.scraper.tracks["v3"] = []store.CaptionTrackInfo{{Language: "en-GB", URL: "gb", Auto: true}, {Language: "en", URL: "en"}}

	vids := []source.VideoItem{video("v1", now), video("v2", now), video("v3", now)}
	err := h.updater.saveNewCaptions(ctx, store.ChannelStored{ChannelID: "UC1"}, vids, discardLog())
	require.NoError(t, err)

	caps, err := h.store.CaptionStore("UC1").LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, caps, 1)
	require.Equal(t, "v3", caps[0].VideoID)
	require.Equal(t, "gb", caps[0].Info.URL)
}

func TestIsEnglish(t *testing.T) {
	require.True(t, isEnglish("en"))
	require.True(t, isEnglish("en-US"))
	require.False(t, isEnglish("fr"))
	require.False(t, isEnglish("not a tag!"))
}

func TestProcessChannels_ElapsedIsPerChannel(t *testing.T) {
	cfg := testConfig()
	cfg.ParallelChannels = 1
	h := newHarness(t, []seeds.ChannelSeed{{ID: "UC1"}, {ID: "UC2"}}, cfg)
	h.scraper.onUploads = func(id string) {
		if id == "UC1" {
			time.Sleep(200 * time.Millisecond)
		}
	}

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	_, err := h.updater.Update(context.Background(), All, log)
	require.NoError(t, err)

	elapsed := map[string]time.Duration{}
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var entry struct {
			Msg       string `json:"msg"`
			ChannelID string `json:"channel_id"`
			Elapsed   int64  `json:"elapsed"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
		if entry.Msg == "completed update of videos/recs/captions" {
			elapsed[entry.ChannelID] = time.Duration(entry.Elapsed)
		}
	}
	require.Len(t, elapsed, 2)
	require.GreaterOrEqual(t, elapsed["UC1"], 200*time.Millisecond)
	require.Less(t, elapsed["UC2"], 150*time.Millisecond)
}
