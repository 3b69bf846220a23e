package updater

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"thirdcoast.systems/ytharvest/internal/db"
	"thirdcoast.systems/ytharvest/internal/seeds"
	"thirdcoast.systems/ytharvest/internal/source"
	"thirdcoast.systems/ytharvest/internal/store"
	"thirdcoast.systems/ytharvest/pkg/blobstore"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sliceUploads struct {
	items  []source.VideoItem
	err    error
	pulled int
	closed bool
}

func (s *sliceUploads) Next(ctx context.Context) (source.VideoItem, bool, error) {
	if s.err != nil {
		return source.VideoItem{}, false, s.err
	}
	if s.pulled >= len(s.items) {
		return source.VideoItem{}, false, nil
	}
	v := s.items[s.pulled]
	s.pulled++
	return v, true, nil
}

func (s *sliceUploads) Close() error {
	s.closed = true
	return nil
}

type fakeScraper struct {
	mu         sync.Mutex
	uploads    map[string][]source.VideoItem
	uploadErr  map[string]error
	recs       map[string]source.RecsResult
	tracks     map[string][]store.CaptionTrackInfo
	trackErr   map[string]error
	listings   []*sliceUploads
	recCalls   map[string]int
	trackCalls int
	// onUploads runs when a channel listing is opened.
	onUploads func(channelID string)
}

func newFakeScraper() *fakeScraper {
	return &fakeScraper{
		uploads:   map[string][]source.VideoItem{},
		uploadErr: map[string]error{},
		recs:      map[string]source.RecsResult{},
		tracks:    map[string][]store.CaptionTrackInfo{},
		trackErr:  map[string]error{},
		recCalls:  map[string]int{},
	}
}

func (f *fakeScraper) ChannelUploads(ctx context.Context, channelID string, log *slog.Logger) source.Uploads {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onUploads != nil {
		f.onUploads(channelID)
	}
	u := &sliceUploads{items: f.uploads[channelID], err: f.uploadErr[channelID]}
	f.listings = append(f.listings, u)
	return u
}

// RecsAndExtra returns two scraper recs per video unless a result is scripted.
func (f *fakeScraper) RecsAndExtra(ctx context.Context, videoID string, log *slog.Logger) source.RecsResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recCalls[videoID]++
	if r, ok := f.recs[videoID]; ok {
		return r
	}
	return source.RecsOK([]source.Rec{
		{ToVideoID: videoID + "-r1", Source: store.RecSourceScraper},
		{ToVideoID: videoID + "-r2", Source: store.RecSourceScraper},
	}, &store.VideoExtraStored{VideoID: videoID, Source: store.RecSourceScraper})
}

func (f *fakeScraper) CaptionTracks(ctx context.Context, videoID string, log *slog.Logger) ([]store.CaptionTrackInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.trackErr[videoID]; err != nil {
		return nil, err
	}
	if t, ok := f.tracks[videoID]; ok {
		return t, nil
	}
	return []store.CaptionTrackInfo{
		{Language: "fr", URL: "https://captions/" + videoID + "/fr"},
		{Language: "en-US", URL: "https://captions/" + videoID + "/en"},
	}, nil
}

func (f *fakeScraper) CaptionTrack(ctx context.Context, track store.CaptionTrackInfo, log *slog.Logger) (*source.CaptionTrack, error) {
	f.mu.Lock()
	f.trackCalls++
	f.mu.Unlock()
	return &source.CaptionTrack{Info: track, Captions: []store.Caption{{Text: track.URL}}}, nil
}

func (f *fakeScraper) totalRecCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.recCalls {
		n += c
	}
	return n
}

type fakeAPI struct {
	mu           sync.Mutex
	channels     map[string]*source.ChannelData
	related      map[string][]source.Rec
	relatedErr   error
	relatedCalls map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{channels: map[string]*source.ChannelData{}, related: map[string][]source.Rec{}, relatedCalls: map[string]int{}}
}

func (f *fakeAPI) ChannelData(ctx context.Context, channelID string) (*source.ChannelData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.channels[channelID]; ok {
		return c, nil
	}
	return nil, errors.New("channel lookup failed")
}

func (f *fakeAPI) RelatedVideos(ctx context.Context, videoID string) ([]source.Rec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relatedCalls[videoID]++
	if f.relatedErr != nil {
		return nil, f.relatedErr
	}
	return f.related[videoID], nil
}

type fakeWarehouse struct {
	noRecs map[string][]db.VideoRef
	recent []db.VideoRef
}

func (w *fakeWarehouse) VideosWithNoRecs(ctx context.Context, channelID string) ([]db.VideoRef, error) {
	return w.noRecs[channelID], nil
}

func (w *fakeWarehouse) RecentVideosPerChannel(ctx context.Context, perChannel int) ([]db.VideoRef, error) {
	return w.recent, nil
}

type harness struct {
	root      string
	store     *store.YtStore
	scraper   *fakeScraper
	api       *fakeAPI
	warehouse *fakeWarehouse
	opened    int
	updater   *Updater
}

func testConfig() Config {
	return Config{
		From:                time.Now().UTC().AddDate(-1, 0, 0),
		RefreshAllAfter:     23 * time.Hour,
		RefreshVideosWithin: 120 * 24 * time.Hour,
		RefreshRecsWithin:   30 * 24 * time.Hour,
		RefreshRecsMin:      2,
		UploadStopAfterOld:  3,
		DefaultParallel:     4,
		ParallelChannels:    2,
	}
}

func newHarness(t *testing.T, seedList []seeds.ChannelSeed, cfg Config) *harness {
	t.Helper()
	root := t.TempDir()
	fs, err := blobstore.NewFS(root)
	require.NoError(t, err)

	h := &harness{
		root:      root,
		store:     store.NewYtStore(fs),
		scraper:   newFakeScraper(),
		api:       newFakeAPI(),
		warehouse: &fakeWarehouse{noRecs: map[string][]db.VideoRef{}},
	}
	for _, s := range seedList {
		h.api.channels[s.ID] = &source.ChannelData{ID: s.ID, Title: s.Title, Status: store.ChannelAlive}
	}
	h.updater = New(Deps{
		Store:   h.store,
		Scraper: h.scraper,
		API:     h.api,
		Seeds:   seeds.Static(seedList),
		OpenWarehouse: func(ctx context.Context) (Warehouse, error) {
			h.opened++
			return h.warehouse, nil
		},
	}, cfg)
	return h
}

// age rewinds the modification time of every file in a partition.
func (h *harness) age(t *testing.T, partition string, by time.Duration) {
	t.Helper()
	when := time.Now().Add(-by)
	err := filepath.WalkDir(filepath.Join(h.root, filepath.FromSlash(partition)), func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		return os.Chtimes(p, when, when)
	})
	require.NoError(t, err)
}

func (h *harness) files(t *testing.T, partition string) int {
	t.Helper()
	files, err := h.store.Store.List(context.Background(), partition)
	require.NoError(t, err)
	return len(files)
}

func video(id string, uploaded time.Time) source.VideoItem {
	return source.VideoItem{ID: id, Title: "title " + id, UploadDate: uploaded}
}
