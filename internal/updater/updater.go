// Package updater decides, per channel and per entity kind, what needs to be
// fetched since the last run and appends whatever was fetched successfully.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"thirdcoast.systems/ytharvest/internal/db"
	"thirdcoast.systems/ytharvest/internal/pipe"
	"thirdcoast.systems/ytharvest/internal/seeds"
	"thirdcoast.systems/ytharvest/internal/source"
	"thirdcoast.systems/ytharvest/internal/store"
)

type UpdateType string

const (
	All UpdateType = "all"
	// Channels refreshes channel metadata only.
	Channels UpdateType = "channels"
	// AllWithMissingRecs also revisits videos that have no recorded recs.
	AllWithMissingRecs UpdateType = "all-with-missing-recs"
)

func ParseUpdateType(s string) (UpdateType, error) {
	switch t := UpdateType(s); t {
	case All, Channels, AllWithMissingRecs:
		return t, nil
	case "":
		return All, nil
	default:
		return "", fmt.Errorf("unknown update type %q (want %s, %s or %s)", s, All, Channels, AllWithMissingRecs)
	}
}

const (
	PipeProcessChannels   = "ProcessChannels"
	PipeProcessVideoExtra = "ProcessVideoExtra"
)

var ErrNoWarehouse = errors.New("updater: no warehouse configured")

// Warehouse is the part of the SQL warehouse the updater reads.
type Warehouse interface {
	VideosWithNoRecs(ctx context.Context, channelID string) ([]db.VideoRef, error)
	RecentVideosPerChannel(ctx context.Context, perChannel int) ([]db.VideoRef, error)
}

type Config struct {
	From                time.Time
	RefreshAllAfter     time.Duration
	RefreshVideosWithin time.Duration
	RefreshRecsWithin   time.Duration
	RefreshRecsMin      int
	// UploadStopAfterOld is how many consecutive uploads older than the
	// refresh window end the upload listing.
	UploadStopAfterOld    int
	DefaultParallel       int
	ParallelChannels      int
	LimitedToSeedChannels []string
	Pipe                  pipe.Config
}

type Deps struct {
	Store   *store.YtStore
	Scraper source.Scraper
	API     source.API
	Seeds   seeds.Loader
	// OpenWarehouse is called at most once per run, on first use.
	OpenWarehouse func(ctx context.Context) (Warehouse, error)
	Pipe          *pipe.Context
}

type Updater struct {
	store         *store.YtStore
	scraper       source.Scraper
	api           source.API
	seeds         seeds.Loader
	openWarehouse func(ctx context.Context) (Warehouse, error)
	pipe          *pipe.Context
	cfg           Config
	now           func() time.Time
}

func New(deps Deps, cfg Config) *Updater {
	cfg.DefaultParallel = max(cfg.DefaultParallel, 1)
	cfg.ParallelChannels = max(cfg.ParallelChannels, 1)
	cfg.UploadStopAfterOld = max(cfg.UploadStopAfterOld, 1)
	return &Updater{
		store:         deps.Store,
		scraper:       deps.Scraper,
		api:           deps.API,
		seeds:         deps.Seeds,
		openWarehouse: deps.OpenWarehouse,
		pipe:          deps.Pipe,
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Register exposes the updater's pipe stages to worker processes.
func (u *Updater) Register(r *pipe.Registry) {
	pipe.Register(r, PipeProcessChannels, u.ProcessChannels)
	pipe.Register(r, PipeProcessVideoExtra, u.ProcessVideoExtra)
}

// lazyWarehouse opens the warehouse on first use and shares it for the rest
// of the batch.
func (u *Updater) lazyWarehouse(ctx context.Context) func() (Warehouse, error) {
	return sync.OnceValues(func() (Warehouse, error) {
		if u.openWarehouse == nil {
			return nil, ErrNoWarehouse
		}
		return u.openWarehouse(ctx)
	})
}

type RunSummary struct {
	Channels  int
	Succeeded int
	Failed    int
	Requests  source.Counts
	Duration  time.Duration
}

// ChannelWork is the pipe input for ProcessChannels.
type ChannelWork struct {
	Channel    store.ChannelStored `json:"channel"`
	UpdateType UpdateType          `json:"updateType"`
}

// ChannelsBatch is the pipe output of ProcessChannels.
type ChannelsBatch struct {
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Requests  source.Counts `json:"requests"`
}

// Update refreshes every seed channel and then, unless updateType is
// Channels, its videos, recs, extras and captions. Only fatal setup errors
// are returned; per-channel failures are counted in the summary.
func (u *Updater) Update(ctx context.Context, updateType UpdateType, log *slog.Logger) (*RunSummary, error) {
	started := time.Now()
	log = log.With("update_type", string(updateType))

	channels, err := u.UpdateAllChannels(ctx, log)
	if err != nil {
		return nil, err
	}
	sum := &RunSummary{Channels: len(channels)}
	if updateType == Channels {
		for _, c := range channels {
			if c.Status == store.ChannelAlive {
				sum.Succeeded++
			} else {
				sum.Failed++
			}
		}
		sum.Duration = time.Since(started)
		log.Info("channels update complete", "alive", sum.Succeeded, "dead", sum.Failed)
		return sum, nil
	}

	work := make([]ChannelWork, len(channels))
	for i, c := range channels {
		work[i] = ChannelWork{Channel: c, UpdateType: updateType}
	}

	res, err := pipe.Run(ctx, u.pipe, PipeProcessChannels, work, u.ProcessChannels, u.cfg.Pipe)
	if err != nil {
		return nil, err
	}

	var stats source.RequestStats
	reported := 0
	for _, b := range res.Outs() {
		sum.Succeeded += b.Succeeded
		sum.Failed += b.Failed
		reported += b.Succeeded + b.Failed + b.Skipped
		stats.Merge(b.Requests)
	}
	// Channels in failed or never started batches.
	sum.Failed += len(work) - reported
	sum.Requests = stats.Counts()
	sum.Duration = time.Since(started)

	log.Info("update complete",
		"channels_succeeded", sum.Succeeded,
		"channels_failed", sum.Failed,
		"direct_requests", sum.Requests.Direct,
		"fallback_requests", sum.Requests.Fallback,
		"duration", sum.Duration.Round(time.Millisecond))
	return sum, nil
}

func isYoungerThan(t time.Time, age time.Duration, now time.Time) bool {
	return now.Sub(t) <= age
}
