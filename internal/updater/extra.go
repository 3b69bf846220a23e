package updater

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"thirdcoast.systems/ytharvest/internal/metrics"
	"thirdcoast.systems/ytharvest/internal/parallel"
	"thirdcoast.systems/ytharvest/internal/pipe"
	"thirdcoast.systems/ytharvest/internal/source"
	"thirdcoast.systems/ytharvest/internal/store"
)

const (
	extraRecentPerChannel = 50
	extraAppendBatch      = 2000
)

type ChannelVideoItem struct {
	ChannelID    string `json:"channelId,omitempty"`
	ChannelTitle string `json:"channelTitle,omitempty"`
	VideoID      string `json:"videoId"`
}

type VideoExtraBatch struct {
	Updated  int           `json:"updated"`
	Path     string        `json:"path,omitempty"`
	Requests source.Counts `json:"requests"`
}

type ExtraSummary struct {
	Batches  int
	Failed   int
	Videos   int
	Requests source.Counts
	Duration time.Duration
}

// BackfillVideoExtra refreshes video_extra for the given videos, or for the
// most recent videos of every live channel when videoIDs is empty. limit
// caps the warehouse selection; zero means no cap.
func (u *Updater) BackfillVideoExtra(ctx context.Context, videoIDs []string, limit int, log *slog.Logger) (*ExtraSummary, error) {
	started := time.Now()
	cfg := u.cfg.Pipe

	var items []ChannelVideoItem
	if len(videoIDs) == 0 {
		w, err := u.lazyWarehouse(ctx)()
		if err != nil {
			return nil, fmt.Errorf("open warehouse: %w", err)
		}
		refs, err := w.RecentVideosPerChannel(ctx, extraRecentPerChannel)
		if err != nil {
			return nil, fmt.Errorf("recent videos: %w", err)
		}
		if limit > 0 && len(refs) > limit {
			refs = refs[:limit]
		}
		for _, r := range refs {
			items = append(items, ChannelVideoItem{ChannelID: r.ChannelID, VideoID: r.VideoID})
		}
		cfg.MinWorkItems, cfg.MaxParallel = 1000, 8
	} else {
		for _, id := range videoIDs {
			items = append(items, ChannelVideoItem{VideoID: id})
		}
		cfg.MinWorkItems, cfg.MaxParallel = 200, 2
	}
	cfg.MaxBatches = 0

	res, err := pipe.Run(ctx, u.pipe, PipeProcessVideoExtra, items, u.ProcessVideoExtra, cfg)
	if err != nil {
		return nil, err
	}

	var stats source.RequestStats
	sum := &ExtraSummary{Batches: res.Succeeded, Failed: res.Failed}
	for _, batches := range res.Outs() {
		for _, b := range batches {
			sum.Videos += b.Updated
			stats.Merge(b.Requests)
		}
	}
	sum.Requests = stats.Counts()
	sum.Duration = time.Since(started)

	log.Info("finished video extra backfill",
		"pipe", PipeProcessVideoExtra,
		"batches", sum.Batches,
		"failed_batches", sum.Failed,
		"videos", sum.Videos,
		"duration", sum.Duration.Round(time.Millisecond))
	return sum, nil
}

// ProcessVideoExtra fetches recs+extra for a batch of videos and appends the
// extras, one file per 2000 videos.
func (u *Updater) ProcessVideoExtra(ctx context.Context, b pipe.Batch[ChannelVideoItem], log *slog.Logger) ([]VideoExtraBatch, error) {
	var out []VideoExtraBatch
	for start := 0; start < len(b.Items); start += extraAppendBatch {
		if err := parallel.StopErr(ctx); err != nil {
			return out, err
		}
		chunk := b.Items[start:min(start+extraAppendBatch, len(b.Items))]
		stats := &source.RequestStats{}

		outcomes := parallel.Transform(ctx, chunk, u.cfg.DefaultParallel, func(ctx context.Context, v ChannelVideoItem) (*store.VideoExtraStored, error) {
			res := u.scraper.RecsAndExtra(ctx, v.VideoID, log.With("video_id", v.VideoID))
			stats.AddDirect(1)
			metrics.SourceRequests.WithLabelValues("direct", res.Outcome.String()).Inc()
			if res.Outcome == source.OutcomeError {
				return nil, res.Err
			}
			return res.Extra, nil
		})

		var extras []store.VideoExtraStored
		for _, o := range outcomes {
			if o.Err != nil {
				log.Warn("unable to get video extra", "video_id", o.In.VideoID, "error", o.Err)
				continue
			}
			if o.Out != nil {
				extras = append(extras, *o.Out)
			}
		}

		file, err := u.store.VideoExtraStore().Append(ctx, extras, log)
		if err != nil {
			return out, fmt.Errorf("append video extra: %w", err)
		}
		metrics.RecordsAppended.WithLabelValues("video_extra").Add(float64(len(extras)))

		eb := VideoExtraBatch{Updated: len(extras), Requests: stats.Counts()}
		if file != nil {
			eb.Path = file.Path
		}
		log.Info("recorded video_extra records", "video_extra", eb.Updated, "path", eb.Path)
		out = append(out, eb)
	}
	return out, nil
}
