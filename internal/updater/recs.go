package updater

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"thirdcoast.systems/ytharvest/internal/metrics"
	"thirdcoast.systems/ytharvest/internal/parallel"
	"thirdcoast.systems/ytharvest/internal/source"
	"thirdcoast.systems/ytharvest/internal/store"
)

type videoRef struct {
	ID    string
	Title string
}

type fetchedRecs struct {
	From  videoRef
	Recs  []source.Rec
	Extra *store.VideoExtraStored
}

func (u *Updater) saveRecsAndExtra(ctx context.Context, c store.ChannelStored, vids []source.VideoItem,
	warehouse func() (Warehouse, error), updateType UpdateType, stats *source.RequestStats, log *slog.Logger) error {
	recStore := u.store.RecStore(c.ChannelID)

	var toUpdate []videoRef
	if updateType == AllWithMissingRecs {
		w, err := warehouse()
		if err != nil {
			return fmt.Errorf("open warehouse: %w", err)
		}
		refs, err := w.VideosWithNoRecs(ctx, c.ChannelID)
		if err != nil {
			return fmt.Errorf("videos with no recs: %w", err)
		}
		for _, r := range refs {
			toUpdate = append(toUpdate, videoRef{ID: r.VideoID, Title: r.Title})
		}
		log.Info("found videos missing recommendations", "videos", len(toUpdate))
	} else {
		md, err := recStore.LatestFileMetadata(ctx)
		if err != nil {
			return fmt.Errorf("rec checkpoint: %w", err)
		}
		toUpdate = u.videosToUpdateRecs(vids, md)
	}

	fetched, restricted := u.fetchRecs(ctx, toUpdate, stats, log)
	if len(restricted) > 0 {
		fallback := u.fetchFallbackRecs(ctx, restricted, stats, log)
		fetched = append(fetched, fallback...)
		ids := make([]string, len(restricted))
		for i, r := range restricted {
			ids[i] = r.From.ID
		}
		log.Info("video recommendations fell back to the api", "videos", len(restricted), "video_ids", ids)
	}

	updated := u.now()
	var recsStored []store.RecStored
	var extras []store.VideoExtraStored
	for _, f := range fetched {
		for i, r := range f.Recs {
			recsStored = append(recsStored, store.RecStored{
				FromChannelID:  c.ChannelID,
				FromVideoID:    f.From.ID,
				FromVideoTitle: f.From.Title,
				ToChannelID:    r.ToChannelID,
				ToChannelTitle: r.ToChannelTitle,
				ToVideoID:      r.ToVideoID,
				ToVideoTitle:   r.ToVideoTitle,
				Rank:           i + 1,
				Source:         r.Source,
				Updated:        updated,
			})
		}
		if f.Extra != nil {
			extras = append(extras, *f.Extra)
		}
	}
	for _, r := range restricted {
		if r.Extra != nil {
			extras = append(extras, *r.Extra)
		}
	}

	if _, err := recStore.Append(ctx, recsStored, log); err != nil {
		return fmt.Errorf("append recs: %w", err)
	}
	metrics.RecordsAppended.WithLabelValues("rec").Add(float64(len(recsStored)))

	if _, err := u.store.VideoExtraStore().Append(ctx, extras, log); err != nil {
		return fmt.Errorf("append video extra: %w", err)
	}
	metrics.RecordsAppended.WithLabelValues("video_extra").Add(float64(len(extras)))

	log.Info("recorded recs", "recs", len(recsStored), "videos", len(fetched), "video_extra", len(extras))
	return nil
}

// videosToUpdateRecs picks the videos whose recs are due: all of them the
// first time, otherwise those uploaded since the last rec update or within
// RefreshRecsWithin. The selection is topped up with the newest remaining
// videos until it reaches RefreshRecsMin.
func (u *Updater) videosToUpdateRecs(vids []source.VideoItem, prev *store.FileMeta) []videoRef {
	desc := slices.Clone(vids)
	slices.SortStableFunc(desc, func(a, b source.VideoItem) int { return b.UploadDate.Compare(a.UploadDate) })

	now := u.now()
	selected := make([]source.VideoItem, 0, len(desc))
	picked := map[string]bool{}
	for _, v := range desc {
		if picked[v.ID] {
			continue
		}
		if prev == nil || v.UploadDate.After(prev.Ts) || isYoungerThan(v.UploadDate, u.cfg.RefreshRecsWithin, now) {
			selected = append(selected, v)
			picked[v.ID] = true
		}
	}
	for _, v := range desc {
		if len(selected) >= u.cfg.RefreshRecsMin {
			break
		}
		if !picked[v.ID] {
			selected = append(selected, v)
			picked[v.ID] = true
		}
	}

	refs := make([]videoRef, len(selected))
	for i, v := range selected {
		refs[i] = videoRef{ID: v.ID, Title: v.Title}
	}
	return refs
}

// fetchRecs asks the scraper for recs. Restricted videos are returned
// separately; errored videos are logged and dropped.
func (u *Updater) fetchRecs(ctx context.Context, videos []videoRef, stats *source.RequestStats, log *slog.Logger) (ok, restricted []fetchedRecs) {
	outcomes := parallel.Transform(ctx, videos, u.cfg.DefaultParallel, func(ctx context.Context, v videoRef) (source.RecsResult, error) {
		res := u.scraper.RecsAndExtra(ctx, v.ID, log.With("video_id", v.ID))
		stats.AddDirect(1)
		metrics.SourceRequests.WithLabelValues("direct", res.Outcome.String()).Inc()
		return res, nil
	})

	for _, o := range outcomes {
		res := o.Out
		switch res.Outcome {
		case source.OutcomeOK:
			ok = append(ok, fetchedRecs{From: o.In, Recs: res.Recs, Extra: res.Extra})
		case source.OutcomeRestricted:
			restricted = append(restricted, fetchedRecs{From: o.In, Extra: res.Extra})
		default:
			log.Warn("unable to get recs", "video_id", o.In.ID, "error", res.Err)
		}
	}
	return ok, restricted
}

// fetchFallbackRecs reads related videos from the api for restricted videos.
// A failure yields no recs for that video.
func (u *Updater) fetchFallbackRecs(ctx context.Context, restricted []fetchedRecs, stats *source.RequestStats, log *slog.Logger) []fetchedRecs {
	outcomes := parallel.Transform(ctx, restricted, u.cfg.DefaultParallel, func(ctx context.Context, f fetchedRecs) (fetchedRecs, error) {
		related, err := u.api.RelatedVideos(ctx, f.From.ID)
		stats.AddFallback(1)
		metrics.SourceRequests.WithLabelValues("fallback", metrics.Outcome(err)).Inc()
		if err != nil {
			log.Warn("unable to get related videos", "video_id", f.From.ID, "error", err)
			related = nil
		}
		recs := make([]source.Rec, 0, len(related))
		for _, r := range related {
			r.Source = store.RecSourceAPI
			recs = append(recs, r)
		}
		return fetchedRecs{From: f.From, Recs: recs}, nil
	})
	return parallel.Successes(outcomes)
}
