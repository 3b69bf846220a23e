package updater

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"thirdcoast.systems/ytharvest/internal/metrics"
	"thirdcoast.systems/ytharvest/internal/parallel"
	"thirdcoast.systems/ytharvest/internal/pipe"
	"thirdcoast.systems/ytharvest/internal/seeds"
	"thirdcoast.systems/ytharvest/internal/source"
	"thirdcoast.systems/ytharvest/internal/store"
)

// UpdateAllChannels reads channel metadata for every seed and appends the
// results to the channel log. A channel whose metadata cannot be read is
// recorded as Dead.
func (u *Updater) UpdateAllChannels(ctx context.Context, log *slog.Logger) ([]store.ChannelStored, error) {
	all, err := u.seeds.Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("load seed channels: %w", err)
	}
	limited := seeds.Limit(all, u.cfg.LimitedToSeedChannels)
	log.Info("starting channels update", "seeds", len(all), "included", len(limited), "limited", len(u.cfg.LimitedToSeedChannels) > 0)

	started := time.Now()
	outcomes := parallel.Transform(ctx, limited, u.cfg.DefaultParallel, func(ctx context.Context, seed seeds.ChannelSeed) (store.ChannelStored, error) {
		return u.updateChannel(ctx, seed, log.With("channel_id", seed.ID, "channel", seed.Title)), nil
	})
	channels := parallel.Successes(outcomes)

	if _, err := u.store.ChannelStore().Append(ctx, channels, log); err != nil {
		return nil, fmt.Errorf("append channels: %w", err)
	}
	metrics.RecordsAppended.WithLabelValues("channel").Add(float64(len(channels)))

	log.Info("updated channel stats", "channels", len(channels), "duration", time.Since(started).Round(time.Millisecond))
	return channels, nil
}

func (u *Updater) updateChannel(ctx context.Context, seed seeds.ChannelSeed, log *slog.Logger) store.ChannelStored {
	data, err := u.api.ChannelData(ctx, seed.ID)
	if err != nil {
		log.Error("error reading channel details", "error", err)
		data = &source.ChannelData{ID: seed.ID, Title: seed.Title, Status: store.ChannelDead}
	} else {
		log.Info("read channel details", "status", string(data.Status))
	}

	title := data.Title
	if title == "" {
		title = seed.Title
	}
	return store.ChannelStored{
		ChannelID:     seed.ID,
		ChannelTitle:  title,
		Status:        data.Status,
		StatusMessage: data.StatusMessage,
		MainChannelID: seed.MainChannelID,
		Description:   data.Description,
		LogoURL:       data.LogoURL,
		Subs:          data.Subs,
		ChannelViews:  data.Views,
		Country:       data.Country,
		Relevance:     seed.Relevance,
		LR:            seed.LR,
		HardTags:      seed.HardTags,
		SoftTags:      seed.SoftTags,
		UserChannels:  seed.UserChannels,
		Updated:       u.now(),
	}
}

// ProcessChannels updates videos, recs, extras and captions for every live
// channel in the batch. A channel failure is logged and counted; it never
// fails the batch.
func (u *Updater) ProcessChannels(ctx context.Context, b pipe.Batch[ChannelWork], log *slog.Logger) (ChannelsBatch, error) {
	started := time.Now()
	stats := &source.RequestStats{}
	warehouse := u.lazyWarehouse(ctx)

	var alive []ChannelWork
	for _, w := range b.Items {
		if w.Channel.Status == store.ChannelAlive {
			alive = append(alive, w)
		}
	}
	res := ChannelsBatch{Skipped: len(b.Items) - len(alive)}

	outcomes := parallel.Transform(ctx, alive, u.cfg.ParallelChannels, func(ctx context.Context, w ChannelWork) (struct{}, error) {
		chStarted := time.Now()
		clog := log.With("channel_id", w.Channel.ChannelID, "channel", w.Channel.ChannelTitle)
		err := u.updateAllInChannel(ctx, w.Channel, warehouse, w.UpdateType, stats, clog)
		if err != nil {
			clog.Error("error updating channel", "error", err)
		} else {
			clog.Info("completed update of videos/recs/captions", "elapsed", time.Since(chStarted).Round(time.Millisecond))
		}
		metrics.Channels.WithLabelValues(metrics.Outcome(err)).Inc()
		return struct{}{}, err
	})
	for _, o := range outcomes {
		if o.Err != nil {
			res.Failed++
		} else {
			res.Succeeded++
		}
	}
	res.Requests = stats.Counts()

	log.Info("channel batch complete",
		"succeeded", res.Succeeded,
		"failed", res.Failed,
		"direct_requests", res.Requests.Direct,
		"fallback_requests", res.Requests.Fallback,
		"duration", time.Since(started).Round(time.Millisecond))
	return res, nil
}
