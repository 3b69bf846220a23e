package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"thirdcoast.systems/ytharvest/internal/metrics"
	"thirdcoast.systems/ytharvest/internal/source"
	"thirdcoast.systems/ytharvest/internal/store"
)

func (u *Updater) updateAllInChannel(ctx context.Context, c store.ChannelStored, warehouse func() (Warehouse, error),
	updateType UpdateType, stats *source.RequestStats, log *slog.Logger) error {
	if c.StatusMessage != "" {
		log.Info("not updating videos/recs/captions because the channel has a status message", "status_message", c.StatusMessage)
		return nil
	}
	log.Info("starting channel update of videos/recs/captions")

	vidStore := u.store.VideoStore(c.ChannelID)
	md, err := vidStore.LatestFileMetadata(ctx)
	if err != nil {
		return fmt.Errorf("video checkpoint: %w", err)
	}

	now := u.now()
	recentlyUpdated := md != nil && isYoungerThan(md.Modified, u.cfg.RefreshAllAfter, now)

	// Overlap the previous window so each run keeps a history of video stats.
	uploadedFrom := u.cfg.From
	if md != nil {
		uploadedFrom = now.Add(-u.cfg.RefreshVideosWithin)
	}

	var (
		vids    []source.VideoItem
		fetched bool
	)
	if recentlyUpdated {
		log.Info("skipping video update, stats were updated recently", "last_modified", md.Modified)
	} else {
		vids, err = u.channelVidItems(ctx, c.ChannelID, uploadedFrom, log)
		if err != nil {
			return fmt.Errorf("list uploads: %w", err)
		}
		fetched = true

		if err := u.saveVids(ctx, c, vids, md, log); err != nil {
			return err
		}
	}

	// Recs and captions are independent of each other.
	var errs []error
	if fetched || updateType == AllWithMissingRecs {
		if err := u.saveRecsAndExtra(ctx, c, vids, warehouse, updateType, stats, log); err != nil {
			log.Error("error updating recs", "error", err)
			errs = append(errs, fmt.Errorf("recs: %w", err))
		}
	}
	if fetched {
		if err := u.saveNewCaptions(ctx, c, vids, log); err != nil {
			log.Error("error updating captions", "error", err)
			errs = append(errs, fmt.Errorf("captions: %w", err))
		}
	}
	return errors.Join(errs...)
}

// channelVidItems reads the newest-first upload listing until it is
// exhausted or UploadStopAfterOld consecutive uploads fall before
// uploadedFrom. Uploads before uploadedFrom are never returned.
func (u *Updater) channelVidItems(ctx context.Context, channelID string, uploadedFrom time.Time, log *slog.Logger) ([]source.VideoItem, error) {
	uploads := u.scraper.ChannelUploads(ctx, channelID, log)
	defer uploads.Close()

	var (
		vids []source.VideoItem
		old  int
	)
	for {
		v, ok, err := uploads.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if v.UploadDate.After(uploadedFrom) {
			vids = append(vids, v)
			old = 0
			continue
		}
		old++
		if old >= u.cfg.UploadStopAfterOld {
			break
		}
	}
	return vids, nil
}

func (u *Updater) saveVids(ctx context.Context, c store.ChannelStored, vids []source.VideoItem, prev *store.FileMeta, log *slog.Logger) error {
	updated := u.now()
	stored := make([]store.VideoStored, len(vids))
	newCount := 0
	for i, v := range vids {
		stored[i] = store.VideoStored{
			VideoID:      v.ID,
			Title:        v.Title,
			Description:  v.Description,
			Duration:     v.Duration,
			Keywords:     v.Keywords,
			Statistics:   v.Statistics,
			Thumbnails:   v.Thumbnails,
			ChannelID:    c.ChannelID,
			ChannelTitle: c.ChannelTitle,
			UploadDate:   v.UploadDate.UTC(),
			Updated:      updated,
		}
		if prev == nil || v.UploadDate.After(prev.Ts) {
			newCount++
		}
	}

	if _, err := u.store.VideoStore(c.ChannelID).Append(ctx, stored, log); err != nil {
		return fmt.Errorf("append videos: %w", err)
	}
	metrics.RecordsAppended.WithLabelValues("video").Add(float64(len(stored)))

	log.Info("recorded videos", "videos", len(stored), "new", newCount, "updated", len(stored)-newCount)
	return nil
}
