package updater

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/text/language"
	"thirdcoast.systems/ytharvest/internal/metrics"
	"thirdcoast.systems/ytharvest/internal/parallel"
	"thirdcoast.systems/ytharvest/internal/source"
	"thirdcoast.systems/ytharvest/internal/store"
)

var english, _ = language.English.Base()

// isEnglish matches any regional variant of English (en, en-US, en-GB).
func isEnglish(code string) bool {
	tag, err := language.Parse(code)
	if err != nil {
		return false
	}
	base, _ := tag.Base()
	return base == english
}

// saveNewCaptions stores the English track of every video uploaded after the
// caption checkpoint. A video whose captions cannot be read is skipped.
func (u *Updater) saveNewCaptions(ctx context.Context, c store.ChannelStored, vids []source.VideoItem, log *slog.Logger) error {
	capStore := u.store.CaptionStore(c.ChannelID)
	md, err := capStore.LatestFileMetadata(ctx)
	if err != nil {
		return fmt.Errorf("caption checkpoint: %w", err)
	}

	var due []source.VideoItem
	for _, v := range vids {
		if md == nil || v.UploadDate.After(md.Ts) {
			due = append(due, v)
		}
	}

	outcomes := parallel.Transform(ctx, due, u.cfg.DefaultParallel, func(ctx context.Context, v source.VideoItem) (*store.CaptionStored, error) {
		return u.caption(ctx, v, log.With("video_id", v.ID))
	})

	var captions []store.CaptionStored
	for _, o := range outcomes {
		if o.Err != nil {
			log.Warn("unable to get captions", "video_id", o.In.ID, "error", o.Err)
			continue
		}
		if o.Out != nil {
			captions = append(captions, *o.Out)
		}
	}

	if _, err := capStore.Append(ctx, captions, log); err != nil {
		return fmt.Errorf("append captions: %w", err)
	}
	metrics.RecordsAppended.WithLabelValues("caption").Add(float64(len(captions)))

	log.Info("saved captions", "captions", len(captions), "due", len(due))
	return nil
}

// caption returns nil when the video has no English track.
func (u *Updater) caption(ctx context.Context, v source.VideoItem, log *slog.Logger) (*store.CaptionStored, error) {
	tracks, err := u.scraper.CaptionTracks(ctx, v.ID, log)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, t := range tracks {
		if isEnglish(t.Language) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil
	}

	track, err := u.scraper.CaptionTrack(ctx, tracks[idx], log)
	if err != nil {
		return nil, err
	}
	return &store.CaptionStored{
		VideoID:    v.ID,
		UploadDate: v.UploadDate.UTC(),
		Updated:    u.now(),
		Info:       track.Info,
		Captions:   track.Captions,
	}, nil
}
