package scraper

import (
	"context"
	"log/slog"

	"thirdcoast.systems/ytharvest/internal/source"
	"thirdcoast.systems/ytharvest/internal/store"
	"thirdcoast.systems/ytharvest/pkg/ytdlp"
)

// uploads starts yt-dlp on the first Next call and kills it on Close.
type uploads struct {
	client    *ytdlp.Client
	url       string
	channelID string
	log       *slog.Logger

	stream *ytdlp.Stream
	done   bool
}

func (u *uploads) Next(ctx context.Context) (source.VideoItem, bool, error) {
	if u.done {
		return source.VideoItem{}, false, nil
	}
	if u.stream == nil {
		s, err := u.client.StreamPlaylist(ctx, u.url)
		if err != nil {
			u.done = true
			return source.VideoItem{}, false, err
		}
		u.stream = s
	}

	info, ok, err := u.stream.Next()
	if err != nil || !ok {
		u.done = true
		return source.VideoItem{}, false, err
	}
	return videoItem(info, u.channelID), true, nil
}

func (u *uploads) Close() error {
	u.done = true
	if u.stream == nil {
		return nil
	}
	return u.stream.Close()
}

func videoItem(info *ytdlp.Info, channelID string) source.VideoItem {
	if info.ChannelID != "" {
		channelID = info.ChannelID
	}
	title := info.Channel
	if title == "" {
		title = info.Uploader
	}
	return source.VideoItem{
		ID:           info.ID,
		Title:        info.Title,
		Description:  info.Description,
		Duration:     info.DurationValue(),
		Keywords:     info.Tags,
		Statistics:   store.Statistics{Views: info.ViewCount, Likes: info.LikeCount},
		Thumbnails:   store.Thumbnails{High: info.Thumbnail},
		ChannelID:    channelID,
		ChannelTitle: title,
		UploadDate:   info.Uploaded(),
	}
}
