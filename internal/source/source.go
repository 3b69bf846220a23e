// Package source defines the fetch boundary the updater works against: a
// primary scraper and a lower fidelity API used when the scraper is refused.
package source

import (
	"context"
	"log/slog"
	"time"

	"thirdcoast.systems/ytharvest/internal/store"
)

type VideoItem struct {
	ID           string
	Title        string
	Description  string
	Duration     time.Duration
	Keywords     []string
	Statistics   store.Statistics
	Thumbnails   store.Thumbnails
	ChannelID    string
	ChannelTitle string
	UploadDate   time.Time
}

type ChannelData struct {
	ID            string
	Title         string
	Description   string
	Country       string
	LogoURL       string
	Subs          *int64
	Views         *int64
	Status        store.ChannelStatus
	StatusMessage string
}

type Rec struct {
	ToVideoID      string
	ToVideoTitle   string
	ToChannelID    string
	ToChannelTitle string
	Source         store.RecSource
}

type CaptionTrack struct {
	Info     store.CaptionTrackInfo
	Captions []store.Caption
}

// Uploads is a lazy newest-first listing of a channel's videos. Next returns
// ok=false once the listing is exhausted. Close stops any further page
// requests and must be called when the consumer stops early.
type Uploads interface {
	Next(ctx context.Context) (VideoItem, bool, error)
	Close() error
}

type Scraper interface {
	ChannelUploads(ctx context.Context, channelID string, log *slog.Logger) Uploads
	RecsAndExtra(ctx context.Context, videoID string, log *slog.Logger) RecsResult
	CaptionTracks(ctx context.Context, videoID string, log *slog.Logger) ([]store.CaptionTrackInfo, error)
	CaptionTrack(ctx context.Context, track store.CaptionTrackInfo, log *slog.Logger) (*CaptionTrack, error)
}

type API interface {
	ChannelData(ctx context.Context, channelID string) (*ChannelData, error)
	RelatedVideos(ctx context.Context, videoID string) ([]Rec, error)
}
