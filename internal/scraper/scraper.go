// Package scraper is the primary fetch source: innertube for watch page data
// and yt-dlp for upload listings and subtitle discovery.
package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"thirdcoast.systems/ytharvest/internal/source"
	"thirdcoast.systems/ytharvest/internal/store"
	"thirdcoast.systems/ytharvest/pkg/ytdlp"
)

const defaultBaseURL = "https://www.youtube.com"

type Config struct {
	BaseURL string
	// RPS bounds innertube and caption requests per second.
	RPS   float64
	Ytdlp *ytdlp.Client
	HTTP  *http.Client
}

type Scraper struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	ytdlp   *ytdlp.Client
}

var _ source.Scraper = (*Scraper)(nil)

func New(cfg Config) *Scraper {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	hc := cfg.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	yt := cfg.Ytdlp
	if yt == nil {
		yt = ytdlp.New()
	}
	return &Scraper{
		baseURL: baseURL,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		ytdlp:   yt,
	}
}

func (s *Scraper) watchURL(videoID string) string {
	return s.baseURL + "/watch?v=" + videoID
}

// restricted reports whether a playability status means the video is gated
// behind an age or content check rather than gone.
func restricted(status, reason string) bool {
	switch status {
	case "AGE_CHECK_REQUIRED", "AGE_VERIFICATION_REQUIRED", "CONTENT_CHECK_REQUIRED":
		return true
	case "LOGIN_REQUIRED":
		r := strings.ToLower(reason)
		return strings.Contains(r, "age") || strings.Contains(r, "inappropriate")
	}
	return false
}

func (s *Scraper) RecsAndExtra(ctx context.Context, videoID string, log *slog.Logger) source.RecsResult {
	var player playerResp
	if err := s.postInnertube(ctx, "player", newInnertubeReq(videoID), &player); err != nil {
		return source.RecsError(err)
	}

	extra := &store.VideoExtraStored{
		VideoID: videoID,
		Source:  store.RecSourceScraper,
		Updated: time.Now().UTC(),
	}
	if d := player.VideoDetails; d != nil {
		extra.Title = d.Title
		extra.ChannelID = d.ChannelID
		extra.ChannelTitle = d.Author
		extra.Views = parseViews(d.ViewCount)
	}

	status, reason := player.PlayabilityStatus.Status, player.PlayabilityStatus.Reason
	if restricted(status, reason) {
		extra.Error = status
		extra.SubError = reason
		log.Debug("video restricted", "video_id", videoID, "status", status)
		return source.RecsRestricted(extra)
	}
	if status != "" && status != "OK" {
		// Removed or private: nothing to recommend, but the error is worth keeping.
		extra.Error = status
		extra.SubError = reason
		return source.RecsOK(nil, extra)
	}

	var next nextResp
	if err := s.postInnertube(ctx, "next", newInnertubeReq(videoID), &next); err != nil {
		return source.RecsError(err)
	}

	var recs []source.Rec
	seen := map[string]bool{videoID: true}
	for _, r := range next.Contents.TwoColumnWatchNextResults.SecondaryResults.SecondaryResults.Results {
		var rec source.Rec
		switch {
		case r.CompactVideoRenderer != nil:
			v := r.CompactVideoRenderer
			rec = source.Rec{
				ToVideoID:      v.VideoID,
				ToVideoTitle:   v.Title.String(),
				ToChannelID:    v.ShortBylineText.browseID(),
				ToChannelTitle: v.ShortBylineText.String(),
			}
		case r.LockupViewModel != nil && r.LockupViewModel.ContentType == "LOCKUP_CONTENT_TYPE_VIDEO":
			v := r.LockupViewModel
			rec = source.Rec{ToVideoID: v.ContentID, ToVideoTitle: v.Metadata.LockupMetadataViewModel.Title.Content}
		default:
			continue
		}
		if rec.ToVideoID == "" || seen[rec.ToVideoID] {
			continue
		}
		seen[rec.ToVideoID] = true
		rec.Source = store.RecSourceScraper
		recs = append(recs, rec)
	}
	return source.RecsOK(recs, extra)
}

func (s *Scraper) CaptionTracks(ctx context.Context, videoID string, log *slog.Logger) ([]store.CaptionTrackInfo, error) {
	info, err := s.ytdlp.GetInfo(ctx, s.watchURL(videoID))
	if err != nil {
		return nil, err
	}
	var out []store.CaptionTrackInfo
	for _, t := range info.SubtitleTracks() {
		out = append(out, store.CaptionTrackInfo{Language: t.Language, Name: t.Name, URL: t.URL, Auto: t.Auto})
	}
	return out, nil
}

func (s *Scraper) CaptionTrack(ctx context.Context, track store.CaptionTrackInfo, log *slog.Logger) (*source.CaptionTrack, error) {
	if strings.TrimSpace(track.URL) == "" {
		return nil, fmt.Errorf("caption track %s has no url", track.Language)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, track.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
		return nil, fmt.Errorf("caption track: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	captions, err := ParseVTT(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse vtt: %w", err)
	}
	return &source.CaptionTrack{Info: track, Captions: captions}, nil
}

func (s *Scraper) ChannelUploads(ctx context.Context, channelID string, log *slog.Logger) source.Uploads {
	return &uploads{
		client:    s.ytdlp,
		url:       s.baseURL + "/channel/" + channelID + "/videos",
		channelID: channelID,
		log:       log,
	}
}
