package ytdlp

import (
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type SubtitleFormat struct {
	Ext  string `json:"ext"`
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// Info models the parts of yt-dlp's JSON output that the harvester reads.
// The full JSON is preserved in Raw.
type Info struct {
	ID                string                      `json:"id"`
	Title             string                      `json:"title"`
	Description       string                      `json:"description"`
	WebpageURL        string                      `json:"webpage_url"`
	Extractor         string                      `json:"extractor"`
	ChannelID         string                      `json:"channel_id"`
	Channel           string                      `json:"channel"`
	Uploader          string                      `json:"uploader"`
	Duration          float64                     `json:"duration"`
	UploadDate        string                      `json:"upload_date"`
	Timestamp         *int64                      `json:"timestamp"`
	ViewCount         *int64                      `json:"view_count"`
	LikeCount         *int64                      `json:"like_count"`
	Tags              []string                    `json:"tags"`
	Thumbnail         string                      `json:"thumbnail"`
	Subtitles         map[string][]SubtitleFormat `json:"subtitles"`
	AutomaticCaptions map[string][]SubtitleFormat `json:"automatic_captions"`
	Entries           []json.RawMessage           `json:"entries,omitempty"`
	Raw               json.RawMessage             `json:"-"`
}

// Uploaded prefers the exact timestamp and falls back to the YYYYMMDD date.
func (i *Info) Uploaded() time.Time {
	if i.Timestamp != nil && *i.Timestamp > 0 {
		return time.Unix(*i.Timestamp, 0).UTC()
	}
	t, err := time.Parse("20060102", strings.TrimSpace(i.UploadDate))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func (i *Info) DurationValue() time.Duration {
	return time.Duration(i.Duration * float64(time.Second))
}

// Track is one downloadable subtitle rendition.
type Track struct {
	Language string
	Name     string
	URL      string
	Auto     bool
}

// SubtitleTracks lists manual subtitles before automatic captions, choosing
// the vtt rendition of each language.
func (i *Info) SubtitleTracks() []Track {
	var out []Track
	add := func(subs map[string][]SubtitleFormat, auto bool) {
		langs := make([]string, 0, len(subs))
		for lang := range subs {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		for _, lang := range langs {
			for _, f := range subs[lang] {
				if f.Ext == "vtt" && f.URL != "" {
					out = append(out, Track{Language: lang, Name: f.Name, URL: f.URL, Auto: auto})
					break
				}
			}
		}
	}
	add(i.Subtitles, false)
	add(i.AutomaticCaptions, true)
	return out
}
