package store

import "time"

type ChannelStatus string

const (
	ChannelAlive ChannelStatus = "Alive"
	ChannelDead  ChannelStatus = "Dead"
)

type RecSource string

const (
	RecSourceScraper RecSource = "scraper"
	RecSourceAPI     RecSource = "api"
)

type ChannelStored struct {
	ChannelID     string        `json:"channelId"`
	ChannelTitle  string        `json:"channelTitle,omitempty"`
	Status        ChannelStatus `json:"status"`
	StatusMessage string        `json:"statusMessage,omitempty"`
	MainChannelID string        `json:"mainChannelId,omitempty"`
	Description   string        `json:"description,omitempty"`
	LogoURL       string        `json:"logoUrl,omitempty"`
	Subs          *int64        `json:"subs,omitempty"`
	ChannelViews  *int64        `json:"channelViews,omitempty"`
	Country       string        `json:"country,omitempty"`
	Relevance     float64       `json:"relevance,omitempty"`
	LR            string        `json:"lr,omitempty"`
	HardTags      []string      `json:"hardTags,omitempty"`
	SoftTags      []string      `json:"softTags,omitempty"`
	UserChannels  []string      `json:"userChannels,omitempty"`
	Updated       time.Time     `json:"updated"`
}

type Statistics struct {
	Views    *int64 `json:"views,omitempty"`
	Likes    *int64 `json:"likes,omitempty"`
	Dislikes *int64 `json:"dislikes,omitempty"`
}

type Thumbnails struct {
	Default string `json:"default,omitempty"`
	Medium  string `json:"medium,omitempty"`
	High    string `json:"high,omitempty"`
}

type VideoStored struct {
	VideoID      string        `json:"videoId"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	Duration     time.Duration `json:"duration"`
	Keywords     []string      `json:"keywords,omitempty"`
	Statistics   Statistics    `json:"statistics"`
	Thumbnails   Thumbnails    `json:"thumbnails"`
	ChannelID    string        `json:"channelId"`
	ChannelTitle string        `json:"channelTitle"`
	UploadDate   time.Time     `json:"uploadDate"`
	Updated      time.Time     `json:"updated"`
}

type RecStored struct {
	FromChannelID  string    `json:"fromChannelId"`
	FromVideoID    string    `json:"fromVideoId"`
	FromVideoTitle string    `json:"fromVideoTitle,omitempty"`
	ToChannelID    string    `json:"toChannelId,omitempty"`
	ToChannelTitle string    `json:"toChannelTitle,omitempty"`
	ToVideoID      string    `json:"toVideoId"`
	ToVideoTitle   string    `json:"toVideoTitle,omitempty"`
	Rank           int       `json:"rank"`
	Source         RecSource `json:"source"`
	Updated        time.Time `json:"updated"`
}

type CaptionTrackInfo struct {
	Language string `json:"language"`
	Name     string `json:"name,omitempty"`
	URL      string `json:"url"`
	Auto     bool   `json:"auto,omitempty"`
}

type Caption struct {
	Offset   time.Duration `json:"offset"`
	Duration time.Duration `json:"duration"`
	Text     string        `json:"text"`
}

type CaptionStored struct {
	VideoID    string           `json:"videoId"`
	UploadDate time.Time        `json:"uploadDate"`
	Updated    time.Time        `json:"updated"`
	Info       CaptionTrackInfo `json:"info"`
	Captions   []Caption        `json:"captions"`
}

type VideoExtraStored struct {
	VideoID      string    `json:"videoId"`
	ChannelID    string    `json:"channelId,omitempty"`
	ChannelTitle string    `json:"channelTitle,omitempty"`
	Title        string    `json:"title,omitempty"`
	Views        *int64    `json:"views,omitempty"`
	Error        string    `json:"error,omitempty"`
	SubError     string    `json:"subError,omitempty"`
	Source       RecSource `json:"source"`
	Updated      time.Time `json:"updated"`
}
