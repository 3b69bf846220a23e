package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

const (
	webClientVersion = "2.20250222.10.00"
	userAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

type webClientCtx struct {
	ClientName    string `json:"clientName"`
	ClientVersion string `json:"clientVersion"`
	Hl            string `json:"hl,omitempty"`
	Gl            string `json:"gl,omitempty"`
}

type innertubeReq struct {
	VideoID string `json:"videoId"`
	Context struct {
		Client webClientCtx `json:"client"`
	} `json:"context"`
	RacyCheckOk    bool `json:"racyCheckOk"`
	ContentCheckOk bool `json:"contentCheckOk"`
}

func newInnertubeReq(videoID string) innertubeReq {
	r := innertubeReq{VideoID: videoID}
	r.Context.Client = webClientCtx{ClientName: "WEB", ClientVersion: webClientVersion, Hl: "en", Gl: "US"}
	return r
}

type playerResp struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	VideoDetails *struct {
		VideoID   string `json:"videoId"`
		Title     string `json:"title"`
		ChannelID string `json:"channelId"`
		Author    string `json:"author"`
		ViewCount string `json:"viewCount"`
	} `json:"videoDetails"`
}

type textRuns struct {
	SimpleText string `json:"simpleText"`
	Runs       []struct {
		Text               string `json:"text"`
		NavigationEndpoint struct {
			BrowseEndpoint struct {
				BrowseID string `json:"browseId"`
			} `json:"browseEndpoint"`
		} `json:"navigationEndpoint"`
	} `json:"runs"`
}

func (t textRuns) String() string {
	if t.SimpleText != "" {
		return t.SimpleText
	}
	var b strings.Builder
	for _, r := range t.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

func (t textRuns) browseID() string {
	for _, r := range t.Runs {
		if id := r.NavigationEndpoint.BrowseEndpoint.BrowseID; id != "" {
			return id
		}
	}
	return ""
}

type compactVideo struct {
	VideoID         string   `json:"videoId"`
	Title           textRuns `json:"title"`
	ShortBylineText textRuns `json:"shortBylineText"`
}

type lockupView struct {
	ContentID   string `json:"contentId"`
	ContentType string `json:"contentType"`
	Metadata    struct {
		LockupMetadataViewModel struct {
			Title struct {
				Content string `json:"content"`
			} `json:"title"`
		} `json:"lockupMetadataViewModel"`
	} `json:"metadata"`
}

type nextResp struct {
	Contents struct {
		TwoColumnWatchNextResults struct {
			SecondaryResults struct {
				SecondaryResults struct {
					Results []struct {
						CompactVideoRenderer *compactVideo `json:"compactVideoRenderer"`
						LockupViewModel      *lockupView   `json:"lockupViewModel"`
					} `json:"results"`
				} `json:"secondaryResults"`
			} `json:"secondaryResults"`
		} `json:"twoColumnWatchNextResults"`
	} `json:"contents"`
}

func (s *Scraper) postInnertube(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/youtubei/v1/"+endpoint+"?prettyPrint=false", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Youtube-Client-Name", "1")
	req.Header.Set("X-Youtube-Client-Version", webClientVersion)
	req.Header.Set("Origin", "https://www.youtube.com")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("innertube %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("innertube %s: HTTP %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8*1024*1024)).Decode(out); err != nil {
		return fmt.Errorf("innertube %s: decode: %w", endpoint, err)
	}
	return nil
}

func parseViews(s string) *int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
