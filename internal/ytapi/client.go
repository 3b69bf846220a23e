// Package ytapi is the secondary source: the YouTube Data API v3. It serves
// channel metadata and the recommendation fallback for restricted videos.
package ytapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"thirdcoast.systems/ytharvest/internal/source"
	"thirdcoast.systems/ytharvest/internal/store"
)

const defaultBaseURL = "https://www.googleapis.com/youtube/v3"

var ErrNoKeys = errors.New("ytapi: no api keys configured")

type StatusError struct {
	StatusCode int
	Reason     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("ytapi: unexpected status %d (%s)", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("ytapi: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) quotaExceeded() bool {
	return e.StatusCode == http.StatusForbidden &&
		(e.Reason == "quotaExceeded" || e.Reason == "dailyLimitExceeded" || e.Reason == "rateLimitExceeded")
}

type Client struct {
	baseURL string
	keys    []string
	keyIdx  atomic.Int32
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
}

var _ source.API = (*Client)(nil)

func NewClient(baseURL string, keys []string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	var clean []string
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			clean = append(clean, k)
		}
	}

	c := &Client{
		baseURL: baseURL,
		keys:    clean,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "youtube-data-api",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		// A missing video or channel is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || (errors.As(err, &se) && se.StatusCode == http.StatusNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// get calls the endpoint with the current key, moving to the next key when
// the current one is out of quota.
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if len(c.keys) == 0 {
		return nil, ErrNoKeys
	}
	return c.cb.Execute(func() ([]byte, error) {
		var lastErr error
		for range len(c.keys) {
			idx := int(c.keyIdx.Load()) % len(c.keys)
			body, err := c.getWithKey(ctx, path, params, c.keys[idx])
			var se *StatusError
			if errors.As(err, &se) && se.quotaExceeded() {
				c.keyIdx.CompareAndSwap(int32(idx), int32((idx+1)%len(c.keys)))
				lastErr = err
				continue
			}
			return body, err
		}
		return nil, lastErr
	})
}

func (c *Client) getWithKey(ctx context.Context, path string, params url.Values, key string) ([]byte, error) {
	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("key", key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body[:min(len(body), 16*1024)]))}
		var apiErr struct {
			Error struct {
				Errors []struct {
					Reason string `json:"reason"`
				} `json:"errors"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && len(apiErr.Error.Errors) > 0 {
			se.Reason = apiErr.Error.Errors[0].Reason
		}
		return nil, se
	}
	return body, nil
}

type channelListResp struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Country     string `json:"country"`
			Thumbnails  struct {
				Default struct {
					URL string `json:"url"`
				} `json:"default"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		Statistics struct {
			SubscriberCount string `json:"subscriberCount"`
			ViewCount       string `json:"viewCount"`
		} `json:"statistics"`
	} `json:"items"`
}

// ChannelData returns a Dead channel when the API does not know the id.
func (c *Client) ChannelData(ctx context.Context, channelID string) (*source.ChannelData, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, fmt.Errorf("channelID is required")
	}
	body, err := c.get(ctx, "/channels", url.Values{"part": {"snippet,statistics"}, "id": {channelID}})
	if err != nil {
		return nil, err
	}
	var resp channelListResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ytapi: decode channels: %w", err)
	}
	if len(resp.Items) == 0 {
		return &source.ChannelData{ID: channelID, Status: store.ChannelDead}, nil
	}

	it := resp.Items[0]
	return &source.ChannelData{
		ID:          it.ID,
		Title:       it.Snippet.Title,
		Description: it.Snippet.Description,
		Country:     it.Snippet.Country,
		LogoURL:     it.Snippet.Thumbnails.Default.URL,
		Subs:        parseCount(it.Statistics.SubscriberCount),
		Views:       parseCount(it.Statistics.ViewCount),
		Status:      store.ChannelAlive,
	}, nil
}

type searchResp struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelID    string `json:"channelId"`
			ChannelTitle string `json:"channelTitle"`
		} `json:"snippet"`
	} `json:"items"`
}

// RelatedVideos lists videos related to videoID, in ranked order.
func (c *Client) RelatedVideos(ctx context.Context, videoID string) ([]source.Rec, error) {
	body, err := c.get(ctx, "/search", url.Values{
		"part":             {"snippet"},
		"type":             {"video"},
		"relatedToVideoId": {videoID},
		"maxResults":       {"50"},
	})
	if err != nil {
		return nil, err
	}
	var resp searchResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("ytapi: decode search: %w", err)
	}

	recs := make([]source.Rec, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it.ID.VideoID == "" {
			continue
		}
		recs = append(recs, source.Rec{
			ToVideoID:      it.ID.VideoID,
			ToVideoTitle:   it.Snippet.Title,
			ToChannelID:    it.Snippet.ChannelID,
			ToChannelTitle: it.Snippet.ChannelTitle,
			Source:         store.RecSourceAPI,
		})
	}
	return recs, nil
}

func parseCount(s string) *int64 {
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
