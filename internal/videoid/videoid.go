// Package videoid turns user supplied YouTube references (bare ids or any of
// the common URL shapes) into plain video and channel ids.
package videoid

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrNotYouTube = errors.New("not a youtube url or id")

	videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
)

var youtubeHosts = map[string]bool{
	"youtube.com":              true,
	"www.youtube.com":          true,
	"m.youtube.com":            true,
	"music.youtube.com":        true,
	"youtube-nocookie.com":     true,
	"www.youtube-nocookie.com": true,
}

// Video returns the video id in s. s may be an 11 character id, a watch URL,
// a youtu.be short link, or an embed, shorts or live URL.
func Video(s string) (string, error) {
	s = strings.TrimSpace(s)
	if videoIDRe.MatchString(s) {
		return s, nil
	}

	u, err := parseURL(s)
	if err != nil {
		return "", err
	}
	host := normalizeHost(u.Host)

	var id string
	switch {
	case host == "youtu.be":
		id = firstPathSegment(u.Path)
	case youtubeHosts[host]:
		if v := u.Query().Get("v"); v != "" {
			id = v
			break
		}
		for _, prefix := range []string{"/embed/", "/v/", "/shorts/", "/live/"} {
			if strings.HasPrefix(u.Path, prefix) {
				id = firstPathSegment(strings.TrimPrefix(u.Path, prefix))
				break
			}
		}
	default:
		return "", ErrNotYouTube
	}

	if !videoIDRe.MatchString(id) {
		return "", ErrNotYouTube
	}
	return id, nil
}

// Videos maps Video over ids, dropping duplicates. The first bad reference
// is returned as an error.
func Videos(refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		id, err := Video(r)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", r, err)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

// Channel returns the channel id from a /channel/{id} URL. Anything that does
// not look like a URL is returned trimmed and unchanged.
func Channel(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		return s
	}
	u, err := parseURL(s)
	if err != nil || !youtubeHosts[normalizeHost(u.Host)] {
		return s
	}
	if rest, ok := strings.CutPrefix(u.Path, "/channel/"); ok {
		if id := firstPathSegment(rest); id != "" {
			return id
		}
	}
	return s
}

func parseURL(s string) (*url.URL, error) {
	if s == "" {
		return nil, ErrNotYouTube
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, errors.Join(ErrNotYouTube, err)
	}
	return u, nil
}

func normalizeHost(hostport string) string {
	h := strings.TrimSpace(strings.ToLower(hostport))
	// url.URL.Host may include port.
	if strings.Contains(h, ":") {
		if parsed, err := url.Parse("//" + h); err == nil && parsed.Hostname() != "" {
			h = parsed.Hostname()
		}
	}
	return strings.TrimSuffix(h, ".")
}

func firstPathSegment(p string) string {
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	seg, _, _ := strings.Cut(p, "/")
	return strings.TrimSpace(seg)
}
