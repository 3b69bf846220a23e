package scraper

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"thirdcoast.systems/ytharvest/internal/store"
)

var vttTag = regexp.MustCompile(`<[^>]*>`)

// ParseVTT reads WebVTT cues into captions. Inline timing and styling tags
// are stripped and rolling duplicate lines from auto captions are dropped.
func ParseVTT(r io.Reader) ([]store.Caption, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 1024*64)
	scanner.Buffer(buf, 16*1024*1024)

	var (
		out      []store.Caption
		cur      *store.Caption
		lines    []string
		lastLine string
	)
	flush := func() {
		if cur == nil {
			return
		}
		var kept []string
		for _, l := range lines {
			if l == lastLine {
				continue
			}
			kept = append(kept, l)
			lastLine = l
		}
		if len(kept) > 0 {
			cur.Text = strings.Join(kept, " ")
			out = append(out, *cur)
		}
		cur, lines = nil, nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		if start, end, ok := strings.Cut(line, "-->"); ok {
			flush()
			from, err := parseVTTTime(start)
			if err != nil {
				return nil, err
			}
			fields := strings.Fields(end)
			if len(fields) == 0 {
				return nil, fmt.Errorf("vtt cue without end time: %q", line)
			}
			to, err := parseVTTTime(fields[0])
			if err != nil {
				return nil, err
			}
			cur = &store.Caption{Offset: from, Duration: to - from}
			continue
		}
		// Header, notes and cue identifiers sit outside a cue.
		if cur == nil {
			continue
		}
		if text := strings.TrimSpace(vttTag.ReplaceAllString(line, "")); text != "" {
			lines = append(lines, text)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return out, nil
}

// parseVTTTime accepts hh:mm:ss.mmm and mm:ss.mmm.
func parseVTTTime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("bad vtt timestamp %q", s)
	}
	var h, m int
	var err error
	if len(parts) == 3 {
		if h, err = strconv.Atoi(parts[0]); err != nil {
			return 0, fmt.Errorf("bad vtt timestamp %q", s)
		}
		parts = parts[1:]
	}
	if m, err = strconv.Atoi(parts[0]); err != nil {
		return 0, fmt.Errorf("bad vtt timestamp %q", s)
	}
	sec, err := strconv.ParseFloat(strings.Replace(parts[1], ",", ".", 1), 64)
	if err != nil {
		return 0, fmt.Errorf("bad vtt timestamp %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec*float64(time.Second)).Round(time.Millisecond), nil
}
