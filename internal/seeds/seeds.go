// Package seeds loads the curated list of channels a harvest run starts from.
package seeds

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"thirdcoast.systems/ytharvest/internal/videoid"
)

var ErrNoSeeds = errors.New("seeds: no seed channels")

type ChannelSeed struct {
	ID            string
	Title         string
	MainChannelID string
	Relevance     float64
	LR            string
	HardTags      []string
	SoftTags      []string
	UserChannels  []string
}

type Loader interface {
	Channels(ctx context.Context) ([]ChannelSeed, error)
}

// CSVLoader reads seeds from a CSV file with a header row. Recognised
// columns: id, title, main_channel_id, relevance, lr, hard_tags, soft_tags,
// user_channels. List columns are pipe separated.
type CSVLoader struct {
	Path string
}

func (l CSVLoader) Channels(ctx context.Context) ([]ChannelSeed, error) {
	if strings.TrimSpace(l.Path) == "" {
		return nil, fmt.Errorf("%w: seed path is empty", ErrNoSeeds)
	}
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("open seeds: %w", err)
	}
	defer f.Close()

	seeds, err := ParseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read seeds %s: %w", l.Path, err)
	}
	return seeds, nil
}

func ParseCSV(r io.Reader) ([]ChannelSeed, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoSeeds
	}
	if err != nil {
		return nil, err
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["id"]; !ok {
		return nil, fmt.Errorf("missing id column")
	}

	var out []ChannelSeed
	seen := map[string]bool{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		get := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		id := videoid.Channel(get("id"))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		seed := ChannelSeed{
			ID:            id,
			Title:         get("title"),
			MainChannelID: get("main_channel_id"),
			LR:            get("lr"),
			HardTags:      splitList(get("hard_tags")),
			SoftTags:      splitList(get("soft_tags")),
			UserChannels:  splitList(get("user_channels")),
		}
		if s := get("relevance"); s != "" {
			if seed.Relevance, err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("channel %s: bad relevance %q", id, s)
			}
		}
		out = append(out, seed)
	}
	if len(out) == 0 {
		return nil, ErrNoSeeds
	}
	return out, nil
}

// Limit keeps only the seeds in ids. An empty ids keeps everything.
func Limit(seeds []ChannelSeed, ids []string) []ChannelSeed {
	if len(ids) == 0 {
		return seeds
	}
	out := make([]ChannelSeed, 0, len(ids))
	for _, s := range seeds {
		if slices.Contains(ids, s.ID) {
			out = append(out, s)
		}
	}
	return out
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, "|") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Static is a fixed seed list.
type Static []ChannelSeed

func (s Static) Channels(context.Context) ([]ChannelSeed, error) {
	if len(s) == 0 {
		return nil, ErrNoSeeds
	}
	return s, nil
}
