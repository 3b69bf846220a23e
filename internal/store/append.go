package store

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"thirdcoast.systems/ytharvest/pkg/blobstore"
)

const (
	fileExt      = ".jsonl.gz"
	fileTsLayout = "2006-01-02_15-04-05.000000000"
)

// FileMeta describes the newest state of a partition. Ts is the checkpoint:
// the largest record timestamp ever appended.
type FileMeta struct {
	Ts       time.Time
	Modified time.Time
}

// AppendStore is an append-only log of T under a single partition path. Each
// Append writes one new gzip JSONL file; nothing is ever rewritten.
type AppendStore[T any] struct {
	store blobstore.Store
	path  string
	getTs func(T) time.Time
}

func NewAppendStore[T any](s blobstore.Store, partition string, getTs func(T) time.Time) *AppendStore[T] {
	return &AppendStore[T]{store: s, path: blobstore.Join(partition), getTs: getTs}
}

func (a *AppendStore[T]) Path() string { return a.path }

// Append writes records as a new file named after their largest timestamp.
// It returns nil when there is nothing to write.
func (a *AppendStore[T]) Append(ctx context.Context, records []T, log *slog.Logger) (*blobstore.FileInfo, error) {
	if len(records) == 0 {
		return nil, nil
	}

	var maxTs time.Time
	for _, r := range records {
		if ts := a.getTs(r); ts.After(maxTs) {
			maxTs = ts
		}
	}

	data, err := EncodeJSONL(records)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", a.path, err)
	}

	name := fmt.Sprintf("%s.%s%s", maxTs.UTC().Format(fileTsLayout), shortToken(), fileExt)
	p := blobstore.Join(a.path, name)
	if err := a.store.Save(ctx, p, data); err != nil {
		return nil, fmt.Errorf("append %s: %w", a.path, err)
	}

	if log != nil {
		log.Debug("appended records", "path", p, "records", len(records), "size", humanize.Bytes(uint64(len(data))))
	}
	return &blobstore.FileInfo{Path: p, Size: int64(len(data)), Modified: time.Now().UTC()}, nil
}

// LatestFileMetadata returns nil when the partition has no files.
func (a *AppendStore[T]) LatestFileMetadata(ctx context.Context) (*FileMeta, error) {
	files, err := a.store.List(ctx, a.path)
	if err != nil {
		return nil, err
	}

	var md *FileMeta
	for _, f := range files {
		ts, ok := parseFileTs(f.Path)
		if !ok {
			continue
		}
		if md == nil {
			md = &FileMeta{Ts: ts, Modified: f.Modified}
			continue
		}
		if ts.After(md.Ts) {
			md.Ts = ts
		}
		if f.Modified.After(md.Modified) {
			md.Modified = f.Modified
		}
	}
	return md, nil
}

// LoadAll reads every record in the partition, oldest file first.
func (a *AppendStore[T]) LoadAll(ctx context.Context) ([]T, error) {
	files, err := a.store.List(ctx, a.path)
	if err != nil {
		return nil, err
	}

	var out []T
	for _, f := range files {
		if !strings.HasSuffix(f.Path, fileExt) {
			continue
		}
		b, err := blobstore.ReadAll(ctx, a.store, f.Path)
		if err != nil {
			return nil, err
		}
		recs, err := DecodeJSONL[T](b)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Path, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

// EncodeJSONL gzips one JSON document per line.
func EncodeJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			_ = zw.Close()
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeJSONL[T any](data []byte) ([]T, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var out []T
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseFileTs(p string) (time.Time, bool) {
	name := path.Base(p)
	if !strings.HasSuffix(name, fileExt) {
		return time.Time{}, false
	}
	// {ts}.{token}.jsonl.gz
	rest := strings.TrimSuffix(name, fileExt)
	i := strings.LastIndex(rest, ".")
	if i < 0 {
		return time.Time{}, false
	}
	tsPart := rest[:i]
	ts, err := time.Parse(fileTsLayout, tsPart)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

func shortToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
