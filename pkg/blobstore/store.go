// Package blobstore is the object storage boundary used for append-only logs,
// pipe batch transport and index snapshots. Paths are slash separated and
// relative to the store root.
package blobstore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

var ErrNotFound = errors.New("blobstore: not found")

type FileInfo struct {
	Path     string
	Size     int64
	Modified time.Time
}

// Store writes whole objects atomically: a reader sees either the previous
// content or the new content, never a partial write.
type Store interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]FileInfo, error)
}

// ReadAll loads the object at p into memory.
func ReadAll(ctx context.Context, s Store, p string) ([]byte, error) {
	rc, err := s.Load(ctx, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Join builds a clean store path from parts, ignoring empty ones.
func Join(parts ...string) string {
	keep := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			keep = append(keep, p)
		}
	}
	return path.Join(keep...)
}

type prefixed struct {
	inner  Store
	prefix string
}

// WithPrefix scopes s to the given sub-path. Listed paths are returned
// relative to the prefix.
func WithPrefix(s Store, prefix string) Store {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return s
	}
	return &prefixed{inner: s, prefix: prefix}
}

func (p *prefixed) Save(ctx context.Context, name string, data []byte) error {
	return p.inner.Save(ctx, Join(p.prefix, name), data)
}

func (p *prefixed) Load(ctx context.Context, name string) (io.ReadCloser, error) {
	return p.inner.Load(ctx, Join(p.prefix, name))
}

func (p *prefixed) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	files, err := p.inner.List(ctx, Join(p.prefix, prefix))
	if err != nil {
		return nil, err
	}
	for i := range files {
		files[i].Path = strings.TrimPrefix(strings.TrimPrefix(files[i].Path, p.prefix), "/")
	}
	return files, nil
}
