// Package index turns warehouse query results into versioned, partitioned
// snapshot files. A build stages every file first and only then commits the
// manifests, so consumers never see a half-built index.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"thirdcoast.systems/ytharvest/internal/db"
	"thirdcoast.systems/ytharvest/pkg/blobstore"
)

var ErrStageFailed = errors.New("index: staging failed")

// Col is an index column. InIndex columns partition and order the output
// files; WriteDistinct columns have their distinct values recorded in the
// manifest.
type Col struct {
	Name          string `json:"name"`
	DBName        string `json:"dbName"`
	InIndex       bool   `json:"inIndex"`
	WriteDistinct bool   `json:"writeDistinct"`
}

type Def struct {
	Name string
	Cols []Col
	SQL  string
	// Size is the uncompressed size after which a file is closed at the next
	// index key boundary.
	Size uint64
}

func (d Def) indexCols() []Col {
	var out []Col
	for _, c := range d.Cols {
		if c.InIndex {
			out = append(out, c)
		}
	}
	return out
}

// RowSource streams query results. *db.Warehouse implements it.
type RowSource interface {
	StreamRows(ctx context.Context, sql string, args []any, fn func(db.Row) error) error
}

type FileEntry struct {
	Path  string         `json:"path"`
	First map[string]any `json:"first"`
	Last  map[string]any `json:"last"`
	Rows  int            `json:"rows"`
	Bytes int64          `json:"bytes"`
}

type Manifest struct {
	Name     string           `json:"name"`
	Version  string           `json:"version"`
	RunID    string           `json:"runId"`
	Cols     []Col            `json:"cols"`
	Keys     []string         `json:"keys"`
	Files    []FileEntry      `json:"files"`
	Distinct map[string][]any `json:"distinct,omitempty"`
	Created  time.Time        `json:"created"`
}

func Dir(name, version string) string {
	return blobstore.Join("index", name, version)
}

func ManifestPath(name, version string) string {
	return blobstore.Join(Dir(name, version), "index.json")
}

// Registry is the fixed set of named index definitions.
type Registry struct {
	defs []Def
}

func NewRegistry(defs ...Def) *Registry {
	return &Registry{defs: defs}
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.defs))
	for i, d := range r.defs {
		names[i] = d.Name
	}
	return names
}

// Select returns the definitions named in names, or all of them when names is
// empty. Unknown names are an error.
func (r *Registry) Select(names []string) ([]Def, error) {
	if len(names) == 0 {
		return r.defs, nil
	}
	want := map[string]bool{}
	for _, n := range names {
		want[strings.TrimSpace(n)] = true
	}
	var out []Def
	for _, d := range r.defs {
		if want[d.Name] {
			out = append(out, d)
			delete(want, d.Name)
		}
	}
	if len(want) > 0 {
		var unknown []string
		for n := range want {
			unknown = append(unknown, n)
		}
		return nil, fmt.Errorf("unknown index %v (have %v)", unknown, r.Names())
	}
	return out, nil
}

func camelCase(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}
