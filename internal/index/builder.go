package index

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"thirdcoast.systems/ytharvest/internal/db"
	"thirdcoast.systems/ytharvest/internal/metrics"
	"thirdcoast.systems/ytharvest/internal/parallel"
	"thirdcoast.systems/ytharvest/pkg/blobstore"
)

type Options struct {
	Version  string
	Parallel int
}

type Builder struct {
	store    blobstore.Store
	rows     RowSource
	registry *Registry
	opts     Options
	now      func() time.Time
}

func NewBuilder(s blobstore.Store, rows RowSource, registry *Registry, opts Options) *Builder {
	if opts.Version == "" {
		opts.Version = "v2"
	}
	opts.Parallel = max(opts.Parallel, 1)
	return &Builder{store: s, rows: rows, registry: registry, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

// Build stages every selected index and then commits their manifests. If any
// definition fails to stage, or ctx is cancelled before the commit, nothing
// is committed and the previous manifests stay live.
func (b *Builder) Build(ctx context.Context, names []string, log *slog.Logger) ([]Manifest, error) {
	defs, err := b.registry.Select(names)
	if err != nil {
		return nil, err
	}
	runID := b.now().Format("2006-01-02_15-04-05") + "_" + uuid.NewString()[:8]
	log = log.With("index_run", runID, "version", b.opts.Version)

	started := time.Now()
	outcomes := parallel.Transform(ctx, defs, b.opts.Parallel, func(ctx context.Context, d Def) (*Manifest, error) {
		dlog := log.With("index", d.Name)
		m, err := b.stage(ctx, d, runID, dlog)
		if err != nil {
			dlog.Error("index staging failed", "error", err)
		}
		return m, err
	})

	staged := map[string]*Manifest{}
	for _, o := range outcomes {
		if o.Err == nil {
			staged[o.In.Name] = o.Out
		}
	}
	var failed []string
	for _, d := range defs {
		if staged[d.Name] == nil {
			failed = append(failed, d.Name)
		}
	}
	if len(failed) > 0 {
		metrics.IndexCommits.WithLabelValues("skipped").Add(float64(len(defs)))
		return nil, fmt.Errorf("%w: %s", ErrStageFailed, strings.Join(failed, ", "))
	}
	log.Info("staged index files", "indexes", len(defs), "duration", time.Since(started).Round(time.Millisecond))

	if err := parallel.StopErr(ctx); err != nil {
		log.Warn("cancelled before commit, staged files left uncommitted", "error", err)
		metrics.IndexCommits.WithLabelValues("skipped").Add(float64(len(defs)))
		return nil, err
	}

	out := make([]Manifest, 0, len(defs))
	for _, d := range defs {
		m := staged[d.Name]
		if err := b.commit(ctx, m); err != nil {
			metrics.IndexCommits.WithLabelValues("failure").Inc()
			return out, fmt.Errorf("commit %s: %w", d.Name, err)
		}
		metrics.IndexCommits.WithLabelValues("success").Inc()
		log.Info("committed index", "index", d.Name, "files", len(m.Files), "path", ManifestPath(m.Name, m.Version))
		out = append(out, *m)
	}
	return out, nil
}

func (b *Builder) commit(ctx context.Context, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return b.store.Save(ctx, ManifestPath(m.Name, m.Version), data)
}

// LoadManifest reads the committed manifest of an index.
func LoadManifest(ctx context.Context, s blobstore.Store, name, version string) (*Manifest, error) {
	data, err := blobstore.ReadAll(ctx, s, ManifestPath(name, version))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", name, err)
	}
	return &m, nil
}

type stager struct {
	b        *Builder
	log      *slog.Logger
	def      Def
	dir      string
	keyCols  []Col
	buf      bytes.Buffer
	rows     int
	first    map[string]any
	last     map[string]any
	lastKey  string
	files    []FileEntry
	distinct map[string][]any
	seen     map[string]map[string]bool
}

func (b *Builder) stage(ctx context.Context, d Def, runID string, log *slog.Logger) (*Manifest, error) {
	s := &stager{
		b:        b,
		log:      log,
		def:      d,
		dir:      blobstore.Join(Dir(d.Name, b.opts.Version), runID),
		keyCols:  d.indexCols(),
		distinct: map[string][]any{},
		seen:     map[string]map[string]bool{},
	}
	size := d.Size
	if size == 0 {
		size = defaultFileSize
	}

	err := b.rows.StreamRows(ctx, d.SQL, nil, func(row db.Row) error {
		key, keyVals := s.key(row)
		if s.rows > 0 && uint64(s.buf.Len()) >= size && key != s.lastKey {
			if err := s.flush(ctx); err != nil {
				return err
			}
		}
		if err := s.add(row, key, keyVals); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.flush(ctx); err != nil {
		return nil, err
	}

	keys := make([]string, len(s.keyCols))
	for i, c := range s.keyCols {
		keys[i] = c.Name
	}
	log.Info("staged index", "files", len(s.files), "dir", s.dir)
	return &Manifest{
		Name:     d.Name,
		Version:  b.opts.Version,
		RunID:    runID,
		Cols:     d.Cols,
		Keys:     keys,
		Files:    s.files,
		Distinct: s.distinct,
		Created:  b.now(),
	}, nil
}

func (s *stager) key(row db.Row) (string, map[string]any) {
	vals := make(map[string]any, len(s.keyCols))
	parts := make([]string, len(s.keyCols))
	for i, c := range s.keyCols {
		v := row[c.DBName]
		vals[c.Name] = v
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "\x1f"), vals
}

func (s *stager) add(row db.Row, key string, keyVals map[string]any) error {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[camelCase(k)] = v
	}
	line, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	s.buf.Write(line)
	s.buf.WriteByte('\n')

	if s.rows == 0 {
		s.first = keyVals
	}
	s.last = keyVals
	s.lastKey = key
	s.rows++

	for _, c := range s.def.Cols {
		if !c.WriteDistinct {
			continue
		}
		v := row[c.DBName]
		k := fmt.Sprint(v)
		if s.seen[c.Name] == nil {
			s.seen[c.Name] = map[string]bool{}
		}
		if !s.seen[c.Name][k] {
			s.seen[c.Name][k] = true
			s.distinct[c.Name] = append(s.distinct[c.Name], v)
		}
	}
	return nil
}

func (s *stager) flush(ctx context.Context) error {
	if s.rows == 0 {
		return nil
	}
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write(s.buf.Bytes()); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	p := blobstore.Join(s.dir, fmt.Sprintf("%04d.jsonl.gz", len(s.files)))
	if err := s.b.store.Save(ctx, p, gz.Bytes()); err != nil {
		return fmt.Errorf("save %s: %w", p, err)
	}
	metrics.IndexFiles.WithLabelValues(s.def.Name).Inc()
	s.log.Debug("staged index file", "path", p, "rows", s.rows, "size", humanize.Bytes(uint64(gz.Len())))

	s.files = append(s.files, FileEntry{Path: p, First: s.first, Last: s.last, Rows: s.rows, Bytes: int64(gz.Len())})
	s.buf.Reset()
	s.rows = 0
	return nil
}
