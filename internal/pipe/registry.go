package pipe

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"thirdcoast.systems/ytharvest/pkg/blobstore"
)

type workerFunc func(ctx context.Context, s blobstore.Store, runID string, batch int, log *slog.Logger) error

// Registry resolves pipe names to stages on the worker side.
type Registry struct {
	stages map[string]workerFunc
}

func NewRegistry() *Registry {
	return &Registry{stages: map[string]workerFunc{}}
}

// Register makes stage runnable by name inside a worker container.
func Register[In, Out any](r *Registry, name string, stage Stage[In, Out]) {
	r.stages[name] = func(ctx context.Context, s blobstore.Store, runID string, batch int, log *slog.Logger) error {
		items, err := loadInput[In](ctx, s, name, runID, batch)
		if err != nil {
			return fmt.Errorf("load input: %w", err)
		}
		out, err := stage(ctx, Batch[In]{Pipe: name, RunID: runID, Index: batch, Items: items}, log)
		if err != nil {
			return err
		}
		return saveOutput(ctx, s, name, runID, batch, out)
	}
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.stages))
	for n := range r.stages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RunWorker executes one batch of a registered pipe, reading its input from
// and writing its output to s.
func (r *Registry) RunWorker(ctx context.Context, s blobstore.Store, name, runID string, batch int, log *slog.Logger) error {
	fn, ok := r.stages[name]
	if !ok {
		return fmt.Errorf("pipe %q is not registered (have %v)", name, r.Names())
	}
	log = log.With("pipe", name, "run_id", runID, "batch", batch)
	log.Info("pipe worker starting")
	if err := fn(ctx, s, runID, batch, log); err != nil {
		return fmt.Errorf("pipe %s batch %d: %w", name, batch, err)
	}
	log.Info("pipe worker complete")
	return nil
}
