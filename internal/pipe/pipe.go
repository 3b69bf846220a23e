// Package pipe spreads a homogeneous work list over batches that run either
// in this process or in isolated worker containers.
package pipe

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"thirdcoast.systems/ytharvest/internal/container"
	"thirdcoast.systems/ytharvest/internal/metrics"
	"thirdcoast.systems/ytharvest/internal/parallel"
	"thirdcoast.systems/ytharvest/pkg/blobstore"
)

type Location string

const (
	Local     Location = "local"
	Container Location = "container"
)

type Config struct {
	Location Location
	// MinWorkItems is the smallest batch worth dispatching.
	MinWorkItems int
	// MaxParallel caps concurrent batches.
	MaxParallel int
	// MaxBatches caps the number of batches. Zero means MaxParallel.
	MaxBatches int
	// ContainerMinItems is the smallest work list sent to containers.
	ContainerMinItems int
}

type Batch[T any] struct {
	Pipe  string
	RunID string
	Index int
	Items []T
}

type Stage[In, Out any] func(ctx context.Context, b Batch[In], log *slog.Logger) (Out, error)

type BatchOutput[In, Out any] struct {
	Batch int
	Items []In
	Out   Out
}

type Result[In, Out any] struct {
	Outputs   []BatchOutput[In, Out]
	Succeeded int
	Failed    int
}

// Outs returns the successful batch outputs.
func (r *Result[In, Out]) Outs() []Out {
	out := make([]Out, 0, len(r.Outputs))
	for _, o := range r.Outputs {
		out = append(out, o.Out)
	}
	return out
}

// Context carries what the container transport needs. A nil Launcher forces
// local execution.
type Context struct {
	Store    blobstore.Store
	Launcher container.Launcher
	Worker   container.Spec
	Log      *slog.Logger
}

// BatchSize is max(minBatch, ceil(n/maxBatches)).
func BatchSize(n, minBatch, maxBatches int) int {
	minBatch = max(minBatch, 1)
	maxBatches = max(maxBatches, 1)
	return max(minBatch, (n+maxBatches-1)/maxBatches)
}

// Batches splits items into consecutive, disjoint chunks of BatchSize.
func Batches[T any](items []T, minBatch, maxBatches int) [][]T {
	if len(items) == 0 {
		return nil
	}
	size := BatchSize(len(items), minBatch, maxBatches)
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}

func (c Config) location(n int, pctx *Context) Location {
	if c.Location == Container && pctx != nil && pctx.Launcher != nil && pctx.Store != nil && n >= c.ContainerMinItems {
		return Container
	}
	return Local
}

// Run batches items and executes stage for every batch with at most
// cfg.MaxParallel batches in flight. A failed batch is logged and left out of
// the result. After ctx is cancelled no new batch starts; running batches
// finish.
func Run[In, Out any](ctx context.Context, pctx *Context, name string, items []In, stage Stage[In, Out], cfg Config) (*Result[In, Out], error) {
	log := slog.Default()
	if pctx != nil && pctx.Log != nil {
		log = pctx.Log
	}
	log = log.With("pipe", name)

	loc := cfg.location(len(items), pctx)
	runID := container.NewRunID(name)
	maxBatches := cfg.MaxBatches
	if maxBatches <= 0 {
		maxBatches = cfg.MaxParallel
	}
	chunks := Batches(items, cfg.MinWorkItems, maxBatches)

	batches := make([]Batch[In], len(chunks))
	for i, c := range chunks {
		batches[i] = Batch[In]{Pipe: name, RunID: runID, Index: i, Items: c}
	}

	if loc == Container {
		// Inputs are written up front so a worker never races its own input.
		for _, b := range batches {
			if err := saveInput(ctx, pctx.Store, b); err != nil {
				return nil, fmt.Errorf("pipe %s: stage input: %w", name, err)
			}
		}
	}

	log.Info("pipe starting", "run_id", runID, "location", loc, "items", len(items), "batches", len(batches))
	started := time.Now()

	outcomes := parallel.Transform(ctx, batches, max(cfg.MaxParallel, 1), func(ctx context.Context, b Batch[In]) (Out, error) {
		blog := log.With("batch", b.Index, "items", len(b.Items))
		var (
			out Out
			err error
		)
		if loc == Container {
			out, err = runContainer[In, Out](ctx, pctx, b, blog)
		} else {
			out, err = stage(ctx, b, blog)
		}
		metrics.PipeBatches.WithLabelValues(name, string(loc), metrics.Outcome(err)).Inc()
		if err != nil {
			blog.Error("pipe batch failed", "error", err)
		}
		return out, err
	})

	res := &Result[In, Out]{}
	for _, o := range outcomes {
		if o.Err != nil {
			res.Failed++
			continue
		}
		res.Succeeded++
		res.Outputs = append(res.Outputs, BatchOutput[In, Out]{Batch: o.In.Index, Items: o.In.Items, Out: o.Out})
	}

	skipped := len(batches) - len(outcomes)
	log.Info("pipe complete", "run_id", runID, "succeeded", res.Succeeded, "failed", res.Failed,
		"skipped", skipped, "duration", time.Since(started).Round(time.Millisecond))
	return res, nil
}

func runContainer[In, Out any](ctx context.Context, pctx *Context, b Batch[In], log *slog.Logger) (Out, error) {
	var zero Out
	spec := pctx.Worker
	spec.Name = fmt.Sprintf("%s-%03d", b.RunID, b.Index)
	spec.Args = append(append([]string(nil), spec.Args...),
		"pipe-worker",
		"--pipe", b.Pipe,
		"--run-id", b.RunID,
		"--batch", strconv.Itoa(b.Index),
	)

	if _, err := pctx.Launcher.Launch(ctx, spec, log); err != nil {
		return zero, err
	}
	return loadOutput[Out](ctx, pctx.Store, b.Pipe, b.RunID, b.Index)
}
