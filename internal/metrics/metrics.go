// Package metrics holds the Prometheus counters for a harvest run. Runs are
// batch jobs, so the registry is pushed to a gateway when the run ends.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	SourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytharvest_source_requests_total",
			Help: "Fetch requests by source (direct, fallback) and outcome",
		},
		[]string{"source", "outcome"},
	)

	Channels = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytharvest_channels_total",
			Help: "Channels processed by outcome",
		},
		[]string{"outcome"},
	)

	RecordsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytharvest_records_appended_total",
			Help: "Records appended to the store by entity kind",
		},
		[]string{"kind"},
	)

	PipeBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytharvest_pipe_batches_total",
			Help: "Pipe batches by location and outcome",
		},
		[]string{"pipe", "location", "outcome"},
	)

	ContainerLaunches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytharvest_container_launches_total",
			Help: "Container launch attempts by outcome",
		},
		[]string{"outcome"},
	)

	IndexFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytharvest_index_files_total",
			Help: "Index files staged per index",
		},
		[]string{"index"},
	)

	IndexCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytharvest_index_commits_total",
			Help: "Index manifest commits by outcome",
		},
		[]string{"outcome"},
	)

	RunDuration = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ytharvest_run_duration_seconds",
			Help: "Duration of the last run by command",
		},
		[]string{"command"},
	)
)

func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Push sends the default registry to a Prometheus push gateway. An empty url
// is a no-op.
func Push(ctx context.Context, url string, job string) error {
	if url == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := push.New(url, job).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("instance", "ytharvest").
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
