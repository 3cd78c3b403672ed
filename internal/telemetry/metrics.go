package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Batches counts emitter calls by outcome:
	// emitted|empty|failed|replayed|replay_failed.
	Batches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txspout_batches_total",
		Help: "Emitter batch calls by outcome",
	}, []string{"outcome"})
	BatchMessages = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "txspout_batch_messages",
		Help:    "Messages per emitted batch",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024},
	})
	DiscoveryErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "txspout_discovery_errors_total",
		Help: "Partition discovery failures absorbed into empty rounds",
	})
	CursorCommits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txspout_cursor_commits_total",
		Help: "Cursor commits to the broker by result",
	}, []string{"result"})
	SinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "txspout_sink_errors_total",
		Help: "Sink push failures that triggered a replay",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(Batches, BatchMessages, DiscoveryErrors, CursorCommits, SinkErrors)
}

// Expose serves /metrics on port in the background. port <= 0 disables it.
func Expose(port int) {
	if port <= 0 {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
	}()
}
