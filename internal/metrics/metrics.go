// Package metrics provides Prometheus instrumentation for the matcher. It
// exposes a gauge for the waiting pool, counters for committed matches and
// timeouts, and histograms for round latency and match scores.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PoolSize tracks the number of users waiting for a matching round.
	PoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nemesis_pool_size",
		Help: "Current number of users waiting in the matching pool",
	})

	// MatchesTotal counts committed matches.
	MatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nemesis_matches_total",
		Help: "Total number of committed matches",
	})

	// TimeoutsTotal counts users removed from the pool without a match.
	TimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nemesis_timeouts_total",
		Help: "Total number of users that timed out in the pool",
	})

	// RoundDuration records the wall time of one matching round.
	RoundDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nemesis_round_duration_seconds",
		Help:    "Duration of a matching round in seconds",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
	})

	// MatchScore records the opposition score of committed matches.
	MatchScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nemesis_match_score",
		Help:    "Opposition score of committed matches",
		Buckets: prometheus.LinearBuckets(0, 1, 10),
	})
)

func init() {
	prometheus.MustRegister(
		PoolSize,
		MatchesTotal,
		TimeoutsTotal,
		RoundDuration,
		MatchScore,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
