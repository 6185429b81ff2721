package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the orchestrator.
type Metrics struct {
	// Episode metrics
	EpisodesTotal   *prometheus.CounterVec
	EpisodeDuration prometheus.Histogram

	// Face matching metrics
	MatchDistance prometheus.Histogram
	MatchResults  *prometheus.CounterVec
	GallerySize   prometheus.Gauge

	// Remote call metrics
	AgentRequests  *prometheus.CounterVec
	BridgeQuotes   *prometheus.CounterVec
	BridgePolls    prometheus.Counter
	TransfersTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		EpisodesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biowallet_episodes_total",
				Help: "Trigger episodes by terminal outcome",
			},
			[]string{"outcome"}, // done, failed
		),

		EpisodeDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "biowallet_episode_duration_seconds",
				Help:    "Wall time from trigger to terminal state",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		MatchDistance: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "biowallet_match_distance",
				Help:    "Nearest-neighbor distance of the selected face",
				Buckets: []float64{0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 1.0},
			},
		),

		MatchResults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biowallet_match_results_total",
				Help: "Face match attempts by result",
			},
			[]string{"result"}, // matched, unknown, no_faces, empty_gallery, error
		),

		GallerySize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "biowallet_gallery_size",
				Help: "Saved faces currently in the active gallery",
			},
		),

		AgentRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biowallet_agent_requests_total",
				Help: "Agent endpoint requests by status",
			},
			[]string{"status"}, // ok, error, fallback
		),

		BridgeQuotes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biowallet_bridge_quotes_total",
				Help: "Bridge quote requests by status",
			},
			[]string{"status"}, // ok, error
		),

		BridgePolls: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "biowallet_bridge_status_polls_total",
				Help: "Bridge order status poll requests",
			},
		),

		TransfersTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biowallet_transfers_total",
				Help: "Native token transfers by outcome",
			},
			[]string{"outcome"}, // confirmed, network, rejected, other
		),
	}
}
