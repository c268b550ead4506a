package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scenebridge_engine_events_total",
		Help: "Events processed by the orchestration loop",
	}, []string{"type"})

	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scenebridge_frames_total",
		Help: "Frames finished, by outcome",
	}, []string{"status"})

	translateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scenebridge_frame_translate_seconds",
		Help:    "Time spent walking, expanding and binding one frame",
		Buckets: prometheus.DefBuckets,
	})

	renderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scenebridge_frame_render_seconds",
		Help:    "Time spent inside the sink render call",
		Buckets: prometheus.DefBuckets,
	})

	iprUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scenebridge_ipr_updates_applied_total",
		Help: "IPR batches applied between render passes",
	})
)
