// Package metrics exports controller metrics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lights_frames_processed_total",
			Help: "Total number of detection frames processed",
		},
	)

	FramesMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lights_frames_malformed_total",
			Help: "Detection frames dropped for missing caps",
		},
	)

	TargetCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lights_target_count",
			Help: "Target detections in the most recent frame",
		},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lights_transitions_total",
			Help: "Committed light transitions by new state",
		},
		[]string{"state"},
	)

	LightsEnabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lights_enabled",
			Help: "1 when actuator output is enabled",
		},
	)

	CommandsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lights_commands_total",
			Help: "Actuator commands by outcome",
		},
		[]string{"outcome"},
	)

	CommandLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lights_command_latency_seconds",
			Help:    "Actuator command execution time in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lights_command_queue_depth",
			Help: "Actuator commands waiting to run",
		},
	)

	LogWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lights_log_write_errors_total",
			Help: "Event log sink write failures",
		},
		[]string{"sink"},
	)
)

const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeHung    = "hung"
	OutcomeSkipped = "skipped"
)

func SetLightsEnabled(enabled bool) {
	if enabled {
		LightsEnabled.Set(1)
		return
	}
	LightsEnabled.Set(0)
}
