package manager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	modelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clinicd",
			Subsystem: "model",
			Name:      "load_duration_seconds",
			Help:      "Time spent loading a model slot",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"model", "outcome"},
	)

	modelLoaded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clinicd",
			Subsystem: "model",
			Name:      "loaded",
			Help:      "1 when the model slot is populated",
		},
		[]string{"model"},
	)

	modelSizeBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clinicd",
			Subsystem: "model",
			Name:      "artifact_bytes",
			Help:      "On-disk size of the loaded model artifacts",
		},
		[]string{"model"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clinicd",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Inference time per pipeline stage",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	pipelineErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicd",
			Subsystem: "pipeline",
			Name:      "errors_total",
			Help:      "Pipeline failures by error type",
		},
		[]string{"type"},
	)

	generatorFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicd",
			Subsystem: "pipeline",
			Name:      "fallbacks_total",
			Help:      "Degraded paths taken (template recommendation, base weights instead of adapter)",
		},
		[]string{"kind"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clinicd",
			Subsystem: "admission",
			Name:      "queue_depth",
			Help:      "Admitted requests, waiting or running",
		},
	)

	admissionRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicd",
			Subsystem: "admission",
			Name:      "rejected_total",
			Help:      "Requests rejected by admission control",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(modelLoadDuration, modelLoaded, modelSizeBytes, stageDuration,
		pipelineErrors, generatorFallbacks, queueDepth, admissionRejected)
}

func observeLoad(kind SlotKind, d time.Duration, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	modelLoadDuration.WithLabelValues(string(kind), outcome).Observe(d.Seconds())
	setLoadedGauge(kind, ok)
}

func setLoadedGauge(kind SlotKind, loaded bool) {
	v := 0.0
	if loaded {
		v = 1
	}
	modelLoaded.WithLabelValues(string(kind)).Set(v)
}

func observeStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
