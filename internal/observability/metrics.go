package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "edgewatch",
		Name:      "frames_captured_total",
		Help:      "Total number of frames captured from the device",
	})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edgewatch",
		Name:      "frames_dropped_total",
		Help:      "Frames or results evicted from a full queue",
	}, []string{"queue"})

	FramesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "edgewatch",
		Name:      "frames_failed_total",
		Help:      "Frames whose inference failed and were skipped",
	})

	DetectionsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "edgewatch",
		Name:      "detections_emitted_total",
		Help:      "Detections above the confidence threshold",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "edgewatch",
		Name:      "inference_duration_seconds",
		Help:      "Duration of inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	UploadsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "edgewatch",
		Name:      "uploads_succeeded_total",
		Help:      "Detection batches accepted by the platform",
	})

	UploadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "edgewatch",
		Name:      "uploads_failed_total",
		Help:      "Upload attempts that failed",
	})

	DeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "edgewatch",
		Name:      "deadlettered_total",
		Help:      "Upload tasks parked in the dead-letter store",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "edgewatch",
		Name:      "queue_depth",
		Help:      "Current depth of a pipeline queue",
	}, []string{"queue"})

	WorkerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edgewatch",
		Name:      "worker_restarts_total",
		Help:      "Automatic worker restarts after a fault",
	}, []string{"worker"})

	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edgewatch",
		Name:      "alerts_fired_total",
		Help:      "Alerts fired by severity",
	}, []string{"severity"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "edgewatch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "edgewatch",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
