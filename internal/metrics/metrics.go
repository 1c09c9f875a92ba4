package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "audiodesc",
	Subsystem: "pipeline",
	Name:      "generations_total",
}, []string{"outcome"})

var PipelineSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "audiodesc",
	Subsystem: "pipeline",
	Name:      "request_seconds",
	Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60, 90},
})

var EnhanceSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "audiodesc",
	Subsystem: "enhancer",
	Name:      "request_seconds",
})
var EnhanceFallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "audiodesc",
	Subsystem: "enhancer",
	Name:      "fallbacks_total",
})

var TTSSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "audiodesc",
	Subsystem: "tts",
	Name:      "request_seconds",
	Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
}, []string{"provider"})
var TTSErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "audiodesc",
	Subsystem: "tts",
	Name:      "errors_total",
}, []string{"provider", "status"})

var RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "audiodesc",
	Subsystem: "ratelimit",
	Name:      "rejections_total",
}, []string{"api"})

var StorageUploads = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "audiodesc",
	Subsystem: "storage",
	Name:      "uploads_total",
}, []string{"result"})

var SweptRecords = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "audiodesc",
	Subsystem: "sweeper",
	Name:      "deleted_records_total",
})
