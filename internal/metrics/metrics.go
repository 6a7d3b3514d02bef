// Package metrics exposes Prometheus instrumentation for the store.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload results.
const (
	ResultStored    = "stored"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
	ResultError     = "error"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	UploadsTotal      *prometheus.CounterVec // imgcas_uploads_total{result}
	UploadBytesTotal  prometheus.Counter     // imgcas_upload_bytes_total
	DeletesTotal      prometheus.Counter     // imgcas_deletes_total
	SweepDeletedTotal prometheus.Counter     // imgcas_sweep_deleted_total
	SweepDuration     prometheus.Histogram   // imgcas_sweep_duration_seconds
	Objects           prometheus.Gauge       // imgcas_objects
	StoredBytes       prometheus.Gauge       // imgcas_stored_bytes
}

// New registers the collectors with reg, or the default registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imgcas_uploads_total",
			Help: "Upload attempts by result",
		}, []string{"result"}),

		UploadBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "imgcas_upload_bytes_total",
			Help: "Bytes received by accepted uploads, duplicates included",
		}),

		DeletesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "imgcas_deletes_total",
			Help: "Objects removed from the store",
		}),

		SweepDeletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "imgcas_sweep_deleted_total",
			Help: "Objects removed by retention sweeps",
		}),

		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "imgcas_sweep_duration_seconds",
			Help:    "Retention sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		Objects: factory.NewGauge(prometheus.GaugeOpts{
			Name: "imgcas_objects",
			Help: "Unique objects currently stored",
		}),

		StoredBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "imgcas_stored_bytes",
			Help: "Bytes currently stored on disk",
		}),
	}
}

func (m *Metrics) RecordUpload(result string, size int) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(result).Inc()
	if result == ResultStored || result == ResultDuplicate {
		m.UploadBytesTotal.Add(float64(size))
	}
}

func (m *Metrics) RecordDelete() {
	if m == nil {
		return
	}
	m.DeletesTotal.Inc()
}

func (m *Metrics) RecordSweep(deleted int, took time.Duration) {
	if m == nil {
		return
	}
	m.SweepDeletedTotal.Add(float64(deleted))
	m.SweepDuration.Observe(took.Seconds())
}

func (m *Metrics) SetInventory(objects int, bytes uint64) {
	if m == nil {
		return
	}
	m.Objects.Set(float64(objects))
	m.StoredBytes.Set(float64(bytes))
}
