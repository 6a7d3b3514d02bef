package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordUpload(ResultStored, 100)
	m.RecordUpload(ResultDuplicate, 100)
	m.RecordUpload(ResultRejected, 5000)
	m.RecordDelete()
	m.RecordSweep(3, time.Second)
	m.SetInventory(7, 4096)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UploadsTotal.WithLabelValues(ResultStored)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UploadsTotal.WithLabelValues(ResultRejected)))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.UploadBytesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeletesTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SweepDeletedTotal))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.Objects))
	assert.Equal(t, 4096.0, testutil.ToFloat64(m.StoredBytes))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordUpload(ResultStored, 1)
		m.RecordDelete()
		m.RecordSweep(1, time.Millisecond)
		m.SetInventory(1, 1)
	})
}
