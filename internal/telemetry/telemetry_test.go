package telemetry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderEpochs(t *testing.T) {
	r := New()
	r.RunStarted()
	r.OnEpochEnd(0, map[string]float64{"loss": 0.9, "val_mean_io_u": 0.2})
	r.OnEpochEnd(1, map[string]float64{"loss": 0.7, "val_mean_io_u": 0.3})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.epochs))
	assert.Equal(t, 0.3, testutil.ToFloat64(r.epochMetric.WithLabelValues("val_mean_io_u")))
	assert.Equal(t, 0.7, testutil.ToFloat64(r.epochMetric.WithLabelValues("loss")))
}

func TestRecorderRuns(t *testing.T) {
	r := New()
	r.RunFinished(time.Minute, nil)
	r.RunFinished(time.Second, errors.New("engine crashed"))
	r.RunFinished(time.Minute, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runs.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("failure")))

	r.RecordBest(0.001, 16, 5, 0.42)
	assert.Equal(t, 0.42, testutil.ToFloat64(r.bestIoU.WithLabelValues("0.001", "16", "5")))
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.OnEpochEnd(0, map[string]float64{"loss": 0.5})

	path := filepath.Join(t.TempDir(), "cropseg.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cropseg_epochs_total 1")
	assert.Contains(t, string(data), `cropseg_epoch_metric{metric="loss"} 0.5`)
}
