package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollectorRecordsNodeExecutions(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("queryflow", reg, zap.NewNop())

	c.RecordNodeExecution("analyze", "success", 10*time.Millisecond)
	c.RecordNodeExecution("analyze", "success", 5*time.Millisecond)
	c.RecordNodeExecution("retrieve", "error", 2*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.nodeExecutionsTotal.WithLabelValues("analyze", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeExecutionsTotal.WithLabelValues("retrieve", "error")))
}

func TestCollectorRecordsCheckpointOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("queryflow", reg, zap.NewNop())

	c.RecordCheckpointSave(nil)
	c.RecordCheckpointSave(errors.New("redis down"))
	c.RecordCheckpointSave(errors.New("redis down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.checkpointSavesTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.checkpointSavesTotal.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.checkpointSaveFailuresTotal))
}

func TestCollectorRetryAndRejectionCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("queryflow", reg, zap.NewNop())

	c.RecordRetry()
	c.RecordValidationRejection()
	c.RecordValidationRejection()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.retriesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.validationRejections))
}

func TestCollectorIsolatedRegistries(t *testing.T) {
	// Two collectors with private registries must not collide.
	a := NewCollector("queryflow", prometheus.NewRegistry(), zap.NewNop())
	b := NewCollector("queryflow", prometheus.NewRegistry(), zap.NewNop())
	require.NotNil(t, a)
	require.NotNil(t, b)

	a.RecordEmbeddingCache(3, 1)
	assert.Equal(t, 3.0, testutil.ToFloat64(a.embeddingCacheHits))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.embeddingCacheHits))
}
