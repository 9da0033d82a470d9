package storage

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentedStoreRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	obs, err := NewPrometheusObserver("test_storage", reg)
	require.NoError(t, err)

	fs := newTestFilesystemStore(t)
	store := Instrument(fs, obs)
	require.NoError(t, store.EnsureBucket(ctx, "product-images", BucketPolicy{}))

	_, err = store.Upload(ctx, "product-images", "a.png", []byte("12345"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, float64(5), testutil.ToFloat64(obs.uploadBytes))

	_, err = store.Upload(ctx, "missing-bucket", "a.png", []byte("1"), "image/png")
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(obs.operationErrors.WithLabelValues("upload")))

	require.NoError(t, store.Delete(ctx, "product-images", "a.png"))
	require.Error(t, store.Delete(ctx, "product-images", "a.png"))
	assert.Equal(t, float64(0), testutil.ToFloat64(obs.operationErrors.WithLabelValues("delete")))
}

func TestNewPrometheusObserverReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusObserver("dup", reg)
	require.NoError(t, err)
	second, err := NewPrometheusObserver("dup", reg)
	require.NoError(t, err)

	second.RecordUpload(0, 7, nil)
	assert.Equal(t, float64(7), testutil.ToFloat64(first.uploadBytes))
}
