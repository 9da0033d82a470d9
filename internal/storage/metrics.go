package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/expotoworld/storefront/internal/apperr"
)

// Observer captures telemetry for blob store operations.
type Observer interface {
	RecordUpload(duration time.Duration, sizeBytes uint64, err error)
	RecordDelete(duration time.Duration, err error)
	RecordEnsureBucket(duration time.Duration, err error)
	RecordList(duration time.Duration, err error)
}

// PrometheusObserver exports blob store metrics to Prometheus.
type PrometheusObserver struct {
	opDuration      *prometheus.HistogramVec
	operationErrors *prometheus.CounterVec
	uploadBytes     prometheus.Counter
}

// NewPrometheusObserver registers the storage metrics with reg. Registering
// twice reuses the collectors already present.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "storefront_storage"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency for blob store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of blob store failures.",
		}, []string{"operation"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Cumulative payload size successfully uploaded to the blob store.",
		}),
	}

	if err := reg.Register(o.opDuration); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register storage histogram: %w", err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, fmt.Errorf("register storage histogram: %w", err)
		}
		o.opDuration = existing
	}
	if err := reg.Register(o.operationErrors); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register storage counter: %w", err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("register storage counter: %w", err)
		}
		o.operationErrors = existing
	}
	if err := reg.Register(o.uploadBytes); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register uploaded bytes counter: %w", err)
		}
		existing, ok := are.ExistingCollector.(prometheus.Counter)
		if !ok {
			return nil, fmt.Errorf("register uploaded bytes counter: %w", err)
		}
		o.uploadBytes = existing
	}
	return o, nil
}

// RecordUpload tracks upload duration, size, and failures.
func (o *PrometheusObserver) RecordUpload(duration time.Duration, sizeBytes uint64, err error) {
	if o == nil {
		return
	}
	o.opDuration.WithLabelValues("upload").Observe(duration.Seconds())
	if err != nil {
		o.operationErrors.WithLabelValues("upload").Inc()
		return
	}
	o.uploadBytes.Add(float64(sizeBytes))
}

func (o *PrometheusObserver) RecordDelete(duration time.Duration, err error) {
	recordOperation(o, "delete", duration, err)
}

func (o *PrometheusObserver) RecordEnsureBucket(duration time.Duration, err error) {
	recordOperation(o, "ensure_bucket", duration, err)
}

func (o *PrometheusObserver) RecordList(duration time.Duration, err error) {
	recordOperation(o, "list", duration, err)
}

func recordOperation(o *PrometheusObserver, op string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.opDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		o.operationErrors.WithLabelValues(op).Inc()
	}
}

type nopObserver struct{}

func (nopObserver) RecordUpload(time.Duration, uint64, error) {}
func (nopObserver) RecordDelete(time.Duration, error)         {}
func (nopObserver) RecordEnsureBucket(time.Duration, error)   {}
func (nopObserver) RecordList(time.Duration, error)           {}

// Instrument wraps store so every call is reported to obs.
func Instrument(store Store, obs Observer) Store {
	if obs == nil {
		obs = nopObserver{}
	}
	return &instrumentedStore{next: store, obs: obs}
}

type instrumentedStore struct {
	next Store
	obs  Observer
}

func (s *instrumentedStore) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	start := time.Now()
	u, err := s.next.Upload(ctx, bucket, key, data, contentType)
	s.obs.RecordUpload(time.Since(start), uint64(len(data)), err)
	return u, err
}

// Delete does not count a missing object as a failure; callers treat it as done.
func (s *instrumentedStore) Delete(ctx context.Context, bucket, key string) error {
	start := time.Now()
	err := s.next.Delete(ctx, bucket, key)
	recorded := err
	if apperr.IsNotFound(err) {
		recorded = nil
	}
	s.obs.RecordDelete(time.Since(start), recorded)
	return err
}

func (s *instrumentedStore) PublicURL(bucket, key string) string {
	return s.next.PublicURL(bucket, key)
}

func (s *instrumentedStore) EnsureBucket(ctx context.Context, bucket string, policy BucketPolicy) error {
	start := time.Now()
	err := s.next.EnsureBucket(ctx, bucket, policy)
	s.obs.RecordEnsureBucket(time.Since(start), err)
	return err
}

func (s *instrumentedStore) List(ctx context.Context, bucket, prefix string, fn func(ObjectInfo) error) error {
	start := time.Now()
	err := s.next.List(ctx, bucket, prefix, fn)
	s.obs.RecordList(time.Since(start), err)
	return err
}

var (
	_ Observer = (*PrometheusObserver)(nil)
	_ Store    = (*S3Store)(nil)
	_ Store    = (*FilesystemStore)(nil)
)
