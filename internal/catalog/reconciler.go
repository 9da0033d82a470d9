package catalog

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/expotoworld/storefront/internal/apperr"
	"github.com/expotoworld/storefront/internal/logging"
	"github.com/expotoworld/storefront/internal/models"
	"github.com/expotoworld/storefront/internal/storage"
)

const defaultDrainLimit = 100

// Reconciler repairs divergence between image rows and blobs: it retries
// queued blob deletions, purges stale tombstones and queues orphaned objects.
type Reconciler struct {
	pending PendingStore
	blobs   storage.Store
	bucket  string

	RetryBackoff   time.Duration
	TombstoneGrace time.Duration
	OrphanGrace    time.Duration

	now func() time.Time
}

func NewReconciler(pending PendingStore, blobs storage.Store, bucket string, orphanGrace time.Duration) *Reconciler {
	return &Reconciler{
		pending:        pending,
		blobs:          blobs,
		bucket:         bucket,
		RetryBackoff:   DefaultRetryBackoff,
		TombstoneGrace: time.Hour,
		OrphanGrace:    orphanGrace,
		now:            time.Now,
	}
}

// DrainResult summarizes one pass over the pending deletion queue.
type DrainResult struct {
	Checked  int   `json:"checked"`
	Deleted  int   `json:"deleted"`
	Retained int   `json:"retained"`
	Errors   int   `json:"errors"`
	Purged   int64 `json:"purged_tombstones"`
}

// AuditResult summarizes one orphan sweep over the bucket.
type AuditResult struct {
	Scanned    int      `json:"scanned"`
	Referenced int      `json:"referenced"`
	TooRecent  int      `json:"too_recent"`
	Orphans    []string `json:"orphans"`
}

// ReconcileResult combines a drain and an audit.
type ReconcileResult struct {
	Drain DrainResult `json:"drain"`
	Audit AuditResult `json:"audit"`
}

// liveKeys maps every live image URL to its blob key in the reconciler's bucket.
func (r *Reconciler) liveKeys(ctx context.Context) (map[string]struct{}, error) {
	urls, err := r.pending.LiveImageURLs(ctx)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if k := storage.ResolveKeyFromPublicURL(r.bucket, u); k != "" {
			keys[k] = struct{}{}
		}
	}
	return keys, nil
}

// DrainPendingDeletions deletes up to limit due blob keys. A key still
// referenced by a live image is dequeued without touching the blob. A missing
// object counts as deleted; other failures stay queued with backoff.
func (r *Reconciler) DrainPendingDeletions(ctx context.Context, limit int) (DrainResult, error) {
	var res DrainResult
	if limit <= 0 {
		limit = defaultDrainLimit
	}

	due, err := r.pending.DuePendingDeletions(ctx, limit)
	if err != nil {
		return res, err
	}
	res.Checked = len(due)

	var live map[string]struct{}
	if len(due) > 0 {
		if live, err = r.liveKeys(ctx); err != nil {
			return res, err
		}
	}

	for _, p := range due {
		if p.Bucket == r.bucket {
			if _, ok := live[p.ObjectKey]; ok {
				if err := r.pending.ResolvePendingDeletion(ctx, p.Bucket, p.ObjectKey); err != nil {
					return res, err
				}
				res.Retained++
				continue
			}
		}

		err := r.blobs.Delete(ctx, p.Bucket, p.ObjectKey)
		if err != nil && !apperr.IsNotFound(err) {
			res.Errors++
			logging.Warn("pending blob delete failed", map[string]interface{}{
				"bucket": p.Bucket, "key": p.ObjectKey, "attempts": p.Attempts + 1, "error": err,
			})
			if derr := r.pending.DeferPendingDeletion(ctx, p.Bucket, p.ObjectKey, err.Error(), r.RetryBackoff); derr != nil {
				return res, derr
			}
			continue
		}
		if err := r.pending.ResolvePendingDeletion(ctx, p.Bucket, p.ObjectKey); err != nil {
			return res, err
		}
		res.Deleted++
	}

	purged, err := r.pending.PurgeTombstones(ctx, r.now().Add(-r.TombstoneGrace))
	if err != nil {
		return res, err
	}
	res.Purged = purged
	return res, nil
}

// AuditOrphans lists the bucket under prefix and queues every object that no
// live image references and that is older than the orphan grace period.
// Recent objects are skipped because an upload may not be recorded yet.
func (r *Reconciler) AuditOrphans(ctx context.Context, prefix string) (AuditResult, error) {
	res := AuditResult{Orphans: []string{}}

	live, err := r.liveKeys(ctx)
	if err != nil {
		return res, err
	}

	cutoff := r.now().Add(-r.OrphanGrace)
	var orphans []storage.ObjectInfo
	err = r.blobs.List(ctx, r.bucket, prefix, func(o storage.ObjectInfo) error {
		res.Scanned++
		if _, ok := live[o.Key]; ok {
			res.Referenced++
			return nil
		}
		if o.LastModified.After(cutoff) {
			res.TooRecent++
			return nil
		}
		orphans = append(orphans, o)
		return nil
	})
	if err != nil {
		return res, err
	}

	for _, o := range orphans {
		if err := r.pending.EnqueuePendingDeletion(ctx, models.PendingDeletion{
			Bucket:    r.bucket,
			ObjectKey: o.Key,
			NotBefore: r.now().UTC(),
		}); err != nil {
			return res, err
		}
		res.Orphans = append(res.Orphans, o.Key)
	}
	return res, nil
}

// Reconcile runs an audit followed by a drain, so orphans found now are
// deleted in the same pass.
func (r *Reconciler) Reconcile(ctx context.Context, prefix string) (ReconcileResult, error) {
	var out ReconcileResult
	audit, err := r.AuditOrphans(ctx, prefix)
	out.Audit = audit
	if err != nil {
		return out, err
	}
	drain, err := r.DrainPendingDeletions(ctx, defaultDrainLimit)
	out.Drain = drain
	return out, err
}

// ReconcileService runs the reconciler periodically.
type ReconcileService struct {
	reconciler *Reconciler
	interval   time.Duration
	timeout    time.Duration
	stopChan   chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
}

// NewReconcileService creates a service ticking every interval.
func NewReconcileService(r *Reconciler, interval time.Duration) *ReconcileService {
	return &ReconcileService{
		reconciler: r,
		interval:   interval,
		timeout:    2 * time.Minute,
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs a pass in the background right away and then on every tick.
// It returns immediately.
func (s *ReconcileService) Start() {
	log.Printf("Starting media reconciler with %v interval", s.interval)

	go func() {
		defer close(s.done)
		s.runOnce()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runOnce()
			case <-s.stopChan:
				log.Println("Media reconciler stopped")
				return
			}
		}
	}()
}

// Stop ends the ticker loop without waiting for a pass in progress. Calling
// it more than once is safe.
func (s *ReconcileService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *ReconcileService) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	res, err := s.reconciler.Reconcile(ctx, "")
	if err != nil {
		logging.Error("media reconcile failed", map[string]interface{}{"error": err})
		return
	}
	logging.Info("media reconcile completed", map[string]interface{}{
		"checked":    res.Drain.Checked,
		"deleted":    res.Drain.Deleted,
		"retained":   res.Drain.Retained,
		"errors":     res.Drain.Errors,
		"purged":     res.Drain.Purged,
		"scanned":    res.Audit.Scanned,
		"orphans":    len(res.Audit.Orphans),
		"too_recent": res.Audit.TooRecent,
	})
}
