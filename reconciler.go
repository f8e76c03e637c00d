package searchbase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultReconcileInterval is the period of a Reconciler
const DefaultReconcileInterval = 5 * time.Minute

// Reconciler runs Reconcile for a set of entity types on a fixed interval.
// It is the background half of the store's write path: merges that ended
// in ErrPartialWrite are indexed on the next pass.
type Reconciler struct {
	store    *Store
	types    []string
	interval time.Duration
	onReport func(*RepairReport)

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewReconciler creates a reconciler for typeNames. With no names it
// covers every type in the store's registry at the time of each pass.
func NewReconciler(store *Store, typeNames ...string) *Reconciler {
	return &Reconciler{
		store:    store,
		types:    typeNames,
		interval: DefaultReconcileInterval,
	}
}

// WithInterval sets the pass interval
func (r *Reconciler) WithInterval(interval time.Duration) *Reconciler {
	r.interval = interval
	return r
}

// WithReportHandler sets a callback receiving every report
func (r *Reconciler) WithReportHandler(fn func(*RepairReport)) *Reconciler {
	r.onReport = fn
	return r
}

// Start begins reconciling in the background until ctx is done or Stop
// is called.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("reconciler already running")
	}
	if r.interval <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "interval",
			"value":  r.interval,
			"reason": "must be positive",
		})
	}

	r.running = true
	r.stopChan = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stopChan, r.done

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.store.logger.Info("reconciler stopped", "reason", "context canceled")
				r.mu.Lock()
				r.running = false
				r.mu.Unlock()
				return
			case <-stop:
				r.store.logger.Info("reconciler stopped", "reason", "stop requested")
				return
			case <-ticker.C:
				if _, err := r.RunOnce(ctx); err != nil {
					r.store.logger.Error("reconcile pass failed", "error", err)
				}
			}
		}
	}()

	r.store.logger.Info("reconciler started", "interval", r.interval, "types", len(r.types))
	return nil
}

// Stop halts the background loop and waits for an in-flight pass
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		done := r.done
		r.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	close(r.stopChan)
	r.running = false
	done := r.done
	r.mu.Unlock()
	<-done
}

// RunOnce reconciles every covered type once. A failing type does not
// stop the others; failures are joined.
func (r *Reconciler) RunOnce(ctx context.Context) ([]*RepairReport, error) {
	types := r.types
	if len(types) == 0 {
		types = r.store.registry.Names()
	}

	var (
		reports []*RepairReport
		errs    []error
	)
	for _, name := range types {
		report, err := r.store.Reconcile(ctx, name)
		if err != nil {
			errs = append(errs, WithContext(err, map[string]interface{}{"type": name}))
			continue
		}
		reports = append(reports, report)
		if r.onReport != nil {
			r.onReport(report)
		}
	}
	return reports, errors.Join(errs...)
}
