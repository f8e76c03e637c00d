package searchbase

import (
	"context"
	"errors"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"
)

// indexRegistry caches one SearchIndex per entity type, keyed by simple
// name. Creation runs at most once per name at a time; concurrent first
// users share the result.
type indexRegistry struct {
	backend IndexBackend
	clients ClientSource
	logger  Logger
	metrics Metrics

	indexes *xsync.MapOf[string, SearchIndex]
	group   singleflight.Group
}

func newIndexRegistry(backend IndexBackend, clients ClientSource, logger Logger, metrics Metrics) *indexRegistry {
	return &indexRegistry{
		backend: backend,
		clients: clients,
		logger:  logger,
		metrics: metrics,
		indexes: xsync.NewMapOf[string, SearchIndex](),
	}
}

// getOrCreate returns the cached index for info, creating it with schema on
// first use. An index that already exists on the server is adopted. Any
// other creation failure is returned as ErrIndexUnavailable and nothing is
// cached, so the next call tries again.
func (r *indexRegistry) getOrCreate(ctx context.Context, info TypeInfo, schema IndexSchema) (SearchIndex, error) {
	if idx, ok := r.indexes.Load(info.Simple); ok {
		return idx, nil
	}

	v, err, _ := r.group.Do(info.Simple, func() (interface{}, error) {
		if idx, ok := r.indexes.Load(info.Simple); ok {
			return idx, nil
		}

		idx := r.backend.Open(info.Simple, r.clients)
		err := idx.Ensure(ctx, schema.withSynthetic())
		switch {
		case err == nil:
			r.logger.Info("search index created", "index", info.Simple, "backend", r.backend.Name())
		case errors.Is(err, ErrIndexExists):
			r.logger.Debug("search index already exists", "index", info.Simple)
		default:
			r.metrics.Increment(MetricIndexErrors, "entity", info.Simple, "operation", "create")
			if closeErr := idx.Close(); closeErr != nil {
				r.logger.Debug("close failed index handle", "index", info.Simple, "error", closeErr)
			}
			return nil, WithContext(wrap(ErrIndexUnavailable, err), map[string]interface{}{
				"index": info.Simple,
				"type":  info.Name,
			})
		}

		r.indexes.Store(info.Simple, idx)
		r.metrics.Gauge(MetricIndexesOpen, float64(r.indexes.Size()))
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(SearchIndex), nil
}

// handle returns the cached index for name, or a handle on an index that
// may have been created by another process. It never creates the index.
func (r *indexRegistry) handle(name string) SearchIndex {
	if idx, ok := r.indexes.Load(name); ok {
		return idx
	}
	idx, _ := r.indexes.LoadOrStore(name, r.backend.Open(name, r.clients))
	r.metrics.Gauge(MetricIndexesOpen, float64(r.indexes.Size()))
	return idx
}

// lookup returns the cached index for name without opening one
func (r *indexRegistry) lookup(name string) (SearchIndex, bool) {
	return r.indexes.Load(name)
}

// names returns the cached index names
func (r *indexRegistry) names() []string {
	var names []string
	r.indexes.Range(func(name string, _ SearchIndex) bool {
		names = append(names, name)
		return true
	})
	return names
}

// closeAll closes every handle. Handles stay registered and are reused
// once the connection is reopened. Close errors are logged, not returned.
func (r *indexRegistry) closeAll() {
	r.indexes.Range(func(name string, idx SearchIndex) bool {
		if err := idx.Close(); err != nil {
			r.logger.Debug("index close failed", "index", name, "error", err)
		}
		return true
	})
}

// dropAll drops every cached index, continuing past failures, and empties
// the registry. Failures are joined.
func (r *indexRegistry) dropAll(ctx context.Context) error {
	var errs []error
	r.indexes.Range(func(name string, idx SearchIndex) bool {
		if err := idx.Drop(ctx); err != nil {
			r.metrics.Increment(MetricIndexErrors, "entity", name, "operation", "drop")
			errs = append(errs, WithContext(err, map[string]interface{}{"index": name}))
		}
		if err := idx.Close(); err != nil {
			r.logger.Debug("index close failed", "index", name, "error", err)
		}
		return true
	})
	r.indexes.Clear()
	r.metrics.Gauge(MetricIndexesOpen, 0)
	return errors.Join(errs...)
}
