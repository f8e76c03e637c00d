package searchbase

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// RepairReport summarises one reconciliation of a type's index against the
// key-value entries of that type.
type RepairReport struct {
	EntityType      string
	Index           string
	Validated       int
	Indexed         int
	Repaired        int
	Removed         int
	MissingIndexes  []string
	OrphanedIndexes []string
	Errors          []string
	Duration        time.Duration
}

// Drift reports whether the index disagreed with the stored entities
func (r *RepairReport) Drift() bool {
	return len(r.MissingIndexes) > 0 || len(r.OrphanedIndexes) > 0
}

// Reconcile brings a type's index in line with the stored entities. Index
// documents are rebuilt for entities that have none, and documents whose
// entity no longer exists are deleted. Per-entity failures are collected in
// the report; only a failure to enumerate either side is returned.
func (s *Store) Reconcile(ctx context.Context, typeName string) (*RepairReport, error) {
	return s.reconcile(ctx, typeName, false)
}

// Reindex is Reconcile that also rewrites the document of every stored
// entity, picking up changes to IndexFieldValues.
func (s *Store) Reindex(ctx context.Context, typeName string) (*RepairReport, error) {
	return s.reconcile(ctx, typeName, true)
}

func (s *Store) reconcile(ctx context.Context, typeName string, rewriteAll bool) (*RepairReport, error) {
	start := time.Now()
	info, err := s.registry.Info(typeName)
	if err != nil {
		return nil, err
	}
	proto, err := s.registry.New(typeName)
	if err != nil {
		return nil, err
	}

	client, release, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	idx, err := s.indexes.getOrCreate(ctx, info, proto.IndexSchema())
	if err != nil {
		return nil, err
	}

	report := &RepairReport{
		EntityType:      typeName,
		Index:           idx.Name(),
		MissingIndexes:  []string{},
		OrphanedIndexes: []string{},
		Errors:          []string{},
	}

	keys, err := scanKeys(ctx, client, info.Pattern())
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	stored := make(map[string]string, len(keys))
	for _, key := range keys {
		parts, err := ParseKey(key)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("skipping %s: %v", key, err))
			continue
		}
		stored[parts.OID] = key
	}
	report.Validated = len(stored)

	docIDs, err := idx.DocumentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list index documents: %w", err)
	}
	report.Indexed = len(docIDs)
	indexed := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		indexed[id] = true
		if _, ok := stored[id]; !ok {
			report.OrphanedIndexes = append(report.OrphanedIndexes, id)
		}
	}

	var rebuild []string
	for id, key := range stored {
		if !indexed[id] {
			report.MissingIndexes = append(report.MissingIndexes, id)
			rebuild = append(rebuild, key)
		} else if rewriteAll {
			rebuild = append(rebuild, key)
		}
	}
	sort.Strings(report.MissingIndexes)
	sort.Strings(rebuild)

	for from := 0; from < len(rebuild); from += DefaultPageSize {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("reconcile canceled: %w", err)
		}
		end := from + DefaultPageSize
		if end > len(rebuild) {
			end = len(rebuild)
		}
		entities, err := s.typedFromKeys(ctx, client, rebuild[from:end])
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("failed to load batch: %v", err))
			continue
		}
		for _, e := range entities {
			fields, err := documentFields(e.IndexSchema().withSynthetic(), e.OID(), e.Key(), e.IndexFieldValues())
			if err == nil {
				err = s.breaker.Execute(ctx, func() error { return idx.Replace(ctx, e.OID(), 1, fields) })
			}
			if err != nil {
				s.metrics.Increment(MetricIndexErrors, "entity", info.Simple, "operation", "repair")
				report.Errors = append(report.Errors, fmt.Sprintf("failed to index %s: %v", e.Key(), err))
				continue
			}
			report.Repaired++
			s.metrics.Increment(MetricIndexRepairs, "entity", info.Simple)
		}
	}

	for _, id := range report.OrphanedIndexes {
		if err := s.breaker.Execute(ctx, func() error { return idx.Delete(ctx, id) }); err != nil {
			s.metrics.Increment(MetricIndexErrors, "entity", info.Simple, "operation", "delete")
			report.Errors = append(report.Errors, fmt.Sprintf("failed to delete orphan %s: %v", id, err))
			continue
		}
		report.Removed++
		s.metrics.Increment(MetricIndexOrphans, "entity", info.Simple)
	}

	report.Duration = time.Since(start)
	if report.Drift() || len(report.Errors) > 0 {
		s.logger.Warn("index reconciled",
			"type", typeName,
			"validated", report.Validated,
			"missing", len(report.MissingIndexes),
			"orphaned", len(report.OrphanedIndexes),
			"repaired", report.Repaired,
			"removed", report.Removed,
			"errors", len(report.Errors),
		)
	} else {
		s.logger.Debug("index in sync", "type", typeName, "validated", report.Validated)
	}
	return report, nil
}
