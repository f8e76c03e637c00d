// Package searchbase persists typed Go values in Redis and keeps a per-type
// search index next to them, so entities can be loaded by id or found by a
// query expression.
//
// # Overview
//
// Every entity is stored as one string value under a canonical key of the
// form Namespace:Simple:Name:oid. The Name segment is the registered type
// name; it is all the store needs to hydrate a key back into the right Go
// type. The Simple segment names the search index of the type.
//
//   - Key-value storage via go-redis (GET/SET/MGET/SCAN)
//   - A search index per entity type, created on first use
//   - Two index backends: RediSearch (FT.*) and a sets backend that runs on
//     plain Redis
//   - Optional optimistic versioning (last-writer-wins or compare-and-swap)
//   - Reconciliation of the index against the stored entities
//   - Observability via the Logger and Metrics interfaces (zap, Prometheus)
//
// # Quick Start
//
// Register the entity types once at startup:
//
//	var eventType = searchbase.TypeInfo{Namespace: "app", Simple: "Event", Name: "calendar.Event"}
//
//	type Event struct {
//		searchbase.Base
//		Title string `json:"title"`
//	}
//
//	func (e *Event) Key() string { return eventType.Key(e.ID) }
//	func (e *Event) IndexSchema() searchbase.IndexSchema {
//		return searchbase.IndexSchema{{Name: "title", Kind: searchbase.FieldText}}
//	}
//	func (e *Event) IndexFieldValues() map[string]interface{} {
//		return map[string]interface{}{"title": e.Title}
//	}
//
//	func init() {
//		searchbase.MustRegister(eventType, func() searchbase.Entity { return &Event{} })
//	}
//
// Then merge and query:
//
//	store, err := searchbase.NewStore(searchbase.ConfigFromEnv())
//	ev := &Event{Title: "standup"}
//	_, err = store.Merge(ctx, ev) // assigns ev.ID
//	found, err := store.FindByExpression(ctx, "calendar.Event", "@title:standup")
//	same, err := searchbase.Find[*Event](ctx, store, ev.ID)
//
// # Write Path
//
// Merge writes the value first and the index document second. A failed
// index write leaves the entity readable by id and is reported as
// ErrPartialWrite; the next Merge of the entity or a Reconcile pass makes it
// searchable again.
//
// # Observability
//
//	logger, _ := searchbase.NewProductionZapLogger("info")
//	metrics := searchbase.NewPrometheusMetrics(prometheus.DefaultRegisterer)
//	store, err := searchbase.NewStoreWithObservability(cfg, logger, metrics)
package searchbase
