package searchbase

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists entities in Redis and keeps one search index per entity
// type aligned with them.
//
// The key-value entry is the source of truth. The index document is a
// derived projection written after it; when that second write fails the
// caller gets ErrPartialWrite and Reconcile can repair the index later.
//
// A Store is safe for concurrent use.
type Store struct {
	cfg      Config
	conn     *Connection
	indexes  *indexRegistry
	registry *Registry
	codec    Codec
	ids      IDGenerator
	breaker  *CircuitBreaker
	logger   Logger
	metrics  Metrics
	policy   VersionPolicy
	clock    func() time.Time
}

// WriteResult reports how far a merge got
type WriteResult struct {
	Key     string
	Stored  bool
	Indexed bool
}

// NewStore creates a store with no-op logger and metrics
func NewStore(cfg Config) (*Store, error) {
	return NewStoreWithObservability(cfg, &NoOpLogger{}, &NoOpMetrics{})
}

// NewStoreWithLogger creates a store with a custom logger
func NewStoreWithLogger(cfg Config, logger Logger) (*Store, error) {
	return NewStoreWithObservability(cfg, logger, &NoOpMetrics{})
}

// NewStoreWithObservability creates a store with logging and metrics
func NewStoreWithObservability(cfg Config, logger Logger, metrics Metrics) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}

	s := &Store{
		cfg:      cfg,
		registry: DefaultRegistry,
		codec:    JSONCodec{},
		ids:      UUIDGenerator{},
		logger:   logger,
		metrics:  metrics,
		policy:   cfg.VersionPolicy,
		clock:    time.Now,
	}
	s.conn = NewConnection(cfg, logger, metrics)
	s.indexes = newIndexRegistry(cfg.indexBackend(), s.conn, logger, metrics)
	s.conn.onClose = s.indexes.closeAll
	s.breaker = NewCircuitBreaker(DefaultBreakerFailures, DefaultBreakerReset).
		WithStateChangeCallback(func(from, to string) {
			s.logger.Warn("index circuit breaker state changed", "from", from, "to", to)
		})
	return s, nil
}

// WithRegistry sets the type registry used to resolve keys
func (s *Store) WithRegistry(r *Registry) *Store {
	s.registry = r
	return s
}

// WithCodec sets the value codec
func (s *Store) WithCodec(c Codec) *Store {
	s.codec = c
	return s
}

// WithIDGenerator sets the generator for new entity identifiers
func (s *Store) WithIDGenerator(g IDGenerator) *Store {
	s.ids = g
	return s
}

// WithCircuitBreaker replaces the breaker guarding index operations
func (s *Store) WithCircuitBreaker(cb *CircuitBreaker) *Store {
	s.breaker = cb
	return s
}

// SetLogger updates the logger for this store
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
	s.conn.logger = logger
	s.indexes.logger = logger
}

// SetMetrics updates the metrics collector for this store
func (s *Store) SetMetrics(metrics Metrics) {
	s.metrics = metrics
	s.conn.metrics = metrics
	s.indexes.metrics = metrics
}

// Registry returns the type registry
func (s *Store) Registry() *Registry { return s.registry }

// Connection returns the underlying connection manager
func (s *Store) Connection() *Connection { return s.conn }

// Ping opens and releases the connection
func (s *Store) Ping(ctx context.Context) error {
	_, release, err := s.open(ctx)
	if err != nil {
		return err
	}
	release()
	return nil
}

// Close shuts the connection down regardless of outstanding references.
// Cached index handles are closed but stay registered.
func (s *Store) Close() error {
	return s.conn.Shutdown()
}

// open takes a connection reference for the duration of one operation
func (s *Store) open(ctx context.Context) (*redis.Client, func(), error) {
	client, gen, err := s.conn.acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := s.conn.release(gen); err != nil {
			s.logger.Warn("failed to close connection", "error", err)
		}
	}
	return client, release, nil
}

// Merge inserts or updates e.
//
// An entity without identifier receives one from the store's IDGenerator
// and a new index document is added. An entity with an identifier
// overwrites its stored value and replaces its index document. Optimistic
// entities are stamped before serialization.
//
// If the key-value write fails, nothing changed and the identifier and
// stamp are restored. If the index write fails afterwards, the result has
// Stored set and the error wraps ErrPartialWrite.
func (s *Store) Merge(ctx context.Context, e Entity) (WriteResult, error) {
	if isNilEntity(e) {
		return WriteResult{}, WithContext(ErrInvalidData, map[string]interface{}{"reason": "nil entity"})
	}
	info, err := s.registry.InfoOf(e)
	if err != nil {
		return WriteResult{}, err
	}

	client, release, err := s.open(ctx)
	if err != nil {
		return WriteResult{}, err
	}
	defer release()

	return s.merge(ctx, client, info, e)
}

// MergeAll merges each entity in order under one connection reference.
// A failure does not stop the remaining merges; failures are joined.
func (s *Store) MergeAll(ctx context.Context, entities ...Entity) ([]WriteResult, error) {
	results := make([]WriteResult, len(entities))
	if len(entities) == 0 {
		return results, nil
	}

	client, release, err := s.open(ctx)
	if err != nil {
		return results, err
	}
	defer release()

	var errs []error
	for i, e := range entities {
		if isNilEntity(e) {
			errs = append(errs, WithContext(ErrInvalidData, map[string]interface{}{"position": i, "reason": "nil entity"}))
			continue
		}
		info, err := s.registry.InfoOf(e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results[i], err = s.merge(ctx, client, info, e)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

func (s *Store) merge(ctx context.Context, client *redis.Client, info TypeInfo, e Entity) (WriteResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.Timing(MetricMergeDuration, time.Since(start), "entity", info.Simple)
	}()

	idx, idxErr := s.indexes.getOrCreate(ctx, info, e.IndexSchema())

	created := e.OID() == ""
	if created {
		e.SetOID(s.ids.Generate(e))
	}
	fail := func(result WriteResult, err error) (WriteResult, error) {
		if created {
			e.SetOID("")
		}
		s.metrics.Increment(MetricMergeError, "entity", info.Simple)
		s.logger.Error("merge failed", "type", info.Name, "key", result.Key, "error", err)
		return result, err
	}

	key := e.Key()
	result := WriteResult{Key: key}
	if err := checkEntityKey(info, e.OID(), key); err != nil {
		return fail(result, err)
	}
	fields, err := documentFields(e.IndexSchema().withSynthetic(), e.OID(), key, e.IndexFieldValues())
	if err != nil {
		return fail(result, err)
	}

	if err := s.writeEntity(ctx, client, info, key, e); err != nil {
		return fail(result, err)
	}
	result.Stored = true

	op := "replace"
	if created {
		op = "add"
	}
	err = idxErr
	if err == nil {
		err = s.breaker.Execute(ctx, func() error {
			if created {
				return idx.Add(ctx, e.OID(), fields)
			}
			return idx.Replace(ctx, e.OID(), 1, fields)
		})
	}
	if err != nil {
		s.metrics.Increment(MetricIndexErrors, "entity", info.Simple, "operation", op)
		s.metrics.Increment(MetricPartialWrite, "entity", info.Simple)
		s.logger.Warn("entity stored but not indexed", "type", info.Name, "key", key, "operation", op, "error", err)
		return result, WithContext(wrap(ErrPartialWrite, err), map[string]interface{}{
			"key":   key,
			"index": info.Simple,
		})
	}

	result.Indexed = true
	s.metrics.Increment(MetricIndexOps, "entity", info.Simple, "operation", op)
	s.metrics.Increment(MetricMergeSuccess, "entity", info.Simple)
	s.logger.Debug("entity merged", "type", info.Name, "key", key, "operation", op)
	return result, nil
}

// isNilEntity reports a nil interface or an interface holding a nil pointer
func isNilEntity(e Entity) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// checkEntityKey verifies that an entity's Key is info.Key(oid), the key
// FindByID reads.
func checkEntityKey(info TypeInfo, oid, key string) error {
	if key != info.Key(oid) {
		return WithContext(ErrMalformedKey, map[string]interface{}{
			"key":      key,
			"expected": info.Key(oid),
			"reason":   "entity key does not match its registered type",
		})
	}
	return nil
}

// FindByID loads the entity of the named type stored under id. It fails
// with ErrNotFound when nothing is stored or the value decodes to an entity
// without identifier.
func (s *Store) FindByID(ctx context.Context, typeName, id string) (Entity, error) {
	info, err := s.registry.Info(typeName)
	if err != nil {
		return nil, err
	}
	e, err := s.registry.New(typeName)
	if err != nil {
		return nil, err
	}

	client, release, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	key := info.Key(id)
	data, err := client.Get(ctx, key).Bytes()
	s.metrics.Timing(MetricFindDuration, time.Since(start), "entity", info.Simple)

	switch {
	case errors.Is(err, redis.Nil) || (err == nil && len(data) == 0):
		s.metrics.Increment(MetricFindMiss, "entity", info.Simple)
		s.logger.Debug("no entity found", "type", typeName, "id", id)
		return nil, WithContext(ErrNotFound, map[string]interface{}{"type": typeName, "id": id})
	case err != nil:
		return nil, WithContext(err, map[string]interface{}{"key": key})
	}

	if err := s.codec.Unmarshal(data, e); err != nil {
		return nil, WithContext(wrap(ErrSerialization, err), map[string]interface{}{"key": key})
	}
	if e.OID() == "" {
		s.metrics.Increment(MetricFindMiss, "entity", info.Simple)
		return nil, WithContext(ErrNotFound, map[string]interface{}{"type": typeName, "id": id, "reason": "empty entity"})
	}
	s.metrics.Increment(MetricFindHit, "entity", info.Simple)
	return e, nil
}

// FindByExpression runs expression against the type's index and returns
// every matching entity. Zero hits, or hits whose values are all gone,
// fail with ErrNotFound.
func (s *Store) FindByExpression(ctx context.Context, typeName, expression string) ([]Entity, error) {
	return s.find(ctx, typeName, NewQuery(expression), true)
}

// FindByQuery is FindByExpression for a single page of q
func (s *Store) FindByQuery(ctx context.Context, typeName string, q *Query) ([]Entity, error) {
	return s.find(ctx, typeName, q, false)
}

func (s *Store) find(ctx context.Context, typeName string, q *Query, allPages bool) ([]Entity, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
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

	start := time.Now()
	var keys []string
	if allPages {
		keys, err = s.searchAll(ctx, idx, q)
	} else {
		var res *SearchResult
		res, err = s.search(ctx, idx, q)
		keys = res.Keys()
	}
	s.metrics.Timing(MetricSearchDuration, time.Since(start), "entity", info.Simple)
	if err != nil {
		s.metrics.Increment(MetricIndexErrors, "entity", info.Simple, "operation", "search")
		return nil, WithContext(err, map[string]interface{}{"type": typeName, "query": q.String()})
	}
	s.metrics.Histogram(MetricSearchResults, float64(len(keys)), "entity", info.Simple)

	var entities []Entity
	if len(keys) > 0 {
		entities, err = s.typedFromKeys(ctx, client, keys)
		if err != nil {
			return nil, err
		}
	}
	if len(entities) == 0 {
		s.metrics.Increment(MetricFindMiss, "entity", info.Simple)
		s.logger.Debug("no entity found for expression", "type", typeName, "query", q.String())
		return nil, WithContext(ErrNotFound, map[string]interface{}{"type": typeName, "query": q.String()})
	}
	s.metrics.Increment(MetricFindHit, "entity", info.Simple)
	return entities, nil
}

func (s *Store) search(ctx context.Context, idx SearchIndex, q *Query) (*SearchResult, error) {
	var res *SearchResult
	err := s.breaker.Execute(ctx, func() error {
		var err error
		res, err = idx.Search(ctx, q)
		return err
	})
	return res, err
}

// searchAll pages through every hit of q starting at q.Offset
func (s *Store) searchAll(ctx context.Context, idx SearchIndex, q *Query) ([]string, error) {
	var keys []string
	for offset := q.Offset; ; offset += DefaultPageSize {
		res, err := s.search(ctx, idx, q.page(offset, DefaultPageSize))
		if err != nil {
			return nil, err
		}
		keys = append(keys, res.Keys()...)
		if len(res.Docs) == 0 || int64(offset+DefaultPageSize) >= res.Total {
			return keys, nil
		}
	}
}

// SearchKeys queries an index by name and returns the keys of the hits
// without loading the entities. The index is not created if missing.
func (s *Store) SearchKeys(ctx context.Context, indexName string, q *Query) ([]string, int64, error) {
	if err := q.Validate(); err != nil {
		return nil, 0, err
	}
	_, release, err := s.open(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	res, err := s.search(ctx, s.indexes.handle(indexName), q)
	if err != nil {
		return nil, 0, WithContext(err, map[string]interface{}{"index": indexName, "query": q.String()})
	}
	return res.Keys(), res.Total, nil
}

// Remove deletes the stored value and the index document of an entity.
//
// Both deletes are attempted. Failures are logged and counted; they are
// returned only when Config.StrictRemove is set. Removing an absent entity
// is not an error.
func (s *Store) Remove(ctx context.Context, typeName, id string) error {
	info, err := s.registry.Info(typeName)
	if err != nil {
		return err
	}
	proto, err := s.registry.New(typeName)
	if err != nil {
		return err
	}

	client, release, err := s.open(ctx)
	if err != nil {
		return s.removeFailed(info, id, err)
	}
	defer release()

	key := info.Key(id)
	var errs []error
	if err := client.Del(ctx, key).Err(); err != nil {
		errs = append(errs, WithContext(err, map[string]interface{}{"key": key, "operation": "del"}))
	}

	idx, err := s.indexes.getOrCreate(ctx, info, proto.IndexSchema())
	if err == nil {
		err = s.breaker.Execute(ctx, func() error { return idx.Delete(ctx, id) })
	}
	if err != nil {
		s.metrics.Increment(MetricIndexErrors, "entity", info.Simple, "operation", "delete")
		errs = append(errs, WithContext(err, map[string]interface{}{"index": info.Simple, "id": id}))
	} else {
		s.metrics.Increment(MetricIndexOps, "entity", info.Simple, "operation", "delete")
	}

	if len(errs) > 0 {
		return s.removeFailed(info, id, errors.Join(errs...))
	}
	s.metrics.Increment(MetricRemoveSuccess, "entity", info.Simple)
	return nil
}

func (s *Store) removeFailed(info TypeInfo, id string, err error) error {
	s.metrics.Increment(MetricRemoveError, "entity", info.Simple)
	s.logger.Error("remove failed", "type", info.Name, "id", id, "error", err)
	if s.cfg.StrictRemove {
		return err
	}
	return nil
}

// GetTypedFromKey loads the entity stored under key, resolving its type
// from the key's type segment.
func (s *Store) GetTypedFromKey(ctx context.Context, key string) (Entity, error) {
	entities, err := s.GetTypedFromKeys(ctx, []string{key})
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, WithContext(ErrNotFound, map[string]interface{}{"key": key})
	}
	return entities[0], nil
}

// GetTypedFromKeys loads the entities stored under keys in one MGET. Keys
// may name different types. Missing or empty values are skipped; the
// remaining entities keep the order of keys.
func (s *Store) GetTypedFromKeys(ctx context.Context, keys []string) ([]Entity, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	client, release, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.typedFromKeys(ctx, client, keys)
}

func (s *Store) typedFromKeys(ctx context.Context, client *redis.Client, keys []string) ([]Entity, error) {
	protos := make([]Entity, len(keys))
	for i, key := range keys {
		name, err := ParseTypeName(key)
		if err != nil {
			return nil, err
		}
		if protos[i], err = s.registry.New(name); err != nil {
			return nil, WithContext(err, map[string]interface{}{"key": key})
		}
	}

	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	entities := make([]Entity, 0, len(keys))
	for i, v := range values {
		data, ok := v.(string)
		if !ok || data == "" {
			continue
		}
		if err := s.codec.Unmarshal([]byte(data), protos[i]); err != nil {
			return nil, WithContext(wrap(ErrSerialization, err), map[string]interface{}{"key": keys[i]})
		}
		entities = append(entities, protos[i])
	}
	return entities, nil
}
