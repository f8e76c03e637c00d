package searchbase

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Raw string primitives. They bypass entity typing and the search index.

// observe records the outcome of a raw key-value operation
func (s *Store) observe(op string, start time.Time, err error) {
	s.metrics.Timing(MetricKVLatency, time.Since(start), "operation", op)
	s.metrics.Increment(MetricKVOps, "operation", op)
	if err != nil {
		s.metrics.Increment(MetricKVErrors, "operation", op)
	}
}

// Get returns the string stored under key. It fails with ErrNotFound when
// the key is absent and ErrUnsupportedValue when it holds a non-string type.
func (s *Store) Get(ctx context.Context, key string) (value string, err error) {
	client, release, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	defer release()
	start := time.Now()
	defer func() { s.observe("get", start, err) }()

	kind, err := client.Type(ctx, key).Result()
	if err != nil {
		return "", err
	}
	switch kind {
	case "none":
		return "", WithContext(ErrNotFound, map[string]interface{}{"key": key})
	case "string":
	default:
		s.logger.Warn("unsupported value type", "key", key, "type", kind)
		return "", WithContext(ErrUnsupportedValue, map[string]interface{}{"key": key, "type": kind})
	}

	value, err = client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", WithContext(ErrNotFound, map[string]interface{}{"key": key})
	}
	return value, err
}

// GetMany returns the values of keys in one MGET. Absent keys and keys
// holding other types are left out of the map.
func (s *Store) GetMany(ctx context.Context, keys ...string) (values map[string]string, err error) {
	values = make(map[string]string, len(keys))
	if len(keys) == 0 {
		return values, nil
	}
	client, release, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	start := time.Now()
	defer func() { s.observe("mget", start, err) }()

	raw, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range raw {
		if str, ok := v.(string); ok {
			values[keys[i]] = str
		}
	}
	return values, nil
}

// Put stores value under key with the PutTTL expiry. It returns false
// without error for an empty key.
func (s *Store) Put(ctx context.Context, key, value string) (ok bool, err error) {
	if key == "" {
		return false, nil
	}
	client, release, err := s.open(ctx)
	if err != nil {
		return false, err
	}
	defer release()
	start := time.Now()
	defer func() { s.observe("set", start, err) }()

	if err = client.Set(ctx, key, value, PutTTL).Err(); err != nil {
		return false, WithContext(err, map[string]interface{}{"key": key})
	}
	return true, nil
}

// PutAll stores every pair in one MSET, without expiry
func (s *Store) PutAll(ctx context.Context, pairs map[string]string) (ok bool, err error) {
	if len(pairs) == 0 {
		return true, nil
	}
	client, release, err := s.open(ctx)
	if err != nil {
		return false, err
	}
	defer release()
	start := time.Now()
	defer func() { s.observe("mset", start, err) }()

	flat := make([]interface{}, 0, len(pairs)*2)
	for k, v := range pairs {
		flat = append(flat, k, v)
	}
	if err = client.MSet(ctx, flat...).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveKeys deletes keys and returns how many existed. Index documents
// are not touched; use Remove for entities.
func (s *Store) RemoveKeys(ctx context.Context, keys ...string) (removed int64, err error) {
	if len(keys) == 0 {
		return 0, nil
	}
	client, release, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	start := time.Now()
	defer func() { s.observe("del", start, err) }()

	return client.Del(ctx, keys...).Result()
}

// Keys returns the keys matching a glob pattern, sorted. An empty pattern
// matches every key. Enumeration uses SCAN, so the cost grows with the
// total number of keys.
func (s *Store) Keys(ctx context.Context, pattern string) (keys []string, err error) {
	client, release, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	start := time.Now()
	defer func() { s.observe("scan", start, err) }()

	return scanKeys(ctx, client, defaultPattern(pattern))
}

// Size counts the keys matching pattern
func (s *Store) Size(ctx context.Context, pattern string) (int, error) {
	keys, err := s.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// ContainsKey reports whether any key matches pattern
func (s *Store) ContainsKey(ctx context.Context, pattern string) (found bool, err error) {
	client, release, err := s.open(ctx)
	if err != nil {
		return false, err
	}
	defer release()
	start := time.Now()
	defer func() { s.observe("scan", start, err) }()

	iter := client.Scan(ctx, 0, defaultPattern(pattern), DefaultScanCount).Iterator()
	if iter.Next(ctx) {
		return true, nil
	}
	return false, iter.Err()
}

// Clear flushes the whole key-value database and drops every index the
// store knows about. It returns true only if the flush and every drop
// succeeded; the drops are attempted even if the flush failed.
func (s *Store) Clear(ctx context.Context) (bool, error) {
	client, release, err := s.open(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	start := time.Now()
	flushErr := client.FlushAll(ctx).Err()
	s.observe("flushall", start, flushErr)
	if flushErr != nil {
		flushErr = WithContext(flushErr, map[string]interface{}{"operation": "flushall"})
	}

	dropErr := s.indexes.dropAll(ctx)
	if err := errors.Join(flushErr, dropErr); err != nil {
		s.logger.Error("clear failed", "error", err)
		return false, err
	}
	s.logger.Info("store cleared")
	return true, nil
}

func defaultPattern(pattern string) string {
	if pattern == "" {
		return "*"
	}
	return pattern
}
