package searchbase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// VersionPolicy decides what the optimistic stamp is used for
type VersionPolicy int

const (
	// LastWriterWins stamps Optimistic entities on every write but never
	// compares stamps. Concurrent writers silently overwrite each other.
	LastWriterWins VersionPolicy = iota
	// CompareAndSwap rejects a write with ErrConflict when the stored
	// entity's stamp differs from the stamp the writer loaded.
	CompareAndSwap
)

func (p VersionPolicy) String() string {
	switch p {
	case LastWriterWins:
		return "last-writer-wins"
	case CompareAndSwap:
		return "compare-and-swap"
	default:
		return "unknown"
	}
}

// ParseVersionPolicy parses the String form of a policy
func ParseVersionPolicy(s string) (VersionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last-writer-wins", "lww":
		return LastWriterWins, nil
	case "compare-and-swap", "cas":
		return CompareAndSwap, nil
	}
	return 0, WithContext(ErrInvalidConfig, map[string]interface{}{
		"field":  "VersionPolicy",
		"value":  s,
		"reason": "expected last-writer-wins or compare-and-swap",
	})
}

// nextVersion returns a stamp strictly after prev, at microsecond precision
func (s *Store) nextVersion(prev time.Time) time.Time {
	now := s.clock().UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		now = prev.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return now
}

// writeEntity stores e under key, stamping it first if it opts into
// versioning. On failure the previous stamp is restored.
func (s *Store) writeEntity(ctx context.Context, client *redis.Client, info TypeInfo, key string, e Entity) error {
	opt, versioned := e.(Optimistic)
	if versioned && s.policy == CompareAndSwap {
		return s.compareAndSwap(ctx, client, info, key, opt)
	}

	var prev time.Time
	if versioned {
		prev = opt.Version()
		opt.SetVersion(s.nextVersion(prev))
	}

	data, err := s.codec.Marshal(e)
	if err == nil {
		err = client.Set(ctx, key, data, 0).Err()
		if err != nil {
			err = WithContext(err, map[string]interface{}{"key": key, "operation": "set"})
		}
	} else {
		err = wrap(ErrSerialization, err)
	}

	if err != nil && versioned {
		opt.SetVersion(prev)
	}
	return err
}

// compareAndSwap writes e only if the stored stamp still equals e's stamp.
// The read, comparison and write run under WATCH so a concurrent writer
// between them aborts the transaction.
func (s *Store) compareAndSwap(ctx context.Context, client *redis.Client, info TypeInfo, key string, e Optimistic) error {
	expected := e.Version()

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if !expected.IsZero() {
				return WithContext(ErrConflict, map[string]interface{}{
					"key":      key,
					"expected": expected,
					"reason":   "entity no longer exists",
				})
			}
		case err != nil:
			return err
		default:
			stored, err := s.registry.New(info.Name)
			if err != nil {
				return err
			}
			if err := s.codec.Unmarshal(current, stored); err != nil {
				return wrap(ErrSerialization, err)
			}
			if sv, ok := stored.(Optimistic); ok && !sv.Version().Equal(expected) {
				return WithContext(ErrConflict, map[string]interface{}{
					"key":      key,
					"expected": expected,
					"stored":   sv.Version(),
				})
			}
		}

		e.SetVersion(s.nextVersion(expected))
		data, err := s.codec.Marshal(e)
		if err != nil {
			return wrap(ErrSerialization, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	err := client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		err = WithContext(ErrConflict, map[string]interface{}{
			"key":    key,
			"reason": "concurrent write during compare-and-swap",
		})
	}
	if err != nil {
		e.SetVersion(expected)
		if IsConflict(err) {
			s.metrics.Increment(MetricConflict, "entity", info.Simple)
		}
	}
	return err
}
