package searchbase

import (
	"net"
	"strconv"
	"time"
)

// Configuration constants
const (
	DefaultHost           = "localhost"
	DefaultPort           = 6379
	DefaultIndexKeyPrefix = "sidx"
	DefaultDocumentPrefix = "ftdoc"

	// PutTTL is the expiry applied to ad hoc string entries written with
	// Store.Put. Entities written with Merge never expire.
	PutTTL = 15 * 24 * time.Hour

	// DefaultQueryLimit is the page size of a Query built with NewQuery
	DefaultQueryLimit = 10
	// DefaultPageSize is the page size used when a lookup walks every hit
	DefaultPageSize = 100
	// DefaultScanCount is the COUNT hint passed to SCAN
	DefaultScanCount = 500
)

// Index backends
const (
	IndexBackendRediSearch = "redisearch"
	IndexBackendSets       = "sets"
)

// Config holds the connection and behaviour settings of a Store
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	// DialTimeout bounds connection establishment; zero keeps the
	// go-redis default.
	DialTimeout time.Duration

	// KeepAlive keeps the client pool open between operations instead of
	// closing it when the last operation releases it.
	KeepAlive bool

	// IndexBackend selects the search index implementation
	IndexBackend string
	// IndexKeyPrefix namespaces the keys written by the index backend
	// (index documents for redisearch, postings for sets).
	IndexKeyPrefix string

	VersionPolicy VersionPolicy

	// StrictRemove makes Remove return backend failures instead of only
	// logging them.
	StrictRemove bool
}

// DefaultConfig returns a configuration for a local RediSearch-enabled Redis
func DefaultConfig() Config {
	return Config{
		Host:          DefaultHost,
		Port:          DefaultPort,
		IndexBackend:  IndexBackendRediSearch,
		VersionPolicy: LastWriterWins,
	}
}

// Addr returns host:port
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks if the Config is valid
func (c Config) Validate() error {
	if c.Host == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Host",
			"reason": "host is required",
		})
	}
	if c.Port <= 0 || c.Port > 65535 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Port",
			"value":  c.Port,
			"reason": "must be between 1 and 65535",
		})
	}
	if c.DB < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "DB",
			"value":  c.DB,
			"reason": "must be non-negative",
		})
	}
	if c.DialTimeout < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "DialTimeout",
			"value":  c.DialTimeout,
			"reason": "must be non-negative",
		})
	}

	switch c.IndexBackend {
	case "", IndexBackendRediSearch, IndexBackendSets:
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "IndexBackend",
			"value":  c.IndexBackend,
			"reason": "unknown index backend",
		})
	}

	switch c.VersionPolicy {
	case LastWriterWins, CompareAndSwap:
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "VersionPolicy",
			"value":  c.VersionPolicy,
			"reason": "unknown version policy",
		})
	}
	return nil
}

// indexBackend builds the configured IndexBackend
func (c Config) indexBackend() IndexBackend {
	switch c.IndexBackend {
	case IndexBackendSets:
		prefix := c.IndexKeyPrefix
		if prefix == "" {
			prefix = DefaultIndexKeyPrefix
		}
		return &SetIndexBackend{KeyPrefix: prefix}
	default:
		prefix := c.IndexKeyPrefix
		if prefix == "" {
			prefix = DefaultDocumentPrefix
		}
		return &RediSearchBackend{DocumentPrefix: prefix}
	}
}
