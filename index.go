package searchbase

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// revisionField holds the revision passed to SearchIndex.Replace
const revisionField = "_rev"

// Document is one index document: the hit id plus its stored fields
type Document struct {
	ID     string
	Fields map[string]string
}

// SearchIndex is a named secondary index holding one document per entity
type SearchIndex interface {
	Name() string
	// Ensure creates the index with schema. It returns ErrIndexExists when
	// the index is already present.
	Ensure(ctx context.Context, schema IndexSchema) error
	// Add inserts a document and fails with ErrDocumentExists if id is taken
	Add(ctx context.Context, id string, fields map[string]string) error
	// Replace inserts or fully replaces a document
	Replace(ctx context.Context, id string, revision int, fields map[string]string) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, q *Query) (*SearchResult, error)
	DocumentIDs(ctx context.Context) ([]string, error)
	// Drop removes the index together with its documents
	Drop(ctx context.Context) error
	Close() error
}

// ClientSource hands out the client of an open connection. It fails with
// ErrConnection when the connection is closed.
type ClientSource interface {
	Client() (*redis.Client, error)
}

// IndexBackend creates search index handles
type IndexBackend interface {
	Name() string
	Open(name string, clients ClientSource) SearchIndex
}

// GeoPoint is the value type of geo fields
type GeoPoint struct {
	Longitude float64
	Latitude  float64
}

func (p GeoPoint) String() string {
	return formatFloat(p.Longitude) + "," + formatFloat(p.Latitude)
}

// ParseGeoPoint parses "lon,lat"
func ParseGeoPoint(s string) (GeoPoint, error) {
	lonStr, latStr, ok := strings.Cut(s, ",")
	if !ok {
		return GeoPoint{}, WithContext(ErrInvalidData, map[string]interface{}{"value": s, "reason": "expected lon,lat"})
	}
	lon, err1 := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	lat, err2 := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err1 != nil || err2 != nil {
		return GeoPoint{}, WithContext(ErrInvalidData, map[string]interface{}{"value": s, "reason": "expected lon,lat"})
	}
	return GeoPoint{Longitude: lon, Latitude: lat}, nil
}

// TagSeparator joins multiple tag values into one field value
const TagSeparator = ","

// documentFields renders an entity's index values as the flat string map
// stored in the index, and adds the synthetic oid and key fields.
func documentFields(schema IndexSchema, oid, key string, values map[string]interface{}) (map[string]string, error) {
	fields := make(map[string]string, len(values)+2)
	for name, v := range values {
		if v == nil {
			continue
		}
		kind := FieldText
		if f, ok := schema.Field(name); ok {
			kind = f.Kind
		}
		s, err := formatFieldValue(kind, v)
		if err != nil {
			return nil, WithContext(err, map[string]interface{}{"field": name, "key": key})
		}
		fields[name] = s
	}
	fields[FieldOID] = oid
	fields[FieldKey] = key
	return fields, nil
}

func formatFieldValue(kind FieldKind, v interface{}) (string, error) {
	switch kind {
	case FieldTag:
		switch t := v.(type) {
		case []string:
			return strings.Join(t, TagSeparator), nil
		case string:
			return t, nil
		}
	case FieldNumeric:
		switch n := v.(type) {
		case int:
			return strconv.Itoa(n), nil
		case int32:
			return strconv.FormatInt(int64(n), 10), nil
		case int64:
			return strconv.FormatInt(n, 10), nil
		case uint:
			return strconv.FormatUint(uint64(n), 10), nil
		case uint32:
			return strconv.FormatUint(uint64(n), 10), nil
		case uint64:
			return strconv.FormatUint(n, 10), nil
		case float32:
			return formatFloat(float64(n)), nil
		case float64:
			return formatFloat(n), nil
		case bool:
			if n {
				return "1", nil
			}
			return "0", nil
		case time.Time:
			return strconv.FormatInt(n.Unix(), 10), nil
		case string:
			if _, err := strconv.ParseFloat(n, 64); err == nil {
				return n, nil
			}
		}
	case FieldGeo:
		switch g := v.(type) {
		case GeoPoint:
			return g.String(), nil
		case *GeoPoint:
			if g != nil {
				return g.String(), nil
			}
		case string:
			if _, err := ParseGeoPoint(g); err == nil {
				return g, nil
			}
		}
	default:
		switch t := v.(type) {
		case string:
			return t, nil
		case []byte:
			return string(t), nil
		case []string:
			return strings.Join(t, " "), nil
		case time.Time:
			return t.UTC().Format(time.RFC3339), nil
		case fmt.Stringer:
			return t.String(), nil
		case int, int32, int64, uint, uint32, uint64, bool:
			return fmt.Sprint(t), nil
		case float32:
			return formatFloat(float64(t)), nil
		case float64:
			return formatFloat(t), nil
		}
	}
	return "", WithContext(ErrUnsupportedValue, map[string]interface{}{
		"kind":     kind.String(),
		"go_type":  fmt.Sprintf("%T", v),
		"expected": "scalar value",
	})
}

// scanKeys enumerates keys matching pattern with SCAN, de-duplicated and
// sorted. SCAN may return a key more than once while the keyspace is being
// rehashed.
func scanKeys(ctx context.Context, client redis.Cmdable, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	iter := client.Scan(ctx, 0, pattern, DefaultScanCount).Iterator()
	for iter.Next(ctx) {
		seen[iter.Val()] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// stripRevision returns fields without the revision bookkeeping field
func stripRevision(fields map[string]string) map[string]string {
	if _, ok := fields[revisionField]; !ok {
		return fields
	}
	out := make(map[string]string, len(fields)-1)
	for k, v := range fields {
		if k != revisionField {
			out[k] = v
		}
	}
	return out
}
