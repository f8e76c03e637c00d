package searchbase

import "time"

// FieldKind is the search-index kind of an entity field
type FieldKind int

const (
	FieldText FieldKind = iota + 1
	FieldTag
	FieldNumeric
	FieldGeo
)

func (k FieldKind) String() string {
	switch k {
	case FieldText:
		return "TEXT"
	case FieldTag:
		return "TAG"
	case FieldNumeric:
		return "NUMERIC"
	case FieldGeo:
		return "GEO"
	default:
		return "UNKNOWN"
	}
}

// ParseFieldKind is the inverse of FieldKind.String
func ParseFieldKind(s string) (FieldKind, bool) {
	switch s {
	case "TEXT":
		return FieldText, true
	case "TAG":
		return FieldTag, true
	case "NUMERIC":
		return FieldNumeric, true
	case "GEO":
		return FieldGeo, true
	}
	return 0, false
}

// IndexField describes one searchable field
type IndexField struct {
	Name     string
	Kind     FieldKind
	Sortable bool
}

// IndexSchema is the per-type descriptor of searchable fields
type IndexSchema []IndexField

// Field returns the schema entry for name
func (s IndexSchema) Field(name string) (IndexField, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return IndexField{}, false
}

// withSynthetic returns the schema extended with the oid and key tag fields
// every index document carries.
func (s IndexSchema) withSynthetic() IndexSchema {
	out := make(IndexSchema, 0, len(s)+2)
	out = append(out, s...)
	for _, name := range []string{FieldOID, FieldKey} {
		if _, ok := s.Field(name); !ok {
			out = append(out, IndexField{Name: name, Kind: FieldTag})
		}
	}
	return out
}

// Synthetic index document fields
const (
	FieldOID = "oid"
	FieldKey = "key"
)

// Entity is a value object persisted by the store.
//
// Key must be derived from the entity's TypeInfo and OID (see TypeInfo.Key),
// and the value must round-trip through the store's Codec.
type Entity interface {
	OID() string
	SetOID(oid string)
	Key() string
	IndexSchema() IndexSchema
	IndexFieldValues() map[string]interface{}
}

// Optimistic is implemented by entities that opt into versioning. The store
// stamps the version on every write.
type Optimistic interface {
	Entity
	Version() time.Time
	SetVersion(version time.Time)
}

// Base carries the identifier and can be embedded by entities
type Base struct {
	ID string `json:"oid"`
}

func (b *Base) OID() string       { return b.ID }
func (b *Base) SetOID(oid string) { b.ID = oid }

// Versioned carries the optimistic stamp and can be embedded alongside Base
type Versioned struct {
	Revision time.Time `json:"version"`
}

func (v *Versioned) Version() time.Time           { return v.Revision }
func (v *Versioned) SetVersion(version time.Time) { v.Revision = version }
