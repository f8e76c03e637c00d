package searchbase

import (
	"strings"
)

// KeySeparator delimits key segments
const KeySeparator = ":"

// TypeInfo identifies an entity type inside a canonical key.
//
// Keys have the form Namespace:Simple:Name:oid. Name is the registered type
// name used to resolve the concrete type on read; Simple names the search
// index for the type.
type TypeInfo struct {
	Namespace string
	Simple    string
	Name      string
}

// Key builds the canonical key for oid
func (t TypeInfo) Key(oid string) string {
	return BuildKey(t.Namespace, t.Simple, t.Name, oid)
}

// Pattern matches every key of this type
func (t TypeInfo) Pattern() string {
	return BuildKey(escapeGlob(t.Namespace), escapeGlob(t.Simple), escapeGlob(t.Name), "*")
}

// Validate rejects segments that would make keys ambiguous
func (t TypeInfo) Validate() error {
	for field, v := range map[string]string{"Namespace": t.Namespace, "Simple": t.Simple, "Name": t.Name} {
		if v == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  field,
				"reason": "type segment cannot be empty",
			})
		}
		if strings.Contains(v, KeySeparator) {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  field,
				"value":  v,
				"reason": "type segment cannot contain " + KeySeparator,
			})
		}
	}
	return nil
}

// BuildKey joins the segments of a canonical key
func BuildKey(namespace, simple, name, oid string) string {
	return namespace + KeySeparator + simple + KeySeparator + name + KeySeparator + oid
}

// KeyParts is a decomposed canonical key
type KeyParts struct {
	Namespace string
	Simple    string
	Name      string
	OID       string
}

// ParseKey splits a canonical key. The identifier region keeps any further
// separators it contains.
func ParseKey(key string) (KeyParts, error) {
	parts := strings.SplitN(key, KeySeparator, 4)
	if len(parts) < 4 {
		return KeyParts{}, WithContext(ErrMalformedKey, map[string]interface{}{
			"key":    key,
			"reason": "expected at least three separators",
		})
	}
	if parts[2] == "" {
		return KeyParts{}, WithContext(ErrMalformedKey, map[string]interface{}{
			"key":    key,
			"reason": "empty type segment",
		})
	}
	return KeyParts{Namespace: parts[0], Simple: parts[1], Name: parts[2], OID: parts[3]}, nil
}

// ParseTypeName returns the type segment between the second and third
// separator.
func ParseTypeName(key string) (string, error) {
	parts, err := ParseKey(key)
	if err != nil {
		return "", err
	}
	return parts.Name, nil
}

// escapeGlob escapes Redis glob metacharacters
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
