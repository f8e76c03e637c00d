package searchbase

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Factory returns a new, empty instance of a registered entity type
type Factory func() Entity

type registration struct {
	info    TypeInfo
	factory Factory
}

// Registry maps type names encoded in keys to factories. It replaces any
// form of dynamic type loading: a key can only be hydrated if its type was
// registered at startup.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]registration
	bySimple map[string]string
	byType   map[reflect.Type]string
}

// DefaultRegistry is used by stores created without an explicit registry
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]registration),
		bySimple: make(map[string]string),
		byType:   make(map[reflect.Type]string),
	}
}

// Register adds an entity type. The factory is invoked once to learn the
// concrete Go type, which must be unique across registrations.
func (r *Registry) Register(info TypeInfo, factory Factory) error {
	if err := info.Validate(); err != nil {
		return err
	}
	if factory == nil {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"type":   info.Name,
			"reason": "factory cannot be nil",
		})
	}
	probe := factory()
	if probe == nil {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"type":   info.Name,
			"reason": "factory returned nil",
		})
	}
	rt := reflect.TypeOf(probe)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[info.Name]; exists {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"type":   info.Name,
			"reason": "type already registered",
		})
	}
	if other, exists := r.bySimple[info.Simple]; exists {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"type":   info.Name,
			"simple": info.Simple,
			"reason": fmt.Sprintf("simple name already used by %s", other),
		})
	}
	if other, exists := r.byType[rt]; exists {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"type":   info.Name,
			"reason": fmt.Sprintf("go type %s already registered as %s", rt, other),
		})
	}

	r.byName[info.Name] = registration{info: info, factory: factory}
	r.bySimple[info.Simple] = info.Name
	r.byType[rt] = info.Name
	return nil
}

// MustRegister is like Register but panics on error
func (r *Registry) MustRegister(info TypeInfo, factory Factory) {
	if err := r.Register(info, factory); err != nil {
		panic(err)
	}
}

// New returns a fresh instance of the named type
func (r *Registry) New(name string) (Entity, error) {
	r.mu.RLock()
	reg, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, WithContext(ErrUnknownType, map[string]interface{}{"type": name})
	}
	return reg.factory(), nil
}

// Info returns the registered TypeInfo for a type name
func (r *Registry) Info(name string) (TypeInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	if !ok {
		return TypeInfo{}, WithContext(ErrUnknownType, map[string]interface{}{"type": name})
	}
	return reg.info, nil
}

// InfoOf returns the TypeInfo of a registered entity value. A typed nil
// pointer is accepted, which lets generic helpers resolve T.
func (r *Registry) InfoOf(e Entity) (TypeInfo, error) {
	rt := reflect.TypeOf(e)
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byType[rt]
	if !ok {
		return TypeInfo{}, WithContext(ErrUnknownType, map[string]interface{}{"go_type": fmt.Sprint(rt)})
	}
	return r.byName[name].info, nil
}

// Names returns the registered type names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds an entity type to DefaultRegistry
func Register(info TypeInfo, factory Factory) error {
	return DefaultRegistry.Register(info, factory)
}

// MustRegister adds an entity type to DefaultRegistry, panicking on error
func MustRegister(info TypeInfo, factory Factory) {
	DefaultRegistry.MustRegister(info, factory)
}
