package searchbase

import (
	"context"
	"fmt"
)

// Collection is a typed view of the store for one registered entity type.
//
// Example:
//
//	events, err := searchbase.NewCollection[*calendar.Event](store)
//	res, err := events.Merge(ctx, &calendar.Event{Title: "standup"})
//	found, err := events.Find(ctx, "@title:standup")
type Collection[T Entity] struct {
	store *Store
	info  TypeInfo
}

// NewCollection resolves T in the store's registry
func NewCollection[T Entity](store *Store) (*Collection[T], error) {
	var zero T
	info, err := store.registry.InfoOf(zero)
	if err != nil {
		return nil, err
	}
	return &Collection[T]{store: store, info: info}, nil
}

// Info returns the registration of T
func (c *Collection[T]) Info() TypeInfo { return c.info }

// Merge inserts or updates e
func (c *Collection[T]) Merge(ctx context.Context, e T) (WriteResult, error) {
	return c.store.Merge(ctx, e)
}

// Get loads the entity stored under id
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	e, err := c.store.FindByID(ctx, c.info.Name, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return as[T](e)
}

// Find returns every entity matching expression
func (c *Collection[T]) Find(ctx context.Context, expression string) ([]T, error) {
	entities, err := c.store.FindByExpression(ctx, c.info.Name, expression)
	if err != nil {
		return nil, err
	}
	return asSlice[T](entities)
}

// Search returns one page of entities matching q
func (c *Collection[T]) Search(ctx context.Context, q *Query) ([]T, error) {
	entities, err := c.store.FindByQuery(ctx, c.info.Name, q)
	if err != nil {
		return nil, err
	}
	return asSlice[T](entities)
}

// Remove deletes the entity stored under id
func (c *Collection[T]) Remove(ctx context.Context, id string) error {
	return c.store.Remove(ctx, c.info.Name, id)
}

// Reindex rewrites the index document of every stored entity
func (c *Collection[T]) Reindex(ctx context.Context) (*RepairReport, error) {
	return c.store.Reindex(ctx, c.info.Name)
}

// Find loads the entity of type T stored under id
func Find[T Entity](ctx context.Context, s *Store, id string) (T, error) {
	c, err := NewCollection[T](s)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.Get(ctx, id)
}

// Search returns every entity of type T matching expression
func Search[T Entity](ctx context.Context, s *Store, expression string) ([]T, error) {
	c, err := NewCollection[T](s)
	if err != nil {
		return nil, err
	}
	return c.Find(ctx, expression)
}

func as[T Entity](e Entity) (T, error) {
	v, ok := e.(T)
	if !ok {
		var zero T
		return zero, WithContext(ErrInvalidData, map[string]interface{}{
			"got":    fmt.Sprintf("%T", e),
			"want":   fmt.Sprintf("%T", zero),
			"reason": "registry returned a different type",
		})
	}
	return v, nil
}

func asSlice[T Entity](entities []Entity) ([]T, error) {
	out := make([]T, 0, len(entities))
	for _, e := range entities {
		v, err := as[T](e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
