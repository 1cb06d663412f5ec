// Package convert holds the registry of user type converters used when host
// values that have no built-in engine mapping cross the boundary.
package convert

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ObjectType is the canonical host form of an engine plain object.
var ObjectType = reflect.TypeFor[map[string]any]()

// ErrNoConverter is wrapped by every lookup failure.
var ErrNoConverter = errors.New("no converter found")

// Converter converts between a source and a target type. ToSource may
// return (nil, nil) when the reverse direction is not supported.
type Converter interface {
	Source() reflect.Type
	Target() reflect.Type
	ToTarget(v any) (any, error)
	ToSource(v any) (any, error)
}

type pair struct {
	source, target reflect.Type
}

// Registry is a thread-safe table of converters keyed by (source, target).
type Registry struct {
	mu    sync.RWMutex
	table map[pair]Converter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{table: make(map[pair]Converter)}
}

// Register adds converters. A converter for an already registered pair
// replaces the previous one.
func (r *Registry) Register(cs ...Converter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cs {
		if c == nil {
			return errors.New("convert: nil converter")
		}
		if c.Source() == nil || c.Target() == nil {
			return fmt.Errorf("convert: converter %T has a nil type", c)
		}
		r.table[pair{c.Source(), c.Target()}] = c
	}
	return nil
}

// Len returns the number of registered converters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.table)
}

// Convert converts v from source to target. Identical types pass through;
// otherwise an exact (source, target) converter is tried first, then the
// reverse-direction fallback of a (target, source) converter.
func (r *Registry) Convert(v any, source, target reflect.Type) (any, error) {
	if source == target {
		return v, nil
	}
	r.mu.RLock()
	exact := r.table[pair{source, target}]
	inverse := r.table[pair{target, source}]
	r.mu.RUnlock()

	if exact != nil {
		return exact.ToTarget(v)
	}
	if inverse != nil {
		out, err := inverse.ToSource(v)
		if err != nil {
			return nil, err
		}
		if out != nil {
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w for (%s, %s)", ErrNoConverter, typeName(source), typeName(target))
}

// Has reports whether v of type source can be converted to target.
func (r *Registry) Has(source, target reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table[pair{source, target}] != nil || r.table[pair{target, source}] != nil
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "nil"
	}
	return t.String()
}
