package convert

import (
	"fmt"
	"reflect"
)

type funcConverter[S, T any] struct {
	toTarget func(S) (T, error)
	toSource func(T) (S, error)
}

// Func builds a converter from S to T. toSource may be nil when only the
// forward direction is supported.
func Func[S, T any](toTarget func(S) (T, error), toSource func(T) (S, error)) Converter {
	return funcConverter[S, T]{toTarget: toTarget, toSource: toSource}
}

func (c funcConverter[S, T]) Source() reflect.Type { return reflect.TypeFor[S]() }
func (c funcConverter[S, T]) Target() reflect.Type { return reflect.TypeFor[T]() }

func (c funcConverter[S, T]) ToTarget(v any) (any, error) {
	s, ok := v.(S)
	if !ok {
		return nil, fmt.Errorf("convert: expected %s, found %T", reflect.TypeFor[S](), v)
	}
	return c.toTarget(s)
}

func (c funcConverter[S, T]) ToSource(v any) (any, error) {
	if c.toSource == nil {
		return nil, nil
	}
	t, ok := v.(T)
	if !ok {
		return nil, fmt.Errorf("convert: expected %s, found %T", reflect.TypeFor[T](), v)
	}
	return c.toSource(t)
}

// Object builds a converter between engine plain objects and T. Values of
// T passed to the engine go through toObject; plain objects expected as T
// go through fromObject.
func Object[T any](fromObject func(map[string]any) (T, error), toObject func(T) (map[string]any, error)) Converter {
	return Func(fromObject, toObject)
}
