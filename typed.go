package jsbridge

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/cryguy/jsbridge/internal/codec"
	"github.com/cryguy/jsbridge/internal/core"
)

// EvaluateAs evaluates code as a script and converts the result to T.
// Numbers are range checked; plain objects become T through a registered
// converter.
func EvaluateAs[T any](ctx context.Context, b *Bridge, code string) (T, error) {
	var zero T
	v, err := b.Evaluate(ctx, code, defaultFilename, false)
	if err != nil {
		return zero, err
	}
	out, err := b.coerce(v, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	return out.(T), nil
}

// TypedFunction exposes fn as a global function taking one argument of
// type P. Calls without an argument, or with null for a type that cannot
// be nil, throw in the engine.
func TypedFunction[P, R any](b *Bridge, name string, fn func(P) (R, error)) error {
	return b.DefineFunction(name, func(args []any) (any, error) {
		p, err := typedParam[P](b, name, args)
		if err != nil {
			return nil, err
		}
		return fn(p)
	})
}

// TypedAsyncFunction is TypedFunction for a function returning a promise.
func TypedAsyncFunction[P, R any](b *Bridge, name string, fn func(context.Context, P) (R, error)) error {
	return b.DefineAsyncFunction(name, func(ctx context.Context, args []any) (any, error) {
		p, err := typedParam[P](b, name, args)
		if err != nil {
			return nil, err
		}
		return fn(ctx, p)
	})
}

// AddTypeConverters registers converters used when values cross the
// boundary as types the engine has no direct form for.
func AddTypeConverters(b *Bridge, converters ...Converter) error {
	if b.closed.Load() {
		return core.ErrClosed
	}
	return b.converters.Register(converters...)
}

func typedParam[P any](b *Bridge, name string, args []any) (P, error) {
	var zero P
	if len(args) == 0 {
		return zero, fmt.Errorf("Function '%s' requires 1 parameter but none was passed.", name)
	}
	t := reflect.TypeFor[P]()
	if args[0] == nil {
		if !nullable(t) {
			return zero, fmt.Errorf("Function '%s' requires 1 non-null parameter but null was passed.", name)
		}
		return zero, nil
	}
	out, err := b.coerce(args[0], t)
	if err != nil {
		return zero, fmt.Errorf("Function '%s': %w", name, err)
	}
	if out == nil {
		return zero, nil
	}
	return out.(P), nil
}

func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface:
		return true
	}
	return false
}

// coerce converts a decoded engine value to t: numeric casts first, then
// element-wise for slices and string-keyed maps, then registered
// converters.
func (b *Bridge) coerce(v any, t reflect.Type) (any, error) {
	out, castErr := codec.CastTo(v, t)
	if castErr == nil {
		return out, nil
	}
	if errors.Is(castErr, codec.ErrOutOfRange) || v == nil {
		return nil, castErr
	}

	switch src := v.(type) {
	case []any:
		if t.Kind() == reflect.Slice {
			s := reflect.MakeSlice(t, len(src), len(src))
			for i, e := range src {
				ev, err := b.coerce(e, t.Elem())
				if err != nil {
					return nil, fmt.Errorf("element %d: %w", i, err)
				}
				setValue(s.Index(i), ev)
			}
			return s.Interface(), nil
		}
	case map[string]any:
		if t.Kind() == reflect.Map && t.Key().Kind() == reflect.String {
			m := reflect.MakeMapWithSize(t, len(src))
			for k, e := range src {
				ev, err := b.coerce(e, t.Elem())
				if err != nil {
					return nil, fmt.Errorf("key %q: %w", k, err)
				}
				val := reflect.New(t.Elem()).Elem()
				setValue(val, ev)
				m.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), val)
			}
			return m.Interface(), nil
		}
	}

	st := reflect.TypeOf(v)
	if b.converters.Has(st, t) {
		return b.converters.Convert(v, st, t)
	}
	if t.Kind() == reflect.Pointer && b.converters.Has(st, t.Elem()) {
		conv, err := b.converters.Convert(v, st, t.Elem())
		if err != nil {
			return nil, err
		}
		p := reflect.New(t.Elem())
		setValue(p.Elem(), conv)
		return p.Interface(), nil
	}
	if _, ok := v.(map[string]any); ok && t.Kind() == reflect.Struct {
		return nil, fmt.Errorf("%w for (%s, %s)", ErrNoConverter, st, t)
	}
	return nil, castErr
}

func setValue(dst reflect.Value, v any) {
	if v == nil {
		return
	}
	dst.Set(reflect.ValueOf(v))
}

// ModuleReturns captures a value from module code, which has no
// completion value of its own. Bind it with DefineBinding and call it from
// the module:
//
//	r := &jsbridge.ModuleReturns{}
//	b.DefineBinding("returns", r, jsbridge.GlobalThis)
//	b.Evaluate(ctx, `import * as m from "m"; returns(m.value);`, "main.js", true)
//	v, ok := r.Value()
type ModuleReturns struct {
	mu    sync.Mutex
	value any
	set   bool
}

// Call records the first argument, or nil when there is none.
func (r *ModuleReturns) Call(args []any) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = nil
	if len(args) > 0 {
		r.value = args[0]
	}
	r.set = true
	return nil, nil
}

// Value returns the recorded value and whether the module called it.
func (r *ModuleReturns) Value() (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.set
}
