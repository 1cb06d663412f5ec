// Package binding describes host objects and functions exposed to scripts
// and keeps the handle table used to dispatch engine calls back to them.
package binding

import (
	"context"
	"fmt"
)

// Handle identifies a bound object or function inside one bridge.
type Handle int64

// GlobalThis is the parent handle for bindings placed on the global object.
const GlobalThis Handle = -1

// PropertyDescriptor describes one property of a bound object. A property
// whose Writable flag is false gets no setter in the engine.
type PropertyDescriptor struct {
	Name         string `json:"name"`
	Configurable bool   `json:"configurable"`
	Enumerable   bool   `json:"enumerable"`
	Writable     bool   `json:"writable"`
}

// FunctionDescriptor describes one method of a bound object.
type FunctionDescriptor struct {
	Name  string `json:"name"`
	Async bool   `json:"async"`
}

// ObjectBinding is a host object exposed to scripts. Get and Set serve
// property access; Invoke serves method calls. For async methods Invoke is
// called on its own goroutine with a context that is cancelled when the
// call is abandoned.
type ObjectBinding interface {
	Properties() []PropertyDescriptor
	Functions() []FunctionDescriptor
	Get(name string) (any, error)
	Set(name string, value any) error
	Invoke(ctx context.Context, name string, args []any) (any, error)
}

// FunctionFunc is a synchronous host function. Arguments arrive decoded.
type FunctionFunc func(args []any) (any, error)

// AsyncFunctionFunc is an asynchronous host function. The engine sees a
// promise that settles with the result.
type AsyncFunctionFunc func(ctx context.Context, args []any) (any, error)

// Property is a declarative property of an Object.
type Property struct {
	Name         string
	Configurable bool
	Enumerable   bool
	Writable     bool
	Getter       func() (any, error)
	Setter       func(value any) error
}

// Function is a declarative method of an Object. Exactly one of Call and
// Async should be set.
type Function struct {
	Name  string
	Call  FunctionFunc
	Async AsyncFunctionFunc
}

// Object is an ObjectBinding built from property and function lists.
type Object struct {
	Name  string
	Props []Property
	Funcs []Function
}

var _ ObjectBinding = (*Object)(nil)

func (o *Object) Properties() []PropertyDescriptor {
	out := make([]PropertyDescriptor, len(o.Props))
	for i, p := range o.Props {
		out[i] = PropertyDescriptor{
			Name:         p.Name,
			Configurable: p.Configurable,
			Enumerable:   p.Enumerable,
			Writable:     p.Writable && p.Setter != nil,
		}
	}
	return out
}

func (o *Object) Functions() []FunctionDescriptor {
	out := make([]FunctionDescriptor, len(o.Funcs))
	for i, f := range o.Funcs {
		out[i] = FunctionDescriptor{Name: f.Name, Async: f.Async != nil}
	}
	return out
}

func (o *Object) property(name string) (*Property, error) {
	for i := range o.Props {
		if o.Props[i].Name == name {
			return &o.Props[i], nil
		}
	}
	return nil, fmt.Errorf("Property '%s' not found on object '%s'", name, o.Name)
}

func (o *Object) Get(name string) (any, error) {
	p, err := o.property(name)
	if err != nil {
		return nil, err
	}
	if p.Getter == nil {
		return nil, fmt.Errorf("The getter of property '%s' is null", name)
	}
	return p.Getter()
}

func (o *Object) Set(name string, value any) error {
	p, err := o.property(name)
	if err != nil {
		return err
	}
	if p.Setter == nil {
		return fmt.Errorf("Property '%s' of object '%s' is read-only", name, o.Name)
	}
	return p.Setter(value)
}

func (o *Object) Invoke(ctx context.Context, name string, args []any) (any, error) {
	for _, f := range o.Funcs {
		if f.Name != name {
			continue
		}
		if f.Async != nil {
			return f.Async(ctx, args)
		}
		if f.Call != nil {
			return f.Call(args)
		}
		return nil, fmt.Errorf("Function '%s' of object '%s' has no implementation", name, o.Name)
	}
	return nil, fmt.Errorf("Function '%s' not found on object '%s'", name, o.Name)
}
