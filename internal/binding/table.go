package binding

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is wrapped when a handle or function name does not resolve.
var ErrNotFound = errors.New("binding not found")

type entry struct {
	name   string
	parent Handle
	object ObjectBinding
	call   FunctionFunc
	async  AsyncFunctionFunc
}

// Target is a resolved function ready to be called.
type Target struct {
	Name  string
	Async bool
	fn    func(ctx context.Context, args []any) (any, error)
}

// Call runs the function. ctx is only observed by async functions.
func (t Target) Call(ctx context.Context, args []any) (any, error) {
	return t.fn(ctx, args)
}

// Table maps handles to bound objects and functions. Handles are allocated
// from a per-table counter and never reused.
type Table struct {
	mu      sync.RWMutex
	next    Handle
	entries map[Handle]*entry
	globals map[string]*entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		entries: make(map[Handle]*entry),
		globals: make(map[string]*entry),
	}
}

func (t *Table) checkParent(parent Handle) error {
	if parent == GlobalThis {
		return nil
	}
	e, ok := t.entries[parent]
	if !ok || e.object == nil {
		return fmt.Errorf("%w: parent handle %d", ErrNotFound, parent)
	}
	return nil
}

// AddObject registers obj under parent and returns its handle.
func (t *Table) AddObject(name string, parent Handle, obj ObjectBinding) (Handle, error) {
	if obj == nil {
		return 0, errors.New("binding: nil object")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkParent(parent); err != nil {
		return 0, err
	}
	t.next++
	t.entries[t.next] = &entry{name: name, parent: parent, object: obj}
	return t.next, nil
}

// AddFunction registers a standalone function under parent. Functions on
// the global object are dispatched by name through GlobalThis, which is the
// handle returned for them.
func (t *Table) AddFunction(name string, parent Handle, call FunctionFunc, async AsyncFunctionFunc) (Handle, error) {
	if (call == nil) == (async == nil) {
		return 0, errors.New("binding: exactly one of call and async must be set")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkParent(parent); err != nil {
		return 0, err
	}
	e := &entry{name: name, parent: parent, call: call, async: async}
	if parent == GlobalThis {
		t.globals[name] = e
		return GlobalThis, nil
	}
	t.next++
	t.entries[t.next] = e
	return t.next, nil
}

// Object returns the object bound under h.
func (t *Table) Object(h Handle) (ObjectBinding, string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[h]
	if !ok || e.object == nil {
		return nil, "", fmt.Errorf("%w: object handle %d", ErrNotFound, h)
	}
	return e.object, e.name, nil
}

// Get reads a property of the object bound under h.
func (t *Table) Get(h Handle, name string) (any, error) {
	obj, _, err := t.Object(h)
	if err != nil {
		return nil, err
	}
	return obj.Get(name)
}

// Set writes a property of the object bound under h.
func (t *Table) Set(h Handle, name string, value any) error {
	obj, _, err := t.Object(h)
	if err != nil {
		return err
	}
	return obj.Set(name, value)
}

// Resolve finds the function name on the binding h. For GlobalThis the
// name is looked up among global functions; for a standalone function
// handle name is ignored.
func (t *Table) Resolve(h Handle, name string) (Target, error) {
	t.mu.RLock()
	var e *entry
	if h == GlobalThis {
		e = t.globals[name]
	} else {
		e = t.entries[h]
	}
	t.mu.RUnlock()

	if e == nil {
		if h == GlobalThis {
			return Target{}, fmt.Errorf("%w: global function '%s'", ErrNotFound, name)
		}
		return Target{}, fmt.Errorf("%w: handle %d", ErrNotFound, h)
	}

	switch {
	case e.object != nil:
		obj := e.object
		for _, d := range obj.Functions() {
			if d.Name == name {
				return Target{Name: name, Async: d.Async, fn: func(ctx context.Context, args []any) (any, error) {
					return obj.Invoke(ctx, name, args)
				}}, nil
			}
		}
		return Target{}, fmt.Errorf("Function '%s' not found on object '%s'", name, e.name)
	case e.async != nil:
		return Target{Name: e.name, Async: true, fn: e.async}, nil
	default:
		call := e.call
		return Target{Name: e.name, fn: func(_ context.Context, args []any) (any, error) {
			return call(args)
		}}, nil
	}
}

// Len returns the number of live bindings, global functions included.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries) + len(t.globals)
}

// Clear drops every binding. Handles keep counting up afterwards.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.entries)
	clear(t.globals)
}
