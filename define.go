package jsbridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/binding"
)

// DefineBinding exposes bnd to scripts as name on the object bound under
// parent, or on the global object when parent is GlobalThis. bnd is an
// ObjectBinding, a FunctionFunc, an AsyncFunctionFunc, a function of one
// of those two shapes, or a *ModuleReturns. The returned handle can parent
// further bindings when bnd is an object.
func (b *Bridge) DefineBinding(name string, bnd any, parent Handle) (Handle, error) {
	switch v := bnd.(type) {
	case ObjectBinding:
		return b.defineObject(name, v, parent)
	case FunctionFunc:
		return b.defineFunction(name, v, nil, parent)
	case func(args []any) (any, error):
		return b.defineFunction(name, v, nil, parent)
	case AsyncFunctionFunc:
		return b.defineFunction(name, nil, v, parent)
	case func(ctx context.Context, args []any) (any, error):
		return b.defineFunction(name, nil, v, parent)
	case *ModuleReturns:
		return b.defineFunction(name, v.Call, nil, parent)
	case nil:
		return 0, fmt.Errorf("defining %s: nil binding", name)
	default:
		return 0, fmt.Errorf("defining %s: unsupported binding type %T", name, bnd)
	}
}

// DefineObject exposes obj as a global object.
func (b *Bridge) DefineObject(name string, obj ObjectBinding) (Handle, error) {
	return b.defineObject(name, obj, GlobalThis)
}

// DefineFunction exposes fn as a global function.
func (b *Bridge) DefineFunction(name string, fn FunctionFunc) error {
	_, err := b.defineFunction(name, fn, nil, GlobalThis)
	return err
}

// DefineAsyncFunction exposes fn as a global function returning a promise.
func (b *Bridge) DefineAsyncFunction(name string, fn AsyncFunctionFunc) error {
	_, err := b.defineFunction(name, nil, fn, GlobalThis)
	return err
}

func (b *Bridge) defineObject(name string, obj ObjectBinding, parent Handle) (Handle, error) {
	if obj == nil {
		return 0, fmt.Errorf("defining %s: nil object", name)
	}
	if err := b.lock(); err != nil {
		return 0, err
	}
	defer b.evalMu.Unlock()

	h, err := b.table.AddObject(name, parent, obj)
	if err != nil {
		return 0, fmt.Errorf("defining %s: %w", name, err)
	}
	src, err := binding.DefineObjectJS(parent, name, h, obj.Properties(), obj.Functions())
	if err != nil {
		return 0, err
	}
	if err := b.rt.Eval(src); err != nil {
		return 0, fmt.Errorf("defining %s: %w", name, err)
	}
	b.logger.Debug("object defined", zap.String("name", name), zap.Int64("handle", int64(h)))
	return h, nil
}

func (b *Bridge) defineFunction(name string, call FunctionFunc, async AsyncFunctionFunc, parent Handle) (Handle, error) {
	if call == nil && async == nil {
		return 0, fmt.Errorf("defining %s: nil function", name)
	}
	if err := b.lock(); err != nil {
		return 0, err
	}
	defer b.evalMu.Unlock()

	h, err := b.table.AddFunction(name, parent, call, async)
	if err != nil {
		return 0, fmt.Errorf("defining %s: %w", name, err)
	}
	if err := b.rt.Eval(binding.DefineFunctionJS(parent, name, h, async != nil)); err != nil {
		return 0, fmt.Errorf("defining %s: %w", name, err)
	}
	b.logger.Debug("function defined", zap.String("name", name), zap.Bool("async", async != nil))
	return h, nil
}
