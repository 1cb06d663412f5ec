package binding

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newInstance() (*Object, *string) {
	name := "Hello"
	return &Object{
		Name: "instance",
		Props: []Property{
			{
				Name:     "name",
				Writable: true,
				Getter:   func() (any, error) { return name, nil },
				Setter: func(v any) error {
					s, ok := v.(string)
					if !ok {
						return errors.New("name must be a string")
					}
					name = s
					return nil
				},
			},
			{Name: "version", Getter: func() (any, error) { return "1.0", nil }},
			{Name: "broken"},
		},
		Funcs: []Function{
			{Name: "greet", Call: func(args []any) (any, error) { return "Hi, " + name, nil }},
			{Name: "fetch", Async: func(ctx context.Context, args []any) (any, error) { return len(args), nil }},
		},
	}, &name
}

func TestObject_Descriptors(t *testing.T) {
	obj, _ := newInstance()
	props := obj.Properties()
	if len(props) != 3 {
		t.Fatalf("got %d properties, want 3", len(props))
	}
	if !props[0].Writable {
		t.Error("name should be writable")
	}
	if props[1].Writable {
		t.Error("version has no setter and must not be writable")
	}
	funcs := obj.Functions()
	if funcs[0].Async || !funcs[1].Async {
		t.Errorf("functions = %+v", funcs)
	}
}

func TestObject_GetSet(t *testing.T) {
	obj, name := newInstance()
	if err := obj.Set("name", "World"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if *name != "World" {
		t.Errorf("name = %q, want World", *name)
	}
	if err := obj.Set("name", 3); err == nil || err.Error() != "name must be a string" {
		t.Errorf("Set(3) err = %v", err)
	}
	if err := obj.Set("version", "2"); err == nil {
		t.Error("expected read-only error")
	}

	_, err := obj.Get("missing")
	if err == nil || err.Error() != "Property 'missing' not found on object 'instance'" {
		t.Errorf("Get(missing) err = %v", err)
	}
	_, err = obj.Get("broken")
	if err == nil || err.Error() != "The getter of property 'broken' is null" {
		t.Errorf("Get(broken) err = %v", err)
	}
}

func TestObject_Invoke(t *testing.T) {
	obj, _ := newInstance()
	v, err := obj.Invoke(context.Background(), "greet", nil)
	if err != nil || v != "Hi, Hello" {
		t.Errorf("greet = %v, %v", v, err)
	}
	v, err = obj.Invoke(context.Background(), "fetch", []any{1, 2})
	if err != nil || v != 2 {
		t.Errorf("fetch = %v, %v", v, err)
	}
	_, err = obj.Invoke(context.Background(), "nope", nil)
	if err == nil || err.Error() != "Function 'nope' not found on object 'instance'" {
		t.Errorf("nope err = %v", err)
	}
}

func TestTable_ObjectsAndFunctions(t *testing.T) {
	tbl := NewTable()
	obj, _ := newInstance()

	h, err := tbl.AddObject("instance", GlobalThis, obj)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}
	if h <= 0 {
		t.Fatalf("handle = %d, want positive", h)
	}

	child, err := tbl.AddObject("child", h, &Object{Name: "child"})
	if err != nil {
		t.Fatalf("AddObject child: %v", err)
	}
	if child == h {
		t.Error("handles must be unique")
	}

	if _, err := tbl.AddObject("orphan", 999, &Object{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("orphan err = %v, want ErrNotFound", err)
	}

	v, err := tbl.Get(h, "version")
	if err != nil || v != "1.0" {
		t.Errorf("Get = %v, %v", v, err)
	}

	target, err := tbl.Resolve(h, "fetch")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !target.Async {
		t.Error("fetch should resolve async")
	}
	if v, err := target.Call(context.Background(), []any{"a"}); err != nil || v != 1 {
		t.Errorf("Call = %v, %v", v, err)
	}

	_, err = tbl.Resolve(h, "missing")
	if err == nil || !strings.Contains(err.Error(), "'missing'") || !strings.Contains(err.Error(), "'instance'") {
		t.Errorf("Resolve(missing) err = %v", err)
	}
}

func TestTable_GlobalFunctions(t *testing.T) {
	tbl := NewTable()
	h, err := tbl.AddFunction("add", GlobalThis, func(args []any) (any, error) {
		return args[0].(int64) + args[1].(int64), nil
	}, nil)
	if err != nil {
		t.Fatalf("AddFunction: %v", err)
	}
	if h != GlobalThis {
		t.Errorf("global function handle = %d, want GlobalThis", h)
	}
	target, err := tbl.Resolve(GlobalThis, "add")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	v, err := target.Call(context.Background(), []any{int64(1), int64(2)})
	if err != nil || v != int64(3) {
		t.Errorf("add = %v, %v", v, err)
	}

	if _, err := tbl.Resolve(GlobalThis, "sub"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(sub) err = %v", err)
	}

	if _, err := tbl.AddFunction("both", GlobalThis, nil, nil); err == nil {
		t.Error("expected error without implementation")
	}
}

func TestTable_NestedFunctionAndClear(t *testing.T) {
	tbl := NewTable()
	parent, _ := tbl.AddObject("ns", GlobalThis, &Object{Name: "ns"})
	fh, err := tbl.AddFunction("wait", parent, nil, func(ctx context.Context, args []any) (any, error) {
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatalf("AddFunction: %v", err)
	}
	target, err := tbl.Resolve(fh, "")
	if err != nil || !target.Async {
		t.Fatalf("Resolve = %+v, %v", target, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := target.Call(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Call err = %v", err)
	}

	if tbl.Len() != 2 {
		t.Errorf("Len = %d, want 2", tbl.Len())
	}
	tbl.Clear()
	if tbl.Len() != 0 {
		t.Errorf("Len after Clear = %d", tbl.Len())
	}
	if _, err := tbl.Resolve(fh, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve after Clear err = %v", err)
	}
}

func TestDefineObjectJS(t *testing.T) {
	obj, _ := newInstance()
	js, err := DefineObjectJS(GlobalThis, "instance", 4, obj.Properties(), obj.Functions())
	if err != nil {
		t.Fatalf("DefineObjectJS: %v", err)
	}
	if !strings.HasPrefix(js, `__bridge.defineObject(-1, "instance", 4, [{"name":"name"`) {
		t.Errorf("js = %s", js)
	}
	if !strings.Contains(js, `{"name":"fetch","async":true}`) {
		t.Errorf("js missing async function: %s", js)
	}

	if got := DefineFunctionJS(2, "wait", 7, true); got != `__bridge.defineFunction(2, "wait", 7, true)` {
		t.Errorf("DefineFunctionJS = %s", got)
	}
}
