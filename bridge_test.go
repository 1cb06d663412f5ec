package jsbridge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestBridge(t *testing.T, opts ...Option) *Bridge {
	t.Helper()
	b, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func evalJS(t *testing.T, b *Bridge, code string) any {
	t.Helper()
	v, err := b.Evaluate(context.Background(), code, "", false)
	if err != nil {
		t.Fatalf("Evaluate(%q): %v", code, err)
	}
	return v
}

func defineEcho(t *testing.T, b *Bridge) {
	t.Helper()
	err := b.DefineFunction("echo", func(args []any) (any, error) {
		if len(args) == 0 {
			return nil, nil
		}
		return args[0], nil
	})
	if err != nil {
		t.Fatalf("DefineFunction: %v", err)
	}
}

func TestBridge_ScalarsRoundTrip(t *testing.T) {
	b := newTestBridge(t)
	defineEcho(t, b)

	tests := []struct {
		code string
		want any
	}{
		{"echo(1)", int64(1)},
		{"echo(-42)", int64(-42)},
		{"echo(1.5)", 1.5},
		{"echo('hello')", "hello"},
		{"echo('')", ""},
		{"echo(true)", true},
		{"echo(false)", false},
		{"echo(null)", nil},
		{"echo(undefined)", nil},
		{"echo()", nil},
	}
	for _, tt := range tests {
		got := evalJS(t, b, tt.code)
		if got != tt.want {
			t.Errorf("%s = %#v, want %#v", tt.code, got, tt.want)
		}
	}
}

func TestBridge_ContainersRoundTrip(t *testing.T) {
	b := newTestBridge(t)
	defineEcho(t, b)

	got := evalJS(t, b, "echo([1, 'a', [true]])")
	list, ok := got.([]any)
	if !ok || len(list) != 3 {
		t.Fatalf("got %#v, want a 3 element list", got)
	}
	if list[0] != int64(1) || list[1] != "a" {
		t.Errorf("list = %#v", list)
	}
	inner, ok := list[2].([]any)
	if !ok || len(inner) != 1 || inner[0] != true {
		t.Errorf("inner = %#v, want [true]", list[2])
	}

	got = evalJS(t, b, "echo({name: 'x', n: 2})")
	obj, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("got %T, want map[string]any", got)
	}
	if obj["name"] != "x" || obj["n"] != int64(2) {
		t.Errorf("obj = %#v", obj)
	}

	got = evalJS(t, b, "echo(new Set([1, 2]))")
	set, ok := got.(*Set)
	if !ok || set.Len() != 2 || !set.Has(int64(2)) {
		t.Errorf("got %#v, want a set of 1 and 2", got)
	}

	got = evalJS(t, b, "echo(new Map([['k', 'v']]))")
	m, ok := got.(*Map)
	if !ok {
		t.Fatalf("got %T, want *Map", got)
	}
	if v, _ := m.Get("k"); v != "v" {
		t.Errorf("m.Get(k) = %#v, want v", v)
	}

	got = evalJS(t, b, "new Uint8Array([1, 2, 3])")
	if bs, ok := got.([]byte); !ok || string(bs) != "\x01\x02\x03" {
		t.Errorf("got %#v, want []byte{1, 2, 3}", got)
	}
}

func TestBridge_CircularFromScript(t *testing.T) {
	b := newTestBridge(t)

	tests := []struct {
		code string
		want string
	}{
		{"var a = []; a.push(a); a", "circular reference detected in list"},
		{"var o = {x: {y: {}}}; o.x.y.z = o; o", "circular reference detected in object"},
		{"var m = new Map(); m.set('self', m); m", "circular reference detected in map"},
		{"var s = new Set(); s.add(s); s", "circular reference detected in set"},
		{"var r = {}; r.list = [new Set([r])]; r", "circular reference detected in object"},
		{"var q = new Set(); q.add([{ back: q }]); [q]", "circular reference detected in set"},
	}
	for _, tt := range tests {
		_, err := b.Evaluate(context.Background(), tt.code, "", false)
		if err == nil {
			t.Errorf("%s: expected error", tt.code)
			continue
		}
		if !errors.Is(err, ErrType) {
			t.Errorf("%s: got %v, want a TypeError", tt.code, err)
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: error %q does not contain %q", tt.code, err, tt.want)
		}
	}
}

func TestBridge_CircularFromHost(t *testing.T) {
	b := newTestBridge(t)

	list := make([]any, 1)
	list[0] = list
	deep := map[string]any{}
	deep["a"] = map[string]any{"b": deep}

	self := NewSet()
	self.Add(self)
	record := map[string]any{}
	record["list"] = []any{NewSet(record)}

	values := map[string]any{"list": list, "deep": deep, "set": self, "record": record}
	err := b.DefineFunction("cyclic", func(args []any) (any, error) {
		return values[args[0].(string)], nil
	})
	if err != nil {
		t.Fatalf("DefineFunction: %v", err)
	}

	for name, want := range map[string]string{"list": "in list", "deep": "in map", "set": "in set", "record": "in map"} {
		_, err := b.Evaluate(context.Background(), "cyclic('"+name+"')", "", false)
		if !errors.Is(err, ErrCircular) {
			t.Errorf("%s: got %v, want ErrCircular", name, err)
			continue
		}
		if !strings.Contains(err.Error(), want) {
			t.Errorf("%s: error %q does not contain %q", name, err, want)
		}
	}

	// Repeated non-cyclic references are fine.
	shared := []any{int64(1)}
	values["shared"] = []any{shared, shared}
	if _, err := b.Evaluate(context.Background(), "cyclic('shared')", "", false); err != nil {
		t.Errorf("shared references: %v", err)
	}
}

func TestBridge_CloseIsIdempotent(t *testing.T) {
	b := newTestBridge(t)
	if b.IsClosed() {
		t.Fatal("new bridge reports closed")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !b.IsClosed() {
		t.Error("IsClosed = false after Close")
	}
}

func TestBridge_ClosedOperations(t *testing.T) {
	b := newTestBridge(t)
	b.Close()

	ctx := context.Background()
	checks := map[string]error{}
	_, checks["Evaluate"] = b.Evaluate(ctx, "1", "", false)
	_, checks["Compile"] = b.Compile(ctx, "1", "", false)
	_, checks["Execute"] = b.Execute(ctx, nil)
	checks["AddModule"] = b.AddModule("m", "export const a = 1;")
	checks["DefineFunction"] = b.DefineFunction("f", func([]any) (any, error) { return nil, nil })
	_, checks["MemoryUsage"] = b.MemoryUsage()
	checks["GC"] = b.GC()
	checks["SetMemoryLimit"] = b.SetMemoryLimit(1 << 20)

	for name, err := range checks {
		if !errors.Is(err, ErrClosed) {
			t.Errorf("%s after Close: got %v, want ErrClosed", name, err)
		}
	}
}

func TestBridge_MemoryUsage(t *testing.T) {
	b := newTestBridge(t)
	evalJS(t, b, "var big = []; for (var i = 0; i < 1000; i++) big.push({i: i}); big.length")

	mu, err := b.MemoryUsage()
	if err != nil {
		t.Fatalf("MemoryUsage: %v", err)
	}
	if mu.MallocSize <= 0 {
		t.Errorf("MallocSize = %d, want > 0", mu.MallocSize)
	}
	if mu.MemoryUsedSize <= 0 {
		t.Errorf("MemoryUsedSize = %d, want > 0", mu.MemoryUsedSize)
	}
	if err := b.GC(); err != nil {
		t.Errorf("GC: %v", err)
	}
}

func TestBridge_MemoryLimit(t *testing.T) {
	if engineName != "quickjs" {
		t.Skip("heap limits are fixed at isolate creation on " + engineName)
	}
	b := newTestBridge(t)
	if err := b.SetMemoryLimit(4 << 20); err != nil {
		t.Fatalf("SetMemoryLimit: %v", err)
	}
	mu, err := b.MemoryUsage()
	if err != nil {
		t.Fatalf("MemoryUsage: %v", err)
	}
	if mu.MallocLimit != 4<<20 {
		t.Errorf("MallocLimit = %d, want %d", mu.MallocLimit, 4<<20)
	}
}

func TestBridge_EngineControlsUnsupportedOnV8(t *testing.T) {
	if engineName != "v8" {
		t.Skip("quickjs supports every control")
	}
	b := newTestBridge(t)
	if err := b.SetGCThreshold(1 << 20); !errors.Is(err, ErrUnsupported) {
		t.Errorf("SetGCThreshold: got %v, want ErrUnsupported", err)
	}
}

func TestBridge_Logging(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	b := newTestBridge(t, WithLogger(zap.New(obs)))
	b.Close()

	for _, msg := range []string{"bridge created", "bridge closed"} {
		entries := logs.FilterMessage(msg).All()
		if len(entries) != 1 {
			t.Errorf("%q logged %d times, want 1", msg, len(entries))
			continue
		}
		if entries[0].ContextMap()["bridge"] != b.id {
			t.Errorf("%q bridge field = %v, want %s", msg, entries[0].ContextMap()["bridge"], b.id)
		}
	}
}

func TestBridge_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := newTestBridge(t, WithMetrics(reg))

	evalJS(t, b, "1 + 1")
	b.Evaluate(context.Background(), "throw new Error('x')", "", false)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	counts := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "jsbridge_evaluations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" {
					counts[lp.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	if counts["ok"] != 1 || counts["error"] != 1 {
		t.Errorf("evaluation counts = %v, want ok=1 error=1", counts)
	}

	b.Close()
	families, _ = reg.Gather()
	if len(families) != 0 {
		t.Errorf("%d metric families left after Close, want 0", len(families))
	}
}

// keepRegistry ignores Unregister so metrics stay readable after Close.
type keepRegistry struct{ *prometheus.Registry }

func (keepRegistry) Unregister(prometheus.Collector) bool { return true }

func TestBridge_InterruptFinishesJobMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := newTestBridge(t, WithMetrics(keepRegistry{reg}))
	err := b.DefineAsyncFunction("wait", func(ctx context.Context, args []any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatalf("DefineAsyncFunction: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := b.Evaluate(ctx, "wait(); wait(); while (true) {}", "", false); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("got %v, want ErrInterrupted", err)
	}
	if !b.IsClosed() {
		t.Fatal("bridge still open after interrupt")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var inFlight, finished float64
	for _, mf := range families {
		switch mf.GetName() {
		case "jsbridge_async_jobs_in_flight":
			inFlight = mf.GetMetric()[0].GetGauge().GetValue()
		case "jsbridge_async_jobs_finished_total":
			for _, m := range mf.GetMetric() {
				finished += m.GetCounter().GetValue()
			}
		}
	}
	if inFlight != 0 {
		t.Errorf("jobs in flight = %v, want 0", inFlight)
	}
	if finished != 2 {
		t.Errorf("jobs finished = %v, want 2", finished)
	}
}

func TestBridge_SetOfEmptyArrays(t *testing.T) {
	b := newTestBridge(t)
	got, ok := evalJS(t, b, "new Set([[], []])").(*Set)
	if !ok {
		t.Fatalf("got %T, want *Set", got)
	}
	if got.Len() != 2 {
		t.Errorf("Len = %d, want 2", got.Len())
	}
}

func TestBridge_ProtoKeyFromHost(t *testing.T) {
	b := newTestBridge(t)
	err := b.DefineFunction("payload", func(args []any) (any, error) {
		return map[string]any{"__proto__": map[string]any{"polluted": true}}, nil
	})
	if err != nil {
		t.Fatalf("DefineFunction: %v", err)
	}

	got := evalJS(t, b, `
		var p = payload();
		[Object.keys(p).length, p.polluted === undefined, Object.getPrototypeOf(p) === Object.prototype, p.__proto__ !== undefined]
	`)
	want := []any{int64(1), true, true, true}
	list, _ := got.([]any)
	if len(list) != len(want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
	for i := range want {
		if list[i] != want[i] {
			t.Errorf("check %d = %#v, want %#v", i, list[i], want[i])
		}
	}
}

func TestBridge_HostGlobalsHidden(t *testing.T) {
	b := newTestBridge(t)
	defineEcho(t, b)

	got := evalJS(t, b, `
		Object.getOwnPropertyNames(globalThis).filter(k => k.indexOf('__host') === 0).length +
			(typeof __host_invoke === 'undefined' ? 0 : 100)
	`)
	if got != int64(0) {
		t.Errorf("host globals visible: %#v", got)
	}
	if got := evalJS(t, b, "echo('still bound')"); got != "still bound" {
		t.Errorf("echo = %#v", got)
	}
}
