package jsbridge

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAsync_ConcurrentIncrements(t *testing.T) {
	b := newTestBridge(t)

	var mu sync.Mutex
	count := 0
	err := b.DefineAsyncFunction("increment", func(ctx context.Context, args []any) (any, error) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		count++
		return int64(count), nil
	})
	if err != nil {
		t.Fatalf("DefineAsyncFunction: %v", err)
	}

	got := evalJS(t, b, `
		const results = await Promise.all(Array.from({ length: 1000 }, () => increment()));
		results.length
	`)
	if got != int64(1000) {
		t.Errorf("results.length = %v, want 1000", got)
	}
	if count != 1000 {
		t.Errorf("count = %d, want 1000", count)
	}
}

func TestAsync_TopLevelAwaitResult(t *testing.T) {
	b := newTestBridge(t)
	err := b.DefineAsyncFunction("later", func(ctx context.Context, args []any) (any, error) {
		return args[0], nil
	})
	if err != nil {
		t.Fatalf("DefineAsyncFunction: %v", err)
	}

	got := evalJS(t, b, "const v = await later(41); v + 1")
	if got != int64(42) {
		t.Errorf("got %#v, want 42", got)
	}

	got = evalJS(t, b, "await later('done')")
	if got != "done" {
		t.Errorf("got %#v, want done", got)
	}
}

func TestAsync_ErrorCaught(t *testing.T) {
	b := newTestBridge(t)
	boom := errors.New("boom")
	err := b.DefineAsyncFunction("fail", func(ctx context.Context, args []any) (any, error) {
		return nil, boom
	})
	if err != nil {
		t.Fatalf("DefineAsyncFunction: %v", err)
	}

	got := evalJS(t, b, "await fail().catch(e => 'caught ' + e.message)")
	if got != "caught boom" {
		t.Errorf("got %#v, want %q", got, "caught boom")
	}

	got = evalJS(t, b, "let r; try { await fail(); r = 'no' } catch (e) { r = 'caught' } r")
	if got != "caught" {
		t.Errorf("got %#v, want caught", got)
	}
}

func TestAsync_ErrorPropagates(t *testing.T) {
	b := newTestBridge(t)
	boom := errors.New("boom")
	err := b.DefineAsyncFunction("fail", func(ctx context.Context, args []any) (any, error) {
		return nil, boom
	})
	if err != nil {
		t.Fatalf("DefineAsyncFunction: %v", err)
	}

	_, err = b.Evaluate(context.Background(), "await fail()", "", false)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want the host error", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %q does not mention boom", err)
	}
}

func TestAsync_UnhandledRejection(t *testing.T) {
	b := newTestBridge(t)
	boom := errors.New("boom")
	err := b.DefineAsyncFunction("fail", func(ctx context.Context, args []any) (any, error) {
		return nil, boom
	})
	if err != nil {
		t.Fatalf("DefineAsyncFunction: %v", err)
	}

	_, err = b.Evaluate(context.Background(), "fail(); 1", "", false)
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want the unhandled host error", err)
	}

	_, err = b.Evaluate(context.Background(), "Promise.reject(new RangeError('nope')); 1", "", false)
	if !errors.Is(err, ErrRange) {
		t.Errorf("got %v, want a RangeError", err)
	}

	// The bridge stays usable.
	if got := evalJS(t, b, "2"); got != int64(2) {
		t.Errorf("got %#v, want 2", got)
	}
}

func TestAsync_ScriptErrorWinsOverRejection(t *testing.T) {
	b := newTestBridge(t)
	err := b.DefineAsyncFunction("fail", func(ctx context.Context, args []any) (any, error) {
		return nil, errors.New("boom")
	})
	if err != nil {
		t.Fatalf("DefineAsyncFunction: %v", err)
	}

	_, err = b.Evaluate(context.Background(), "fail(); throw new TypeError('first')", "", false)
	if !errors.Is(err, ErrType) {
		t.Errorf("got %v, want the TypeError", err)
	}
}

func TestAsync_CloseDuringAsyncWork(t *testing.T) {
	for i := 0; i < 50; i++ {
		b, err := New()
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		started := make(chan struct{}, 1)
		err = b.DefineAsyncFunction("wait", func(ctx context.Context, args []any) (any, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return nil, ctx.Err()
		})
		if err != nil {
			t.Fatalf("DefineAsyncFunction: %v", err)
		}

		done := make(chan error, 1)
		go func() {
			_, err := b.Evaluate(context.Background(), "await Promise.all([wait(), wait(), wait()])", "", false)
			done <- err
		}()

		if i%2 == 0 {
			<-started
		}
		time.Sleep(time.Duration(rand.IntN(500)) * time.Microsecond)
		b.Close()

		select {
		case err := <-done:
			if !errors.Is(err, ErrClosed) {
				t.Fatalf("iteration %d: got %v, want ErrClosed", i, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("iteration %d: Evaluate did not return after Close", i)
		}
	}
}

func TestAsync_ContextCancelKeepsBridge(t *testing.T) {
	b := newTestBridge(t)
	err := b.DefineAsyncFunction("wait", func(ctx context.Context, args []any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatalf("DefineAsyncFunction: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.Evaluate(ctx, "await wait()", "", false)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
	if b.IsClosed() {
		t.Fatal("bridge closed after cancelling a wait")
	}
	if got := evalJS(t, b, "1 + 1"); got != int64(2) {
		t.Errorf("got %#v, want 2", got)
	}
}

func TestAsync_ContextCancelInterruptsScript(t *testing.T) {
	b := newTestBridge(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.Evaluate(ctx, "while (true) {}", "", false)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("got %v, want ErrInterrupted", err)
	}
	if !b.IsClosed() {
		t.Error("bridge still open after interrupting a script")
	}
	if _, err := b.Evaluate(context.Background(), "1", "", false); !errors.Is(err, ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
}

func TestAsync_CancelledContextBeforeEvaluate(t *testing.T) {
	b := newTestBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Evaluate(ctx, "1", "", false); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if b.IsClosed() {
		t.Error("bridge closed by an already cancelled context")
	}
}

func TestAsync_PromiseResultPlaceholder(t *testing.T) {
	b := newTestBridge(t)

	got := evalJS(t, b, "Promise.resolve(1)")
	if got != PromiseFulfilled {
		t.Errorf("got %#v, want %v", got, PromiseFulfilled)
	}
	if s, _ := got.(PromiseState); s.String() != `Promise { <state>: "fulfilled" }` {
		t.Errorf("String() = %q", s.String())
	}

	got = evalJS(t, b, "new Promise(() => {})")
	if got != PromisePending {
		t.Errorf("got %#v, want %v", got, PromisePending)
	}
}

func TestAsync_TopLevelAwaitParenthesized(t *testing.T) {
	b := newTestBridge(t)
	err := b.DefineAsyncFunction("later", func(ctx context.Context, args []any) (any, error) {
		return args[0], nil
	})
	if err != nil {
		t.Fatalf("DefineAsyncFunction: %v", err)
	}

	tests := []struct {
		code string
		want any
	}{
		{"(await later(1))", int64(1)},
		{"await later(0);\n(await later(2)) + 1", int64(3)},
		{"const f = x => x * 2;\nawait later(0);\n(f)(await later(4))", int64(8)},
	}
	for _, tt := range tests {
		if got := evalJS(t, b, tt.code); got != tt.want {
			t.Errorf("%q = %#v, want %#v", tt.code, got, tt.want)
		}
	}
}

func TestAsync_TopLevelAwaitDeclarationsPersist(t *testing.T) {
	if engineName == "v8" {
		t.Skip("top-level await scripts run in a function scope on v8")
	}
	b := newTestBridge(t)
	err := b.DefineAsyncFunction("later", func(ctx context.Context, args []any) (any, error) {
		return args[0], nil
	})
	if err != nil {
		t.Fatalf("DefineAsyncFunction: %v", err)
	}

	if got := evalJS(t, b, "var g = await later(5); function twice() { return g * 2; } g"); got != int64(5) {
		t.Fatalf("got %#v, want 5", got)
	}
	if got := evalJS(t, b, "g"); got != int64(5) {
		t.Errorf("g = %#v, want 5", got)
	}
	if got := evalJS(t, b, "twice()"); got != int64(10) {
		t.Errorf("twice() = %#v, want 10", got)
	}
}

func TestAsync_UnhandledEngineRejections(t *testing.T) {
	if engineName == "v8" {
		t.Skip("v8 only tracks rejections of host and combinator promises")
	}
	b := newTestBridge(t)

	tests := []string{
		"async function f() { throw new Error('from async'); } f(); 'ok'",
		"new Promise((_, reject) => reject(new Error('from executor'))); 'ok'",
		"Promise.resolve().then(() => { throw new Error('from then'); }); 'ok'",
		"(async () => { await null; throw new Error('after await'); })(); 'ok'",
	}
	for _, code := range tests {
		_, err := b.Evaluate(context.Background(), code, "", false)
		if !errors.Is(err, ErrError) {
			t.Errorf("%s: got %v, want the unhandled Error", code, err)
		}
	}

	handled := []string{
		"async function g() { throw new Error('x'); } g().catch(() => {}); 'ok'",
		"var p = Promise.reject(new Error('x')); p.then(null, () => {}); 'ok'",
		"new Promise((_, reject) => reject(1)).finally(() => {}).catch(() => {}); 'ok'",
	}
	for _, code := range handled {
		if got := evalJS(t, b, code); got != "ok" {
			t.Errorf("%s: got %#v, want ok", code, got)
		}
	}
}

func TestAsync_NativeAsyncFunctionRejection(t *testing.T) {
	if engineName == "v8" {
		t.Skip("v8 only tracks rejections of host and combinator promises")
	}
	b := newTestBridge(t)
	err := b.DefineAsyncFunction("fetch", func(ctx context.Context, args []any) (any, error) {
		return nil, errors.New("Error occurred")
	})
	if err != nil {
		t.Fatalf("DefineAsyncFunction: %v", err)
	}

	_, err = b.Evaluate(context.Background(), "async function load() { return await fetch(); } load(); 'ok'", "", false)
	if err == nil || !strings.Contains(err.Error(), "Error occurred") {
		t.Errorf("got %v, want the fetch error", err)
	}

	got := evalJS(t, b, "async function load2() { return await fetch(); } load2().catch(() => {}); 'Caught'")
	if got != "Caught" {
		t.Errorf("got %#v, want Caught", got)
	}
}

func TestAsync_JobCancellation(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		wantErr     bool
		wantDelayed bool
	}{
		{"uncaught without await", "delay(); fetch();", true, false},
		{"uncaught with await", "delay(); await fetch();", true, true},
		{"uncaught in Promise.all", "await Promise.all([delay(), fetch()]);", true, true},
		{"caught", "delay(); fetch().catch((e) => {});", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBridge(t)
			var delayed atomic.Bool
			err := b.DefineAsyncFunction("fetch", func(ctx context.Context, args []any) (any, error) {
				return nil, errors.New("Error occurred")
			})
			if err != nil {
				t.Fatalf("DefineAsyncFunction fetch: %v", err)
			}
			err = b.DefineAsyncFunction("delay", func(ctx context.Context, args []any) (any, error) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(200 * time.Millisecond):
					delayed.Store(true)
					return nil, nil
				}
			})
			if err != nil {
				t.Fatalf("DefineAsyncFunction delay: %v", err)
			}

			_, err = b.Evaluate(context.Background(), tt.code, "", false)
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "Error occurred") {
					t.Fatalf("got %v, want the fetch error", err)
				}
			} else if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if delayed.Load() != tt.wantDelayed {
				t.Errorf("delay completed = %v, want %v", delayed.Load(), tt.wantDelayed)
			}
		})
	}
}
