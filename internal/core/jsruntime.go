package core

// JSRuntime abstracts the JavaScript engine (QuickJS or V8) behind the
// small surface the bridge needs. Every method must be called with the
// owning bridge's evaluation mutex held; implementations are not safe for
// concurrent use, except Interrupt.
type JSRuntime interface {
	// Eval evaluates JavaScript source in the global scope and discards
	// the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// RegisterFunc registers a Go function as a global JavaScript function.
	// Arguments are limited to string, int and bool; the function returns
	// (string, error). On error return, the JS wrapper throws a TypeError.
	// The function runs on the evaluating goroutine and must not call back
	// into the runtime.
	RegisterFunc(name string, fn any) error

	// SetGlobal sets a global variable on the JS context. Basic Go types
	// (string, int, float64, bool) are auto-converted to JS types.
	SetGlobal(name string, value any) error

	// RunPendingJobs executes queued engine jobs (promise reactions) until
	// none are ready or one fails. It returns the number of jobs that ran.
	RunPendingJobs() (int, error)

	// SetMemoryLimit caps the engine heap in bytes. Zero or negative
	// removes the limit where the engine supports it.
	SetMemoryLimit(bytes int64) error

	// SetMaxStackSize caps the native stack used by the engine.
	SetMaxStackSize(bytes int64) error

	// SetGCThreshold sets the allocation threshold that triggers a
	// collection.
	SetGCThreshold(bytes int64) error

	// MemoryUsage returns a snapshot of the engine's allocator counters.
	MemoryUsage() (MemoryUsage, error)

	// RunGC forces a garbage collection cycle.
	RunGC()

	// Interrupt aborts the currently running script. Safe to call from any
	// goroutine.
	Interrupt()

	// Close releases the context and then the runtime.
	Close()

	// Engine names the backend, "quickjs" or "v8".
	Engine() string
}

// BinaryTransferer is an optional interface that JSRuntime implementations
// can provide for efficient binary data transfer between Go and JS.
// V8 implements this using SharedArrayBuffer; QuickJS uses direct ArrayBuffer
// access via the libquickjs C API.
type BinaryTransferer interface {
	// ReadBinaryFromJS reads binary data from a JS buffer stored at the
	// given global variable name, deletes the global and returns the bytes.
	ReadBinaryFromJS(globalName string) ([]byte, error)

	// WriteBinaryToJS writes Go bytes into a JS ArrayBuffer at the given
	// global variable name.
	WriteBinaryToJS(globalName string, data []byte) error

	// BinaryMode returns the JS buffer type to use for binary transfer:
	// "sab" for SharedArrayBuffer (V8), "ab" for ArrayBuffer (QuickJS).
	BinaryMode() string
}

// AsyncEvaluator is implemented by engines that run global scripts with
// top-level await natively. Other engines get scripts rewritten into an
// async function.
type AsyncEvaluator interface {
	// EvalAsync evaluates src as a global script in which await is
	// allowed at the top level, and stores the promise it returns in the
	// global resultName. The promise resolves to an object holding the
	// script's completion value under "value". If evaluation throws
	// before a promise exists, the exception is stored instead and threw
	// is true.
	EvalAsync(src, filename, resultName string) (threw bool, err error)
}

// RejectionTracker is implemented by engines that report promise
// rejections nothing handled. Other engines get the tracking done in
// JavaScript.
type RejectionTracker interface {
	// TakeRejection stores the reason of the oldest rejection that is
	// still unhandled in the global name, forgets every recorded
	// rejection and reports whether there was one.
	TakeRejection(name string) (bool, error)

	// ResetRejections forgets every recorded rejection.
	ResetRejections()
}
