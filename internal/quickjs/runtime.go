//go:build !v8

// Package quickjs runs the bridge on QuickJS through modernc.org/quickjs.
// The Go wrapper does not expose the job queue or the allocator controls,
// so those go straight to the libquickjs C API using the VM's runtime and
// context pointers.
package quickjs

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unsafe"

	"github.com/cryguy/jsbridge/internal/core"
	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// Runtime implements core.JSRuntime for the QuickJS engine.
type Runtime struct {
	vm  *quickjs.VM
	tls *libc.TLS // cached from VM internals for direct C API access
	ctx uintptr   // JSContext*
	rt  uintptr   // JSRuntime*

	// rejections holds promises rejected without a handler, in order.
	// Both values are owned references.
	rejections []rejection
}

type rejection struct {
	promise lib.TJSValue
	reason  lib.TJSValue
}

var (
	_ core.JSRuntime        = (*Runtime)(nil)
	_ core.BinaryTransferer = (*Runtime)(nil)
	_ core.AsyncEvaluator   = (*Runtime)(nil)
	_ core.RejectionTracker = (*Runtime)(nil)
)

// trackers maps a JSContext* to its Runtime for the rejection callback.
var trackers sync.Map

// New creates a VM and applies the memory settings in cfg. On any failure
// the VM is closed before returning.
func New(cfg core.Config) (*Runtime, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	r := &Runtime{vm: vm}
	if err := r.init(cfg); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runtime) init(cfg core.Config) error {
	if err := r.extractInternals(); err != nil {
		return fmt.Errorf("accessing QuickJS internals: %w", err)
	}
	// Smoke-test the pointers with a trivial C API call.
	glob := lib.XJS_GetGlobalObject(r.tls, r.ctx)
	lib.XFreeValue(r.tls, r.ctx, glob)

	trackers.Store(r.ctx, r)
	lib.XJS_SetHostPromiseRejectionTracker(r.tls, r.rt, cfunc(rejectionTracker), 0)

	if cfg.MemoryLimit > 0 {
		if err := r.SetMemoryLimit(cfg.MemoryLimit); err != nil {
			return err
		}
	}
	if cfg.MaxStackSize > 0 {
		if err := r.SetMaxStackSize(cfg.MaxStackSize); err != nil {
			return err
		}
	}
	if cfg.GCThreshold > 0 {
		if err := r.SetGCThreshold(cfg.GCThreshold); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) Engine() string { return "quickjs" }

// Eval evaluates JavaScript and discards the result.
func (r *Runtime) Eval(js string) error {
	v, err := r.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return r.evalError(err)
	}
	v.Free()
	return nil
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *Runtime) EvalString(js string) (string, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return "", r.evalError(err)
	}
	if result == nil {
		return "", nil
	}
	if s, ok := result.(string); ok {
		return s, nil
	}
	return fmt.Sprint(result), nil
}

// evalError maps the uncatchable interrupt exception to ErrInterrupted.
func (r *Runtime) evalError(err error) error {
	if strings.Contains(err.Error(), "interrupted") {
		return fmt.Errorf("%w: %v", core.ErrInterrupted, err)
	}
	return err
}

// EvalAsync evaluates src with JS_EVAL_FLAG_ASYNC, so top-level await
// works and declarations land in the global scope.
func (r *Runtime) EvalAsync(src, filename, resultName string) (bool, error) {
	cSrc, err := libc.CString(src)
	if err != nil {
		return false, fmt.Errorf("allocating script: %w", err)
	}
	defer libc.Xfree(r.tls, cSrc)
	cName, err := libc.CString(filename)
	if err != nil {
		return false, fmt.Errorf("allocating file name: %w", err)
	}
	defer libc.Xfree(r.tls, cName)

	v := lib.XJS_Eval(r.tls, r.ctx, cSrc, lib.Tsize_t(len(src)), cName, lib.MJS_EVAL_TYPE_GLOBAL|lib.MJS_EVAL_FLAG_ASYNC)
	if lib.XJS_HasException(r.tls, r.ctx) != 0 {
		lib.XFreeValue(r.tls, r.ctx, v)
		return true, r.setGlobalValue(resultName, lib.XJS_GetException(r.tls, r.ctx))
	}
	return false, r.setGlobalValue(resultName, v)
}

// rejectionTracker is the engine's host promise rejection tracker. It runs
// on the goroutine evaluating script code.
func rejectionTracker(tls *libc.TLS, ctx uintptr, promise, reason lib.TJSValue, isHandled int32, opaque uintptr) {
	v, ok := trackers.Load(ctx)
	if !ok {
		return
	}
	r := v.(*Runtime)
	if isHandled != 0 {
		for i, rej := range r.rejections {
			if rej.promise == promise {
				r.free(rej)
				r.rejections = append(r.rejections[:i], r.rejections[i+1:]...)
				return
			}
		}
		return
	}
	r.rejections = append(r.rejections, rejection{
		promise: lib.XDupValue(tls, ctx, promise),
		reason:  lib.XDupValue(tls, ctx, reason),
	})
}

// TakeRejection moves the oldest unhandled rejection reason into a global.
func (r *Runtime) TakeRejection(name string) (bool, error) {
	if len(r.rejections) == 0 {
		return false, nil
	}
	first := r.rejections[0]
	for _, rej := range r.rejections[1:] {
		r.free(rej)
	}
	r.rejections = nil
	lib.XFreeValue(r.tls, r.ctx, first.promise)
	return true, r.setGlobalValue(name, first.reason)
}

func (r *Runtime) ResetRejections() {
	for _, rej := range r.rejections {
		r.free(rej)
	}
	r.rejections = nil
}

func (r *Runtime) free(rej rejection) {
	lib.XFreeValue(r.tls, r.ctx, rej.promise)
	lib.XFreeValue(r.tls, r.ctx, rej.reason)
}

// cfunc returns the C function pointer ccgo uses for a Go function. f must
// be a top-level function so the pointer stays valid.
func cfunc(f any) uintptr {
	type iface [2]uintptr
	return (*iface)(unsafe.Pointer(&f))[1]
}

// RegisterFunc registers a Go function as a global JavaScript function.
// Multi-value Go returns (T, error) are unwrapped: on success the function
// returns T, on error it throws a TypeError. The QuickJS Go wrapper returns
// multi-value results as JS arrays, hence the shim.
func (r *Runtime) RegisterFunc(name string, fn any) error {
	rawName := "__raw_" + name
	if err := r.vm.RegisterFunc(rawName, fn, false); err != nil {
		return err
	}
	wrapJS := fmt.Sprintf(`(function() {
		var raw = globalThis[%q];
		Object.defineProperty(globalThis, %q, {
			value: function() {
				var r = raw.apply(this, arguments);
				if (Array.isArray(r)) {
					if (r[1] !== null && r[1] !== undefined) throw new TypeError("calling %s: " + r[1]);
					return r[0];
				}
				return r;
			},
			writable: false, enumerable: false, configurable: true
		});
		delete globalThis[%q];
	})()`, rawName, name, name, rawName)
	return r.Eval(wrapJS)
}

// SetGlobal sets a global property on the VM's global object.
func (r *Runtime) SetGlobal(name string, value any) error {
	atom, err := r.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("creating atom %q: %w", name, err)
	}
	glob := r.vm.GlobalObject()
	defer glob.Free()
	return glob.SetProperty(atom, value)
}

// RunPendingJobs pumps the QuickJS job queue. The Go wrapper never calls
// JS_ExecutePendingJob, so promise reactions would otherwise never run.
func (r *Runtime) RunPendingJobs() (int, error) {
	count := 0
	for {
		ret := lib.XJS_ExecutePendingJob(r.tls, r.rt, 0)
		if ret == 0 {
			return count, nil
		}
		if ret < 0 {
			return count, r.pendingJobError()
		}
		count++
	}
}

// pendingJobError takes the context's exception and describes it. Only
// uncatchable failures (interrupts, allocation failures) reach here; a
// throwing promise reaction rejects its derived promise instead.
func (r *Runtime) pendingJobError() error {
	exc := lib.XJS_GetException(r.tls, r.ctx)
	if err := r.setGlobalValue("__qjs_job_error", exc); err != nil {
		return fmt.Errorf("pending job failed: %w", err)
	}
	msg, err := r.vm.Eval(`(function() {
		var e = globalThis.__qjs_job_error;
		delete globalThis.__qjs_job_error;
		return String(e);
	})()`, quickjs.EvalGlobal)
	if err != nil {
		return r.evalError(err)
	}
	return r.evalError(fmt.Errorf("pending job failed: %v", msg))
}

// setGlobalValue stores a raw JSValue as a global. The value reference is
// consumed.
func (r *Runtime) setGlobalValue(name string, v lib.TJSValue) error {
	cName, err := libc.CString(name)
	if err != nil {
		lib.XFreeValue(r.tls, r.ctx, v)
		return fmt.Errorf("allocating property name: %w", err)
	}
	glob := lib.XJS_GetGlobalObject(r.tls, r.ctx)
	ret := lib.XJS_SetPropertyStr(r.tls, r.ctx, glob, cName, v)
	lib.XFreeValue(r.tls, r.ctx, glob)
	libc.Xfree(r.tls, cName)
	if ret < 0 {
		return fmt.Errorf("setting global %q", name)
	}
	return nil
}

// SetMemoryLimit caps the heap. Zero or negative removes the cap.
func (r *Runtime) SetMemoryLimit(bytes int64) error {
	if bytes <= 0 {
		r.vm.SetMemoryLimit(^uintptr(0))
		return nil
	}
	r.vm.SetMemoryLimit(uintptr(bytes))
	return nil
}

func (r *Runtime) SetMaxStackSize(bytes int64) error {
	if bytes < 0 {
		return fmt.Errorf("invalid stack size %d", bytes)
	}
	lib.XJS_SetMaxStackSize(r.tls, r.rt, lib.Tsize_t(bytes))
	return nil
}

func (r *Runtime) SetGCThreshold(bytes int64) error {
	if bytes <= 0 {
		return fmt.Errorf("invalid GC threshold %d", bytes)
	}
	lib.XJS_SetGCThreshold(r.tls, r.rt, lib.Tsize_t(bytes))
	return nil
}

// MemoryUsage reads JS_ComputeMemoryUsage into a TLS-allocated struct.
func (r *Runtime) MemoryUsage() (core.MemoryUsage, error) {
	size := int(unsafe.Sizeof(lib.TJSMemoryUsage{}))
	p := r.tls.Alloc(size)
	defer r.tls.Free(size)

	lib.XJS_ComputeMemoryUsage(r.tls, r.rt, p)
	u := *(*lib.TJSMemoryUsage)(unsafe.Pointer(p))

	limit := int64(u.Fmalloc_limit)
	if limit < 0 {
		limit = -1 // unlimited
	}
	return core.MemoryUsage{
		MallocLimit:        limit,
		MallocSize:         int64(u.Fmalloc_size),
		MallocCount:        int64(u.Fmalloc_count),
		MemoryUsedSize:     int64(u.Fmemory_used_size),
		MemoryUsedCount:    int64(u.Fmemory_used_count),
		AtomCount:          int64(u.Fatom_count),
		AtomSize:           int64(u.Fatom_size),
		StrCount:           int64(u.Fstr_count),
		StrSize:            int64(u.Fstr_size),
		ObjCount:           int64(u.Fobj_count),
		ObjSize:            int64(u.Fobj_size),
		PropCount:          int64(u.Fprop_count),
		PropSize:           int64(u.Fprop_size),
		ShapeCount:         int64(u.Fshape_count),
		ShapeSize:          int64(u.Fshape_size),
		JSFuncCount:        int64(u.Fjs_func_count),
		JSFuncSize:         int64(u.Fjs_func_size),
		JSFuncCodeSize:     int64(u.Fjs_func_code_size),
		JSFuncPc2lineCount: int64(u.Fjs_func_pc2line_count),
		JSFuncPc2lineSize:  int64(u.Fjs_func_pc2line_size),
		CFuncCount:         int64(u.Fc_func_count),
		ArrayCount:         int64(u.Farray_count),
		FastArrayCount:     int64(u.Ffast_array_count),
		FastArrayElements:  int64(u.Ffast_array_elements),
		BinaryObjectCount:  int64(u.Fbinary_object_count),
		BinaryObjectSize:   int64(u.Fbinary_object_size),
	}, nil
}

func (r *Runtime) RunGC() {
	lib.XJS_RunGC(r.tls, r.rt)
}

// Interrupt aborts the running script. Safe from any goroutine.
func (r *Runtime) Interrupt() {
	r.vm.Interrupt()
}

// Close releases the context and the runtime. Recorded rejections are
// freed first; the runtime refuses to free live objects.
func (r *Runtime) Close() {
	r.ResetRejections()
	trackers.Delete(r.ctx)
	r.vm.Close()
}

// BinaryMode returns "ab": QuickJS uses plain ArrayBuffers for binary transfer.
func (r *Runtime) BinaryMode() string { return "ab" }

// WriteBinaryToJS stores a copy of data as an ArrayBuffer global
// (JS_NewArrayBufferCopy, a single memcpy).
func (r *Runtime) WriteBinaryToJS(globalName string, data []byte) error {
	if len(data) == 0 {
		return r.Eval(fmt.Sprintf("globalThis[%q] = new ArrayBuffer(0);", globalName))
	}
	bufPtr := uintptr(unsafe.Pointer(&data[0]))
	jsVal := lib.XJS_NewArrayBufferCopy(r.tls, r.ctx, bufPtr, lib.Tsize_t(len(data)))
	return r.setGlobalValue(globalName, jsVal)
}

// ReadBinaryFromJS copies the ArrayBuffer stored at globalName out of the
// engine (JS_GetArrayBuffer) and deletes the global.
func (r *Runtime) ReadBinaryFromJS(globalName string) ([]byte, error) {
	defer func() { _ = r.Eval(fmt.Sprintf("delete globalThis[%q];", globalName)) }()

	cName, err := libc.CString(globalName)
	if err != nil {
		return nil, fmt.Errorf("allocating property name: %w", err)
	}
	glob := lib.XJS_GetGlobalObject(r.tls, r.ctx)
	jsVal := lib.XJS_GetPropertyStr(r.tls, r.ctx, glob, cName)
	lib.XFreeValue(r.tls, r.ctx, glob)
	libc.Xfree(r.tls, cName)
	defer lib.XFreeValue(r.tls, r.ctx, jsVal)

	sizeLen := int(unsafe.Sizeof(lib.Tsize_t(0)))
	sizePtr := r.tls.Alloc(sizeLen)
	defer r.tls.Free(sizeLen)

	dataPtr := lib.XJS_GetArrayBuffer(r.tls, r.ctx, sizePtr, jsVal)
	size := *(*lib.Tsize_t)(unsafe.Pointer(sizePtr))
	if dataPtr == 0 {
		// JS_GetArrayBuffer leaves a TypeError pending on failure.
		lib.XFreeValue(r.tls, r.ctx, lib.XJS_GetException(r.tls, r.ctx))
		return nil, fmt.Errorf("global %q is not an ArrayBuffer", globalName)
	}
	if size == 0 {
		return []byte{}, nil
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(dataPtr)), size))
	return out, nil
}

// extractInternals caches the VM's unexported context and runtime
// pointers.
//
// VM struct layout (modernc.org/quickjs@v0.17.1):
//
//	type VM struct {
//	    cContext uintptr
//	    ...
//	    runtime  *runtime
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
func (r *Runtime) extractInternals() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic extracting VM internals: %v", p)
		}
	}()

	vmVal := reflect.ValueOf(r.vm).Elem()
	vmPtr := unsafe.Pointer(r.vm)

	// cContext is the first field of VM.
	r.ctx = *(*uintptr)(vmPtr)
	if r.ctx == 0 {
		return fmt.Errorf("JSContext is nil")
	}

	rtField := vmVal.FieldByName("runtime")
	if !rtField.IsValid() || rtField.IsNil() {
		return fmt.Errorf("quickjs.VM missing 'runtime' field")
	}
	rtVal := reflect.NewAt(rtField.Type().Elem(), unsafe.Pointer(rtField.Pointer())).Elem()

	cRuntime := rtVal.FieldByName("cRuntime")
	if !cRuntime.IsValid() {
		return fmt.Errorf("runtime missing 'cRuntime' field")
	}
	r.rt = uintptr(cRuntime.Uint())
	if r.rt == 0 {
		return fmt.Errorf("JSRuntime is nil")
	}

	tlsField := rtVal.FieldByName("tls")
	if !tlsField.IsValid() || tlsField.IsNil() {
		return fmt.Errorf("runtime missing 'tls' field")
	}
	r.tls = (*libc.TLS)(unsafe.Pointer(tlsField.Pointer()))
	return nil
}
