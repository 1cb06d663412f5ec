// Package jsbridge embeds a JavaScript engine in a Go program. A Bridge
// owns one engine instance and exposes Go functions and objects to the
// scripts it runs, converting values in both directions. Async Go
// functions appear to scripts as promises; the bridge drives the engine's
// job queue until every promise it handed out has settled.
//
// The default build runs QuickJS. Building with the v8 tag runs V8.
package jsbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/binding"
	"github.com/cryguy/jsbridge/internal/codec"
	"github.com/cryguy/jsbridge/internal/convert"
	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/eventloop"
	"github.com/cryguy/jsbridge/internal/jserror"
	"github.com/cryguy/jsbridge/internal/logging"
	"github.com/cryguy/jsbridge/internal/metrics"
	"github.com/cryguy/jsbridge/internal/module"
)

var errBusy = errors.New("bridge busy")

// Bridge hosts one JavaScript engine. Its methods are safe for concurrent
// use; engine access is serialized.
type Bridge struct {
	id     string
	cfg    core.Config
	rt     core.JSRuntime
	logger *zap.Logger

	// evalMu serializes every call into the engine.
	evalMu sync.Mutex
	// evalCtx is the context of the evaluation holding evalMu.
	evalCtx context.Context

	// intrMu orders Interrupt against releasing the runtime.
	intrMu   sync.Mutex
	released bool

	closed   atomic.Bool
	closedCh chan struct{}

	// lifetime parents every async job context.
	lifetime context.Context
	cancel   context.CancelFunc

	table      *binding.Table
	loop       *eventloop.EventLoop
	modules    module.Queue
	converters *convert.Registry
	errs       *jserror.Registry
	metrics    *metrics.Metrics

	enc     *codec.Encoder // results and completions, may stash buffers
	hostEnc *codec.Encoder // inside host callbacks, never stashes
	dec     *codec.Decoder
	hostDec *codec.Decoder

	stashSeq atomic.Int64
}

// New creates a bridge with its own engine instance. If any step fails,
// everything created so far is released.
func New(opts ...Option) (*Bridge, error) {
	o := options{cfg: core.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
		if o.cfgSet {
			logger = logging.NewOrNop(o.cfg.Logging)
		}
	}

	b := &Bridge{
		id:         uuid.NewString(),
		cfg:        o.cfg,
		closedCh:   make(chan struct{}),
		table:      binding.NewTable(),
		loop:       eventloop.New(),
		converters: convert.NewRegistry(),
		errs:       jserror.NewRegistry(),
	}
	b.logger = logger.With(zap.String("bridge", b.id))
	b.lifetime, b.cancel = context.WithCancel(context.Background())

	if err := b.converters.Register(o.converters...); err != nil {
		b.cancel()
		return nil, fmt.Errorf("registering converters: %w", err)
	}

	rt, err := newRuntime(o.cfg)
	if err != nil {
		b.cancel()
		return nil, fmt.Errorf("creating %s runtime: %w", engineName, err)
	}
	b.rt = rt
	b.setupCodec()

	if err := b.install(); err != nil {
		b.cancel()
		rt.Close()
		return nil, err
	}

	reg := o.registerer
	if reg == nil && o.cfg.Metrics.Enabled {
		reg = prometheus.DefaultRegisterer
	}
	if reg != nil {
		m, err := metrics.New(reg, o.cfg.Metrics.Namespace, b.id, b.scrapeMemory)
		if err != nil {
			b.cancel()
			rt.Close()
			return nil, err
		}
		b.metrics = m
	}

	b.logger.Debug("bridge created", zap.String("engine", rt.Engine()))
	return b, nil
}

func (b *Bridge) setupCodec() {
	b.hostEnc = &codec.Encoder{Converters: b.converters, Errors: b.errs}
	b.enc = &codec.Encoder{Converters: b.converters, Errors: b.errs}
	b.dec = &codec.Decoder{Errors: b.errs}
	b.hostDec = &codec.Decoder{Errors: b.errs}

	if bt, ok := b.rt.(core.BinaryTransferer); ok && b.cfg.BinaryThreshold > 0 {
		b.enc.StashThreshold = b.cfg.BinaryThreshold
		b.enc.Stash = func(data []byte) (string, error) {
			name := fmt.Sprintf("__tmp_bin_go_%d", b.stashSeq.Add(1))
			if err := bt.WriteBinaryToJS(name, data); err != nil {
				return "", err
			}
			return name, nil
		}
		b.dec.Fetch = bt.ReadBinaryFromJS
	}
}

type glueScript struct {
	name string
	src  string
}

// install registers the host functions and evaluates the glue scripts.
func (b *Bridge) install() error {
	hostFuncs := []struct {
		name string
		fn   any
	}{
		{binding.HostGet, b.hostGet},
		{binding.HostSet, b.hostSet},
		{binding.HostInvoke, b.hostInvoke},
		{binding.HostInvokeAsync, b.hostInvokeAsync},
	}
	for _, hf := range hostFuncs {
		if err := b.rt.RegisterFunc(hf.name, hf.fn); err != nil {
			return fmt.Errorf("registering %s: %w", hf.name, err)
		}
	}

	glue := []glueScript{
		{"codec", codec.GlueJS},
		{"eventloop", eventloop.GlueJS},
	}
	if _, ok := b.rt.(core.RejectionTracker); !ok {
		glue = append(glue, glueScript{"tracking", eventloop.TrackingJS})
	}
	glue = append(glue,
		glueScript{"binding", binding.GlueJS},
		glueScript{"module", module.GlueJS},
		glueScript{"runner", runnerJS},
	)
	for _, g := range glue {
		if err := b.rt.Eval(g.src); err != nil {
			return fmt.Errorf("installing %s glue: %w", g.name, err)
		}
	}

	if b.enc.Stash != nil {
		mode := "ab"
		if bt, ok := b.rt.(core.BinaryTransferer); ok {
			mode = bt.BinaryMode()
		}
		setup := fmt.Sprintf("__bridge.binaryMode = %q; __bridge.binaryThreshold = %d;", mode, b.cfg.BinaryThreshold)
		if err := b.rt.Eval(setup); err != nil {
			return fmt.Errorf("configuring binary transfer: %w", err)
		}
	}
	return nil
}

// IsClosed reports whether Close has been called or the engine was
// discarded after an interrupt.
func (b *Bridge) IsClosed() bool {
	return b.closed.Load()
}

// Close cancels in-flight async calls, waits for a running evaluation to
// stop and releases the engine. It is safe to call more than once.
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.closedCh)
	b.interrupt()
	b.cancelJobs()
	b.cancel()

	b.evalMu.Lock()
	defer b.evalMu.Unlock()
	b.release()
	return nil
}

// closeLocked closes the bridge from inside an evaluation, after the
// engine was interrupted.
func (b *Bridge) closeLocked() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.closedCh)
		b.cancelJobs()
		b.cancel()
	}
	b.release()
}

// release frees the engine. evalMu must be held.
func (b *Bridge) release() {
	b.intrMu.Lock()
	if b.released {
		b.intrMu.Unlock()
		return
	}
	b.released = true
	b.intrMu.Unlock()

	b.cancelJobs()
	b.table.Clear()
	b.modules.Clear()
	b.errs.Reset()
	b.metrics.Unregister()
	b.rt.Close()
	b.logger.Debug("bridge closed")
}

// interrupt aborts running script unless the engine is already released.
func (b *Bridge) interrupt() {
	b.intrMu.Lock()
	defer b.intrMu.Unlock()
	if !b.released {
		b.rt.Interrupt()
	}
}

// lock takes evalMu for an engine call, failing on a closed bridge.
func (b *Bridge) lock() error {
	b.evalMu.Lock()
	if b.closed.Load() {
		b.evalMu.Unlock()
		return core.ErrClosed
	}
	return nil
}

// SetMemoryLimit caps the engine heap in bytes. Zero removes the cap.
func (b *Bridge) SetMemoryLimit(bytes int64) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.evalMu.Unlock()
	return b.rt.SetMemoryLimit(bytes)
}

// SetMaxStackSize caps the stack the engine may use, in bytes.
func (b *Bridge) SetMaxStackSize(bytes int64) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.evalMu.Unlock()
	return b.rt.SetMaxStackSize(bytes)
}

// SetGCThreshold sets the allocation volume that triggers a collection.
// Only QuickJS supports it.
func (b *Bridge) SetGCThreshold(bytes int64) error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.evalMu.Unlock()
	return b.rt.SetGCThreshold(bytes)
}

// MemoryUsage returns the engine's allocator counters.
func (b *Bridge) MemoryUsage() (MemoryUsage, error) {
	if err := b.lock(); err != nil {
		return MemoryUsage{}, err
	}
	defer b.evalMu.Unlock()
	return b.rt.MemoryUsage()
}

// scrapeMemory reads memory counters for metrics without waiting behind a
// running evaluation.
func (b *Bridge) scrapeMemory() (MemoryUsage, error) {
	if !b.evalMu.TryLock() {
		return MemoryUsage{}, errBusy
	}
	defer b.evalMu.Unlock()
	if b.closed.Load() {
		return MemoryUsage{}, core.ErrClosed
	}
	return b.rt.MemoryUsage()
}

// GC forces a garbage collection.
func (b *Bridge) GC() error {
	if err := b.lock(); err != nil {
		return err
	}
	defer b.evalMu.Unlock()
	b.rt.RunGC()
	return nil
}
