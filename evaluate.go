package jsbridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/codec"
	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/eventloop"
	"github.com/cryguy/jsbridge/internal/jserror"
	"github.com/cryguy/jsbridge/internal/module"
)

const defaultFilename = "main.js"

// Evaluate runs code and returns its result converted to a Go value. A
// script evaluates to its completion value; a script using top-level await
// evaluates to the value of its last expression statement. A module
// evaluates to nil. Evaluate returns once every async host call started by
// the script has finished and the engine has no pending jobs.
//
// Cancelling ctx cancels in-flight async calls. If ctx ends while script
// code is running, the engine is interrupted and the bridge closes.
func (b *Bridge) Evaluate(ctx context.Context, code, filename string, asModule bool) (any, error) {
	start := time.Now()
	v, err := b.evaluate(ctx, code, filename, asModule)
	b.metrics.ObserveEvaluation(start, err)
	return v, err
}

func (b *Bridge) evaluate(ctx context.Context, code, filename string, asModule bool) (any, error) {
	if b.closed.Load() {
		return nil, core.ErrClosed
	}
	a, err := compile(code, filename, asModule)
	if err != nil {
		return nil, err
	}
	return b.run(ctx, a)
}

func compile(code, filename string, asModule bool) (*module.Artifact, error) {
	if filename == "" {
		filename = defaultFilename
	}
	if asModule {
		return module.CompileModule(code, filename)
	}
	return module.CompileScript(code, filename)
}

// Compile checks code and returns an artifact that Execute or
// AddModuleBytecode accept on any bridge. The artifact holds the checked
// source rather than engine bytecode, so it runs on either backend. A
// module artifact registers under filename.
func (b *Bridge) Compile(ctx context.Context, code, filename string, asModule bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, core.ErrClosed
	}
	a, err := compile(code, filename, asModule)
	if err != nil {
		return nil, err
	}
	return a.Encode(b.cfg.CompressArtifacts)
}

// Execute runs an artifact produced by Compile.
func (b *Bridge) Execute(ctx context.Context, bytecode []byte) (any, error) {
	start := time.Now()
	v, err := b.execute(ctx, bytecode)
	b.metrics.ObserveEvaluation(start, err)
	return v, err
}

func (b *Bridge) execute(ctx context.Context, bytecode []byte) (any, error) {
	if b.closed.Load() {
		return nil, core.ErrClosed
	}
	a, err := module.DecodeArtifact(bytecode)
	if err != nil {
		return nil, err
	}
	return b.run(ctx, a)
}

// AddModule compiles an ES module and queues it. Queued modules are loaded
// in order at the start of the next evaluation, where scripts can import
// them by name.
func (b *Bridge) AddModule(name, code string) error {
	if b.closed.Load() {
		return core.ErrClosed
	}
	a, err := module.CompileModule(code, name)
	if err != nil {
		return err
	}
	b.modules.Add(module.Entry{Name: name, Artifact: a})
	return nil
}

// AddModuleBytecode queues a compiled artifact. A module artifact
// registers under the name it was compiled with; a script artifact runs as
// a plain script and registers nothing.
func (b *Bridge) AddModuleBytecode(bytecode []byte) error {
	if b.closed.Load() {
		return core.ErrClosed
	}
	a, err := module.DecodeArtifact(bytecode)
	if err != nil {
		return err
	}
	name := ""
	if a.Kind == module.KindModule {
		name = a.Name
	}
	b.modules.Add(module.Entry{Name: name, Artifact: a})
	return nil
}

// run loads queued modules and then a, under evalMu.
func (b *Bridge) run(ctx context.Context, a *module.Artifact) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.lock(); err != nil {
		return nil, err
	}
	defer b.evalMu.Unlock()

	b.evalCtx = ctx
	defer func() { b.evalCtx = nil }()

	v, err := b.runLocked(ctx, a)
	if err == nil {
		return v, nil
	}
	if b.closed.Load() {
		// Close interrupted the evaluation and is waiting for evalMu.
		return nil, core.ErrClosed
	}
	if errors.Is(err, core.ErrInterrupted) {
		b.logger.Debug("engine interrupted, closing bridge", zap.Error(err))
		b.closeLocked()
	}
	return nil, err
}

func (b *Bridge) runLocked(ctx context.Context, a *module.Artifact) (any, error) {
	if tr, ok := b.rt.(core.RejectionTracker); ok {
		tr.ResetRejections()
	} else if err := b.rt.Eval("__bridge.resetTracking()"); err != nil {
		return nil, err
	}
	if err := b.loadModules(ctx); err != nil {
		return nil, err
	}
	v, err := b.runArtifact(ctx, a)
	if err != nil {
		return nil, err
	}
	if a.Kind == module.KindModule {
		return nil, nil
	}
	return v, nil
}

// loadModules evaluates queued modules in registration order. Each module
// leaves the queue once it has loaded; a failing module and those after it
// stay queued.
func (b *Bridge) loadModules(ctx context.Context) error {
	for _, e := range b.modules.Pending() {
		if _, err := b.runArtifact(ctx, e.Artifact); err != nil {
			return fmt.Errorf("loading module %q: %w", e.Artifact.Name, err)
		}
		b.modules.Done(1)
		b.logger.Debug("module loaded", zap.String("module", e.Name), zap.Stringer("kind", e.Artifact.Kind))
	}
	return nil
}

// runArtifact evaluates a, runs the event loop to completion and decodes
// the outcome.
func (b *Bridge) runArtifact(ctx context.Context, a *module.Artifact) (any, error) {
	if err := b.guard(ctx, func() error { return b.start(a) }); err != nil {
		return nil, err
	}

	if err := b.loop.Run(ctx, b, b.closedCh); err != nil {
		b.abandonJobs()
		if b.closed.Load() || errors.Is(err, core.ErrInterrupted) {
			return nil, err
		}
		// An exception thrown by the script itself came first.
		if wire, ferr := b.rt.EvalString("__bridge.failure()"); ferr == nil && wire != "" {
			_, _ = b.rt.EvalString("__bridge.result()")
			return nil, b.dec.Error([]byte(wire))
		}
		_, _ = b.rt.EvalString("__bridge.result()")
		return nil, err
	}

	out, err := b.rt.EvalString("__bridge.result()")
	if err != nil {
		return nil, err
	}
	return b.dec.Result([]byte(out))
}

// start evaluates a without running jobs. Scripts go through the engine's
// own async eval when it has one, so their declarations stay global.
func (b *Bridge) start(a *module.Artifact) error {
	if ae, ok := b.rt.(core.AsyncEvaluator); ok && a.Kind == module.KindScript {
		threw, err := ae.EvalAsync(a.Code, a.Name, evalResultGlobal)
		if err != nil {
			return err
		}
		return b.rt.Eval("__bridge.adopt(\"" + evalResultGlobal + "\", " + strconv.FormatBool(threw) + ")")
	}
	code, async := a.Runnable()
	return b.rt.Eval("__bridge.run(" + string(codec.AppendQuoted(nil, code)) + ", " + strconv.FormatBool(async) + ")")
}

// guard interrupts the engine if ctx ends while fn runs script code.
func (b *Bridge) guard(ctx context.Context, fn func() error) error {
	if ctx == nil {
		return fn()
	}
	stop := context.AfterFunc(ctx, b.interrupt)
	err := fn()
	if !stop() && err == nil {
		// The interrupt may land on the next engine call.
		err = fmt.Errorf("%w: %w", core.ErrInterrupted, ctx.Err())
	}
	return err
}

// abandonJobs cancels every in-flight async call and drops its pending
// promise from the engine.
func (b *Bridge) abandonJobs() {
	ids := b.cancelJobs()
	if len(ids) == 0 || b.closed.Load() {
		return
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	if err := b.rt.Eval("__bridge.forget([" + strings.Join(parts, ",") + "])"); err != nil {
		b.logger.Debug("forgetting cancelled jobs", zap.Error(err))
	}
	b.logger.Debug("async jobs cancelled", zap.Int("count", len(ids)))
}

var _ eventloop.Host = (*Bridge)(nil)

// Drain runs engine jobs. It is part of the event loop and runs under
// evalMu.
func (b *Bridge) Drain() error {
	return b.guard(b.evalCtx, func() error {
		_, err := b.rt.RunPendingJobs()
		if err == nil || errors.Is(err, core.ErrInterrupted) {
			return err
		}
		return jserror.New("InternalError", err.Error())
	})
}

// Settle resolves or rejects the promise of a finished async call.
func (b *Bridge) Settle(c eventloop.Completion) error {
	b.metrics.JobFinished(c.Err)
	b.logger.Debug("async job finished", zap.Int64("job", c.JobID), zap.Error(c.Err))

	ok := c.Err == nil
	var wire []byte
	if ok {
		var err error
		wire, err = b.enc.Encode(c.Value)
		if err != nil {
			ok = false
			wire = b.enc.EncodeError(err)
		}
	} else {
		wire = b.enc.EncodeError(c.Err)
	}
	return b.rt.Eval("__bridge.settle(" + strconv.FormatInt(c.JobID, 10) + ", " +
		strconv.FormatBool(ok) + ", " + string(wire) + ")")
}

// cancelJobs cancels every in-flight async call and counts each as
// finished.
func (b *Bridge) cancelJobs() []int64 {
	ids := b.loop.CancelAll()
	for range ids {
		b.metrics.JobFinished(context.Canceled)
	}
	return ids
}

// Unhandled reports the first promise rejection that nothing handled.
func (b *Bridge) Unhandled() error {
	wire, err := b.takeRejection()
	if err != nil {
		return err
	}
	if wire == "" {
		return nil
	}
	b.metrics.UnhandledRejection()
	uerr := b.dec.Error([]byte(wire))
	b.logger.Debug("unhandled promise rejection", zap.Error(uerr))
	return uerr
}

func (b *Bridge) takeRejection() (string, error) {
	tr, ok := b.rt.(core.RejectionTracker)
	if !ok {
		return b.rt.EvalString("__bridge.takeUnhandled()")
	}
	found, err := tr.TakeRejection(eventloop.RejectionGlobal)
	if err != nil || !found {
		return "", err
	}
	return b.rt.EvalString("__bridge.takeReason(\"" + eventloop.RejectionGlobal + "\")")
}
