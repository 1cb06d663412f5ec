package jsbridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cryguy/jsbridge/internal/binding"
)

// Host functions called by the binding glue. They run on the evaluating
// goroutine with evalMu held and must not call back into the runtime, so
// they use hostEnc and hostDec. Each returns a result envelope; the glue
// throws the error side in the engine.

func (b *Bridge) hostGet(id int, name string) (string, error) {
	v, err := b.table.Get(binding.Handle(id), name)
	if err != nil {
		return b.hostFailure(err), nil
	}
	return b.hostResult(v), nil
}

func (b *Bridge) hostSet(id int, name, valueWire string) (string, error) {
	v, err := b.hostDec.Decode([]byte(valueWire))
	if err != nil {
		return b.hostFailure(err), nil
	}
	if err := b.table.Set(binding.Handle(id), name, v); err != nil {
		return b.hostFailure(err), nil
	}
	return okEnvelope, nil
}

func (b *Bridge) hostInvoke(id int, name, argsWire string) (string, error) {
	target, args, err := b.resolveCall(id, name, argsWire)
	if err != nil {
		return b.hostFailure(err), nil
	}
	v, err := target.Call(b.lifetime, args)
	if err != nil {
		return b.hostFailure(err), nil
	}
	return b.hostResult(v), nil
}

// hostInvokeAsync starts the call on its own goroutine. The engine side
// already holds a pending promise under jobID.
func (b *Bridge) hostInvokeAsync(id int, name string, jobID int, argsWire string) (string, error) {
	target, args, err := b.resolveCall(id, name, argsWire)
	if err != nil {
		return b.hostFailure(err), nil
	}
	b.metrics.JobStarted()
	b.logger.Debug("async job started", zap.Int("job", jobID), zap.String("function", target.Name))
	b.loop.Go(b.lifetime, int64(jobID), func(ctx context.Context) (any, error) {
		return target.Call(ctx, args)
	})
	return okEnvelope, nil
}

func (b *Bridge) resolveCall(id int, name, argsWire string) (binding.Target, []any, error) {
	target, err := b.table.Resolve(binding.Handle(id), name)
	if err != nil {
		return binding.Target{}, nil, err
	}
	raw, err := b.hostDec.Decode([]byte(argsWire))
	if err != nil {
		return binding.Target{}, nil, fmt.Errorf("decoding arguments of %s: %w", target.Name, err)
	}
	args, ok := raw.([]any)
	if !ok && raw != nil {
		return binding.Target{}, nil, fmt.Errorf("decoding arguments of %s: expected a list, found %T", target.Name, raw)
	}
	return target, args, nil
}

const okEnvelope = `{"ok":true}`

func (b *Bridge) hostResult(v any) string {
	wire, err := b.hostEnc.Encode(v)
	if err != nil {
		return b.hostFailure(err)
	}
	return `{"ok":true,"v":` + string(wire) + `}`
}

func (b *Bridge) hostFailure(err error) string {
	return `{"ok":false,"e":` + string(b.hostEnc.EncodeError(err)) + `}`
}
