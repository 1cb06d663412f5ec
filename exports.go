package jsbridge

import (
	"github.com/cryguy/jsbridge/internal/binding"
	"github.com/cryguy/jsbridge/internal/codec"
	"github.com/cryguy/jsbridge/internal/convert"
	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/jserror"
	"github.com/cryguy/jsbridge/internal/module"
)

// Type aliases re-exporting internal types so callers can use
// jsbridge.ObjectBinding, jsbridge.Config, etc. without importing the
// internal packages directly.

type Config = core.Config
type LogConfig = core.LogConfig
type MetricsConfig = core.MetricsConfig
type MemoryUsage = core.MemoryUsage

type Handle = binding.Handle
type ObjectBinding = binding.ObjectBinding
type PropertyDescriptor = binding.PropertyDescriptor
type FunctionDescriptor = binding.FunctionDescriptor
type FunctionFunc = binding.FunctionFunc
type AsyncFunctionFunc = binding.AsyncFunctionFunc
type Object = binding.Object
type Property = binding.Property
type Function = binding.Function

type Converter = convert.Converter

type Set = codec.Set
type Map = codec.Map
type MapEntry = codec.Entry
type PromiseState = codec.PromiseState

// Error is an exception that crossed from the engine to Go.
type Error = jserror.Error

// GlobalThis parents bindings placed on the global object.
const GlobalThis = binding.GlobalThis

// Promise states reported for promises returned from scripts.
const (
	PromisePending   = codec.PromisePending
	PromiseFulfilled = codec.PromiseFulfilled
	PromiseRejected  = codec.PromiseRejected
)

// Errors re-exported from the internal packages.
var (
	ErrClosed      = core.ErrClosed
	ErrInterrupted = core.ErrInterrupted
	ErrUnsupported = core.ErrUnsupported

	ErrMalformedBytecode = module.ErrMalformed
	ErrNoConverter       = convert.ErrNoConverter
	ErrTypeMismatch      = codec.ErrTypeMismatch
	ErrOutOfRange        = codec.ErrOutOfRange
	ErrCircular          = codec.ErrCircular
	ErrUnsupportedType   = codec.ErrUnsupported

	ErrError            = jserror.ErrError
	ErrType             = jserror.ErrType
	ErrRange            = jserror.ErrRange
	ErrSyntax           = jserror.ErrSyntax
	ErrReference        = jserror.ErrReference
	ErrEval             = jserror.ErrEval
	ErrURI              = jserror.ErrURI
	ErrInternal         = jserror.ErrInternal
	ErrAggregate        = jserror.ErrAggregate
	ErrIO               = jserror.ErrIO
	ErrIndexOutOfBounds = jserror.ErrIndexOutOfBounds
	ErrArithmetic       = jserror.ErrArithmetic
	ErrClassCast        = jserror.ErrClassCast
	ErrNotImplemented   = jserror.ErrNotImplemented
	ErrBridge           = jserror.ErrBridge
)

// Functions re-exported from the internal packages.
var (
	LoadConfig    = core.LoadConfig
	DefaultConfig = core.DefaultConfig
	NewSet        = codec.NewSet
	NewMap        = codec.NewMap
	NewError      = jserror.New
)

// ConverterFunc builds a converter between S and T. toSource may be nil.
func ConverterFunc[S, T any](toTarget func(S) (T, error), toSource func(T) (S, error)) Converter {
	return convert.Func(toTarget, toSource)
}

// ObjectConverter builds a converter between engine plain objects and T.
func ObjectConverter[T any](fromObject func(map[string]any) (T, error), toObject func(T) (map[string]any, error)) Converter {
	return convert.Object(fromObject, toObject)
}

// Cast converts a decoded engine number to T, failing when it does not fit.
func Cast[T codec.Number](v any) (T, error) {
	return codec.Cast[T](v)
}
