package codec

import (
	"errors"
	"fmt"
	"math"
	"reflect"
)

// ErrTypeMismatch is wrapped when a value cannot be cast to the requested
// type at all.
var ErrTypeMismatch = errors.New("type mismatch")

// ErrOutOfRange is wrapped when a numeric value does not fit the requested
// type.
var ErrOutOfRange = errors.New("value out of range")

// Number is the set of numeric types Cast accepts.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Cast converts a decoded engine number to T. Integer narrowing and
// float64 to float32 are range checked; float to integer truncates and
// saturates at T's bounds; integer to float widens.
func Cast[T Number](v any) (T, error) {
	out, err := CastTo(v, reflect.TypeFor[T]())
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}

// CastTo converts v to t. Values already of type t are returned unchanged;
// numbers are converted under the rules of Cast; nil becomes t's zero value
// for pointer, slice, map and interface types. Anything else is a type
// mismatch.
func CastTo(v any, t reflect.Type) (any, error) {
	if v == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface, reflect.Func:
			return reflect.Zero(t).Interface(), nil
		}
		return nil, mismatch(t, v)
	}
	rv := reflect.ValueOf(v)
	if rv.Type() == t {
		return v, nil
	}
	if t.Kind() == reflect.Interface && rv.Type().Implements(t) {
		return v, nil
	}

	switch src := rv.Kind(); {
	case isInt(src):
		return castInt(v, rv.Int(), t)
	case isUint(src):
		u := rv.Uint()
		if u > math.MaxInt64 {
			if isUint(t.Kind()) && fitsUint(u, t) {
				return reflect.ValueOf(u).Convert(t).Interface(), nil
			}
			if isFloat(t.Kind()) {
				return reflect.ValueOf(float64(u)).Convert(t).Interface(), nil
			}
			return nil, outOfRange(v, t)
		}
		return castInt(v, int64(u), t)
	case isFloat(src):
		return castFloat(v, rv.Float(), t)
	case src == reflect.String && t.Kind() == reflect.String:
		return rv.Convert(t).Interface(), nil
	case src == reflect.Bool && t.Kind() == reflect.Bool:
		return rv.Convert(t).Interface(), nil
	}
	return nil, mismatch(t, v)
}

func castInt(orig any, n int64, t reflect.Type) (any, error) {
	switch k := t.Kind(); {
	case isInt(k):
		bits := t.Bits()
		lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
		if n < lo || n > hi {
			return nil, outOfRange(orig, t)
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil
	case isUint(k):
		if n < 0 || !fitsUint(uint64(n), t) {
			return nil, outOfRange(orig, t)
		}
		return reflect.ValueOf(uint64(n)).Convert(t).Interface(), nil
	case isFloat(k):
		return reflect.ValueOf(float64(n)).Convert(t).Interface(), nil
	}
	return nil, mismatch(t, orig)
}

func castFloat(orig any, f float64, t reflect.Type) (any, error) {
	switch k := t.Kind(); {
	case k == reflect.Float64:
		return reflect.ValueOf(f).Convert(t).Interface(), nil
	case k == reflect.Float32:
		abs := math.Abs(f)
		if f != 0 && !math.IsNaN(f) && !math.IsInf(f, 0) &&
			(abs > math.MaxFloat32 || abs < math.SmallestNonzeroFloat32) {
			return nil, outOfRange(orig, t)
		}
		return reflect.ValueOf(float32(f)).Convert(t).Interface(), nil
	case isInt(k):
		bits := t.Bits()
		lo, hi := int64(-1)<<(bits-1), int64(1)<<(bits-1)-1
		return reflect.ValueOf(saturate(f, float64(lo), float64(hi), lo, hi)).Convert(t).Interface(), nil
	case isUint(k):
		hi := uint64(math.MaxUint64) >> (64 - t.Bits())
		var u uint64
		switch {
		case math.IsNaN(f) || f <= 0:
			u = 0
		case f >= float64(hi):
			u = hi
		default:
			u = uint64(f)
		}
		return reflect.ValueOf(u).Convert(t).Interface(), nil
	}
	return nil, mismatch(t, orig)
}

func saturate(f, flo, fhi float64, lo, hi int64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f <= flo:
		return lo
	case f >= fhi:
		return hi
	}
	return int64(f)
}

func fitsUint(u uint64, t reflect.Type) bool {
	return u <= uint64(math.MaxUint64)>>(64-t.Bits())
}

func isInt(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUint(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func outOfRange(v any, t reflect.Type) error {
	return fmt.Errorf("Cannot cast %T(%v) to %s: %w.", v, v, t, ErrOutOfRange)
}

func mismatch(t reflect.Type, v any) error {
	return fmt.Errorf("%w: expected %s, found %s", errTypeMismatchTitle, t, typeOf(v))
}

// errTypeMismatchTitle keeps the capitalised message while matching
// ErrTypeMismatch with errors.Is.
var errTypeMismatchTitle = &titled{ErrTypeMismatch, "Type mismatch"}

type titled struct {
	err  error
	text string
}

func (t *titled) Error() string { return t.text }
func (t *titled) Unwrap() error { return t.err }

func typeOf(v any) string {
	if v == nil {
		return "null"
	}
	return reflect.TypeOf(v).String()
}
