// Package codec converts values between Go and the JSON wire form exchanged
// with the engine-side glue.
//
// Wire values are JSON. Booleans, strings, null and safe integers are
// written as-is and arrays as JSON arrays. Everything else is a tagged
// object {"t": tag, ...}:
//
//	f       float; v is a number or "NaN", "Infinity", "-Infinity", "-0"
//	big     BigInt; v is the decimal string
//	u8, i8  byte buffer; v is base64, or ref names a transferred global
//	set     Set; v is the member list
//	map     Map; v is a list of [key, value] pairs
//	obj     plain object; v is a list of [name, value] pairs
//	err     error; name, message, stack, and raw for thrown non-errors
//	promise promise observed as a value; state is its settlement
package codec

import (
	"cmp"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"math"
	"math/big"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
	"unsafe"

	"github.com/cryguy/jsbridge/internal/convert"
	"github.com/cryguy/jsbridge/internal/jserror"
)

const maxDepth = 512

var (
	// ErrUnsupported is wrapped when a host value has no engine mapping and
	// no registered converter.
	ErrUnsupported = errors.New("unsupported type")

	// ErrCircular is wrapped when a container is reachable from itself.
	ErrCircular = errors.New("circular reference")
)

// Encoder writes host values in wire form.
type Encoder struct {
	// Converters handles structs and pointers to structs. May be nil.
	Converters *convert.Registry

	// Errors records host errors so the engine can hand them back intact.
	// May be nil.
	Errors *jserror.Registry

	// Stash, when set, receives byte buffers of at least StashThreshold
	// bytes and returns the engine global that now holds them.
	Stash          func(data []byte) (string, error)
	StashThreshold int
}

// Encode returns the wire form of v.
func (e *Encoder) Encode(v any) ([]byte, error) {
	st := &encodeState{enc: e, seen: make(map[identity]struct{})}
	if err := st.encode(v, 0); err != nil {
		return nil, err
	}
	return st.buf, nil
}

// Encode is a convenience for an Encoder without converters or stashing.
func Encode(v any) ([]byte, error) {
	return (&Encoder{}).Encode(v)
}

type identity struct {
	ptr  uintptr
	kind reflect.Kind
}

type encodeState struct {
	enc  *Encoder
	buf  []byte
	seen map[identity]struct{}
}

func (st *encodeState) enter(id identity, what string) error {
	if _, ok := st.seen[id]; ok {
		return fmt.Errorf("%w detected in %s", ErrCircular, what)
	}
	st.seen[id] = struct{}{}
	return nil
}

func (st *encodeState) leave(id identity) {
	delete(st.seen, id)
}

func (st *encodeState) encode(v any, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("codec: value nested deeper than %d levels", maxDepth)
	}
	switch x := v.(type) {
	case nil:
		st.buf = append(st.buf, "null"...)
	case bool:
		st.buf = strconv.AppendBool(st.buf, x)
	case string:
		st.appendString(x)
	case int:
		st.buf = strconv.AppendInt(st.buf, int64(x), 10)
	case int64:
		st.buf = strconv.AppendInt(st.buf, x, 10)
	case int32:
		st.buf = strconv.AppendInt(st.buf, int64(x), 10)
	case float64:
		st.float(x)
	case float32:
		st.float(float64(x))
	case []byte:
		return st.bytes("u8", x)
	case []int8:
		return st.bytes("i8", unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(x))), len(x)))
	case *big.Int:
		if x == nil {
			st.buf = append(st.buf, "null"...)
			return nil
		}
		st.buf = append(st.buf, `{"t":"big","v":"`...)
		st.buf = x.Append(st.buf, 10)
		st.buf = append(st.buf, `"}`...)
	case *Set:
		if x == nil {
			st.buf = append(st.buf, "null"...)
			return nil
		}
		return st.set(x, depth)
	case *Map:
		if x == nil {
			st.buf = append(st.buf, "null"...)
			return nil
		}
		return st.jsMap(x, depth)
	case PromiseState:
		st.appendString(x.String())
	case error:
		if rv := reflect.ValueOf(x); rv.Kind() == reflect.Pointer && rv.IsNil() {
			st.buf = append(st.buf, "null"...)
			return nil
		}
		st.error(x)
	default:
		return st.reflectValue(reflect.ValueOf(v), depth)
	}
	return nil
}

func (st *encodeState) reflectValue(rv reflect.Value, depth int) error {
	switch rv.Kind() {
	case reflect.Bool:
		st.buf = strconv.AppendBool(st.buf, rv.Bool())
	case reflect.String:
		st.appendString(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		st.buf = strconv.AppendInt(st.buf, rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		st.buf = strconv.AppendUint(st.buf, rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		st.float(rv.Float())
	case reflect.Interface:
		if rv.IsNil() {
			st.buf = append(st.buf, "null"...)
			return nil
		}
		return st.encode(rv.Elem().Interface(), depth+1)
	case reflect.Pointer:
		if rv.IsNil() {
			st.buf = append(st.buf, "null"...)
			return nil
		}
		if ok, err := st.converted(rv, depth); ok || err != nil {
			return err
		}
		id := identity{rv.Pointer(), reflect.Pointer}
		if err := st.enter(id, "pointer"); err != nil {
			return err
		}
		defer st.leave(id)
		return st.encode(rv.Elem().Interface(), depth+1)
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return st.bytes("u8", rv.Bytes())
		}
		if rv.Len() > 0 {
			id := identity{rv.Pointer(), reflect.Slice}
			if err := st.enter(id, "list"); err != nil {
				return err
			}
			defer st.leave(id)
		}
		return st.list(rv, depth)
	case reflect.Array:
		return st.list(rv, depth)
	case reflect.Map:
		if rv.Len() > 0 {
			id := identity{rv.Pointer(), reflect.Map}
			if err := st.enter(id, "map"); err != nil {
				return err
			}
			defer st.leave(id)
		}
		return st.goMap(rv, depth)
	case reflect.Func:
		if rv.IsNil() {
			st.buf = append(st.buf, "null"...)
			return nil
		}
		if isSeq(rv.Type()) {
			return st.seq(rv, depth)
		}
		return fmt.Errorf("%w: %s", ErrUnsupported, rv.Type())
	case reflect.Struct:
		if ok, err := st.converted(rv, depth); ok || err != nil {
			return err
		}
		return fmt.Errorf("%w: %s (register a type converter)", ErrUnsupported, rv.Type())
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, rv.Type())
	}
	return nil
}

// converted encodes rv through a registered converter to a plain object.
func (st *encodeState) converted(rv reflect.Value, depth int) (bool, error) {
	reg := st.enc.Converters
	if reg == nil || !reg.Has(rv.Type(), convert.ObjectType) {
		return false, nil
	}
	out, err := reg.Convert(rv.Interface(), rv.Type(), convert.ObjectType)
	if err != nil {
		return true, err
	}
	return true, st.encode(out, depth+1)
}

func (st *encodeState) list(rv reflect.Value, depth int) error {
	st.buf = append(st.buf, '[')
	for i := range rv.Len() {
		if i > 0 {
			st.buf = append(st.buf, ',')
		}
		if err := st.encode(rv.Index(i).Interface(), depth+1); err != nil {
			return err
		}
	}
	st.buf = append(st.buf, ']')
	return nil
}

// isSeq reports whether t has the shape of iter.Seq[V].
func isSeq(t reflect.Type) bool {
	if t.NumIn() != 1 || t.NumOut() != 0 {
		return false
	}
	y := t.In(0)
	return y.Kind() == reflect.Func && y.NumIn() == 1 && y.NumOut() == 1 &&
		y.Out(0).Kind() == reflect.Bool
}

func (st *encodeState) seq(rv reflect.Value, depth int) error {
	var (
		items []any
		next  iter.Seq[any]
	)
	if s, ok := rv.Interface().(iter.Seq[any]); ok {
		next = s
	} else {
		yieldType := rv.Type().In(0)
		next = func(yield func(any) bool) {
			fn := reflect.MakeFunc(yieldType, func(args []reflect.Value) []reflect.Value {
				return []reflect.Value{reflect.ValueOf(yield(args[0].Interface()))}
			})
			rv.Call([]reflect.Value{fn})
		}
	}
	for v := range next {
		items = append(items, v)
	}
	return st.list(reflect.ValueOf(items), depth)
}

func (st *encodeState) goMap(rv reflect.Value, depth int) error {
	keys := rv.MapKeys()
	sortKeys(keys)

	kt := rv.Type().Key()
	switch {
	case kt.Kind() == reflect.String:
		st.buf = append(st.buf, `{"t":"obj","v":[`...)
		for i, k := range keys {
			if i > 0 {
				st.buf = append(st.buf, ',')
			}
			st.buf = append(st.buf, '[')
			st.appendString(k.String())
			st.buf = append(st.buf, ',')
			if err := st.encode(rv.MapIndex(k).Interface(), depth+1); err != nil {
				return err
			}
			st.buf = append(st.buf, ']')
		}
		st.buf = append(st.buf, "]}"...)
	case kt.Kind() == reflect.Interface:
		for _, k := range keys {
			if k.IsNil() || k.Elem().Kind() != reflect.String {
				return fmt.Errorf("%w: map key %s is not a string", ErrUnsupported, describeKey(k))
			}
		}
		st.buf = append(st.buf, `{"t":"obj","v":[`...)
		for i, k := range keys {
			if i > 0 {
				st.buf = append(st.buf, ',')
			}
			st.buf = append(st.buf, '[')
			st.appendString(k.Elem().String())
			st.buf = append(st.buf, ',')
			if err := st.encode(rv.MapIndex(k).Interface(), depth+1); err != nil {
				return err
			}
			st.buf = append(st.buf, ']')
		}
		st.buf = append(st.buf, "]}"...)
	default:
		st.buf = append(st.buf, `{"t":"map","v":[`...)
		for i, k := range keys {
			if i > 0 {
				st.buf = append(st.buf, ',')
			}
			st.buf = append(st.buf, '[')
			if err := st.encode(k.Interface(), depth+1); err != nil {
				return err
			}
			st.buf = append(st.buf, ',')
			if err := st.encode(rv.MapIndex(k).Interface(), depth+1); err != nil {
				return err
			}
			st.buf = append(st.buf, ']')
		}
		st.buf = append(st.buf, "]}"...)
	}
	return nil
}

func describeKey(k reflect.Value) string {
	if k.IsNil() {
		return "<nil>"
	}
	return fmt.Sprintf("%v (%s)", k.Elem().Interface(), k.Elem().Type())
}

// sortKeys orders map keys so Go's randomised iteration does not leak into
// engine-visible ordering.
func sortKeys(keys []reflect.Value) {
	slices.SortStableFunc(keys, func(a, b reflect.Value) int {
		if a.Kind() == reflect.Interface {
			if a.IsNil() || b.IsNil() {
				return 0
			}
			a, b = a.Elem(), b.Elem()
		}
		if a.Kind() != b.Kind() {
			return strings.Compare(a.Kind().String(), b.Kind().String())
		}
		switch a.Kind() {
		case reflect.String:
			return strings.Compare(a.String(), b.String())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return cmp.Compare(a.Int(), b.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return cmp.Compare(a.Uint(), b.Uint())
		case reflect.Float32, reflect.Float64:
			return cmp.Compare(a.Float(), b.Float())
		case reflect.Bool:
			return cmp.Compare(boolRank(a.Bool()), boolRank(b.Bool()))
		}
		return 0
	})
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (st *encodeState) set(s *Set, depth int) error {
	id := identity{uintptr(unsafe.Pointer(s)), reflect.Pointer}
	if err := st.enter(id, "set"); err != nil {
		return err
	}
	defer st.leave(id)

	st.buf = append(st.buf, `{"t":"set","v":[`...)
	for i, v := range s.values {
		if i > 0 {
			st.buf = append(st.buf, ',')
		}
		if err := st.encode(v, depth+1); err != nil {
			return err
		}
	}
	st.buf = append(st.buf, "]}"...)
	return nil
}

func (st *encodeState) jsMap(m *Map, depth int) error {
	id := identity{uintptr(unsafe.Pointer(m)), reflect.Pointer}
	if err := st.enter(id, "map"); err != nil {
		return err
	}
	defer st.leave(id)

	st.buf = append(st.buf, `{"t":"map","v":[`...)
	for i, e := range m.entries {
		if i > 0 {
			st.buf = append(st.buf, ',')
		}
		st.buf = append(st.buf, '[')
		if err := st.encode(e.Key, depth+1); err != nil {
			return err
		}
		st.buf = append(st.buf, ',')
		if err := st.encode(e.Value, depth+1); err != nil {
			return err
		}
		st.buf = append(st.buf, ']')
	}
	st.buf = append(st.buf, "]}"...)
	return nil
}

func (st *encodeState) float(f float64) {
	switch {
	case math.IsNaN(f):
		st.buf = append(st.buf, `{"t":"f","v":"NaN"}`...)
	case math.IsInf(f, 1):
		st.buf = append(st.buf, `{"t":"f","v":"Infinity"}`...)
	case math.IsInf(f, -1):
		st.buf = append(st.buf, `{"t":"f","v":"-Infinity"}`...)
	case f == 0 && math.Signbit(f):
		st.buf = append(st.buf, `{"t":"f","v":"-0"}`...)
	default:
		st.buf = append(st.buf, `{"t":"f","v":`...)
		st.buf = strconv.AppendFloat(st.buf, f, 'g', -1, 64)
		st.buf = append(st.buf, '}')
	}
}

func (st *encodeState) bytes(tag string, data []byte) error {
	if tag == "u8" && st.enc.Stash != nil && st.enc.StashThreshold > 0 && len(data) >= st.enc.StashThreshold {
		name, err := st.enc.Stash(data)
		if err != nil {
			return fmt.Errorf("codec: transferring %d bytes: %w", len(data), err)
		}
		st.buf = append(st.buf, `{"t":"u8","ref":`...)
		st.appendString(name)
		st.buf = append(st.buf, '}')
		return nil
	}
	st.buf = append(st.buf, `{"t":"`...)
	st.buf = append(st.buf, tag...)
	st.buf = append(st.buf, `","v":"`...)
	st.buf = base64.StdEncoding.AppendEncode(st.buf, data)
	st.buf = append(st.buf, `"}`...)
	return nil
}

func (st *encodeState) error(err error) {
	d := jserror.ToEngine(err, st.enc.Errors)
	st.buf = append(st.buf, `{"t":"err","name":`...)
	st.appendString(d.Name)
	st.buf = append(st.buf, `,"message":`...)
	st.appendString(d.Message)
	st.buf = append(st.buf, `,"stack":[`...)
	for i, line := range d.Stack {
		if i > 0 {
			st.buf = append(st.buf, ',')
		}
		st.appendString(line)
	}
	st.buf = append(st.buf, ']')
	if d.HostID != 0 {
		st.buf = append(st.buf, `,"host":`...)
		st.buf = strconv.AppendInt(st.buf, d.HostID, 10)
	}
	st.buf = append(st.buf, '}')
}

func (st *encodeState) appendString(s string) {
	st.buf = AppendQuoted(st.buf, s)
}

const hexDigits = "0123456789abcdef"

// AppendQuoted appends s as a JSON string literal that is also a valid
// JavaScript string literal. Invalid UTF-8 is replaced with U+FFFD.
func AppendQuoted(buf []byte, s string) []byte {
	buf = append(buf, '"')
	start := 0
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			if c >= 0x20 && c != '"' && c != '\\' {
				i++
				continue
			}
			buf = append(buf, s[start:i]...)
			switch c {
			case '"', '\\':
				buf = append(buf, '\\', c)
			case '\n':
				buf = append(buf, '\\', 'n')
			case '\r':
				buf = append(buf, '\\', 'r')
			case '\t':
				buf = append(buf, '\\', 't')
			default:
				buf = append(buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xF])
			}
			i++
			start = i
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf = append(buf, s[start:i]...)
			buf = append(buf, `\ufffd`...)
			i += size
			start = i
			continue
		}
		i += size
	}
	buf = append(buf, s[start:]...)
	return append(buf, '"')
}

// EncodeError returns the wire form of err alone.
func (e *Encoder) EncodeError(err error) []byte {
	st := &encodeState{enc: e}
	st.error(err)
	return st.buf
}
