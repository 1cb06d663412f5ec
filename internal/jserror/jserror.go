// Package jserror translates exceptions between the JavaScript engine and
// Go errors.
package jserror

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
)

// Sentinel kinds. An engine exception whose name matches the table wraps
// the corresponding sentinel, so errors.Is(err, ErrType) works on a
// TypeError thrown by a script.
var (
	ErrError            = errors.New("Error")
	ErrType             = errors.New("TypeError")
	ErrRange            = errors.New("RangeError")
	ErrSyntax           = errors.New("SyntaxError")
	ErrReference        = errors.New("ReferenceError")
	ErrEval             = errors.New("EvalError")
	ErrURI              = errors.New("URIError")
	ErrInternal         = errors.New("InternalError")
	ErrAggregate        = errors.New("AggregateError")
	ErrIO               = errors.New("IOError")
	ErrIndexOutOfBounds = errors.New("IndexOutOfBoundsError")
	ErrArithmetic       = errors.New("ArithmeticError")
	ErrClassCast        = errors.New("ClassCastError")
	ErrNotImplemented   = errors.New("NotImplementedError")

	// ErrBridge is the kind of every exception without a recognised name,
	// including raw thrown values.
	ErrBridge = errors.New("BridgeError")
)

// named lists the sentinels in lookup order, generic kinds last.
var named = []struct {
	name string
	kind error
}{
	{"TypeError", ErrType},
	{"RangeError", ErrRange},
	{"SyntaxError", ErrSyntax},
	{"ReferenceError", ErrReference},
	{"EvalError", ErrEval},
	{"URIError", ErrURI},
	{"InternalError", ErrInternal},
	{"AggregateError", ErrAggregate},
	{"IOError", ErrIO},
	{"IndexOutOfBoundsError", ErrIndexOutOfBounds},
	{"ArithmeticError", ErrArithmetic},
	{"ClassCastError", ErrClassCast},
	{"NotImplementedError", ErrNotImplemented},
	{"Error", ErrError},
	{"BridgeError", ErrBridge},
}

var kinds = func() map[string]error {
	m := make(map[string]error, len(named))
	for _, n := range named {
		m[n.name] = n.kind
	}
	return m
}()

// KindOf returns the sentinel for an engine error name, or ErrBridge.
func KindOf(name string) error {
	if k, ok := kinds[name]; ok {
		return k
	}
	return ErrBridge
}

// Error is an exception that crossed the boundary from the engine.
type Error struct {
	Name    string
	Message string
	Stack   []string

	// Kind is the sentinel derived from Name.
	Kind error

	// Host is the original Go error when the exception started as a host
	// error thrown into the engine and came back out unchanged.
	Host error

	// Raw is set when the script threw a value that is not an error
	// object; Message then holds its string form.
	Raw bool
}

func (e *Error) Error() string {
	if e.Raw || e.Name == "" {
		return e.Message
	}
	var b strings.Builder
	b.WriteString(e.Name)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	for _, line := range e.Stack {
		b.WriteByte('\n')
		b.WriteString(line)
	}
	return b.String()
}

// Unwrap exposes the kind sentinel and, when present, the host error.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Host != nil {
		errs = append(errs, e.Host)
	}
	return errs
}

// New returns an engine error of the given name.
func New(name, message string) *Error {
	return &Error{Name: name, Message: message, Kind: KindOf(name)}
}

// Newf is New with a formatted message.
func Newf(name, format string, args ...any) *Error {
	return New(name, fmt.Sprintf(format, args...))
}

// Fields is the decoded form of an engine exception as produced by the
// bridge's JavaScript glue.
type Fields struct {
	Name    string
	Message string
	// Stack is either a newline separated string or a list of frames.
	Stack any
	// Raw carries the string form of a thrown non-error value.
	Raw    *string
	HostID int64
}

// FromEngine converts an engine exception to a Go error. reg resolves host
// error ids and may be nil.
func FromEngine(f Fields, reg *Registry) *Error {
	if f.Raw != nil {
		return &Error{Message: *f.Raw, Kind: ErrBridge, Raw: true}
	}
	e := &Error{
		Name:    f.Name,
		Message: f.Message,
		Stack:   stackLines(f.Stack),
		Kind:    KindOf(f.Name),
	}
	if f.HostID != 0 && reg != nil {
		if host, ok := reg.Lookup(f.HostID); ok {
			e.Host = host
			if je, ok := host.(*Error); ok {
				return je
			}
		}
	}
	return e
}

func stackLines(stack any) []string {
	switch s := stack.(type) {
	case string:
		var out []string
		for _, line := range strings.Split(s, "\n") {
			line = strings.TrimRight(line, " \t\r")
			if line == "" {
				continue
			}
			out = append(out, line)
		}
		return out
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, v := range s {
			out = append(out, fmt.Sprint(v))
		}
		return out
	}
	return nil
}

// Descriptor is the engine-bound form of a Go error.
type Descriptor struct {
	Name    string
	Message string
	Stack   []string
	HostID  int64
}

// ToEngine describes err for rethrowing inside the engine. An *Error keeps
// its name and frames; any other error is named after its dynamic type and
// gets the current goroutine's stack. When reg is non-nil the error is
// recorded so it can be recovered if the script rethrows it.
func ToEngine(err error, reg *Registry) Descriptor {
	var d Descriptor
	var je *Error
	switch {
	case errors.As(err, &je) && je.Name != "":
		d = Descriptor{Name: je.Name, Message: je.Message, Stack: je.Stack}
	case errors.As(err, &je):
		d = Descriptor{Name: "Error", Message: je.Message}
	default:
		d = Descriptor{Name: nameOf(err), Message: err.Error(), Stack: callers(3)}
	}
	if reg != nil {
		d.HostID = reg.Add(err)
	}
	return d
}

// nameOf maps well-known sentinels back to their engine names and falls
// back to the qualified type name.
func nameOf(err error) string {
	for _, n := range named {
		if errors.Is(err, n.kind) {
			return n.name
		}
	}
	return TypeName(err)
}

// TypeName returns the package-qualified name of err's dynamic type.
func TypeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

func callers(skip int) []string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var out []string
	for {
		f, more := frames.Next()
		out = append(out, fmt.Sprintf("    at %s (%s:%d)", f.Function, f.File, f.Line))
		if !more {
			break
		}
	}
	return out
}
