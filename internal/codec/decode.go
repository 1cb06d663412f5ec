package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"unsafe"

	"github.com/cryguy/jsbridge/internal/jserror"
)

// Decoder reads wire values produced by the engine glue.
//
// Engine integers and BigInts that fit decode to int64, larger BigInts to
// *big.Int and every other number to float64. Plain
// objects decode to map[string]any, arrays to []any, Sets to *Set and Maps
// to *Map. Engine errors decode to *jserror.Error.
type Decoder struct {
	// Errors resolves host errors handed back by the engine. May be nil.
	Errors *jserror.Registry

	// Fetch reads a byte buffer that the engine parked in a global
	// instead of inlining it.
	Fetch func(name string) ([]byte, error)
}

// Decode parses a single wire value.
func (d *Decoder) Decode(data []byte) (any, error) {
	raw, err := parse(data)
	if err != nil {
		return nil, err
	}
	return d.value(raw)
}

// Decode is a convenience for a Decoder without a registry or fetcher.
func Decode(data []byte) (any, error) {
	return (&Decoder{}).Decode(data)
}

// Envelope is a call result: either a value or an engine exception.
type Envelope struct {
	OK bool            `json:"ok"`
	V  json.RawMessage `json:"v,omitempty"`
	E  json.RawMessage `json:"e,omitempty"`
}

// Result decodes an envelope. A failed envelope is returned as the error.
func (d *Decoder) Result(data []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("codec: malformed result envelope: %w", err)
	}
	if !env.OK {
		return nil, d.Error(env.E)
	}
	if len(env.V) == 0 {
		return nil, nil
	}
	return d.Decode(env.V)
}

// Error decodes a wire error. Malformed input still yields an error that
// describes the problem.
func (d *Decoder) Error(data []byte) error {
	raw, err := parse(data)
	if err != nil {
		return err
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		s := fmt.Sprint(raw)
		return jserror.FromEngine(jserror.Fields{Raw: &s}, d.Errors)
	}
	return d.errorValue(obj)
}

func parse(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("codec: malformed wire value: %w", err)
	}
	return raw, nil
}

func (d *Decoder) value(raw any) (any, error) {
	switch x := raw.(type) {
	case nil, bool, string:
		return x, nil
	case json.Number:
		return number(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			v, err := d.value(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		return d.tagged(x)
	}
	return nil, fmt.Errorf("codec: unexpected wire value %T", raw)
}

func number(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("codec: bad number %q: %w", n, err)
	}
	return f, nil
}

func (d *Decoder) tagged(obj map[string]any) (any, error) {
	tag, _ := obj["t"].(string)
	switch tag {
	case "f":
		return float(obj["v"])
	case "big":
		s, _ := obj["v"].(string)
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("codec: bad bigint %q", s)
		}
		if n.IsInt64() {
			return n.Int64(), nil
		}
		return n, nil
	case "u8", "i8":
		data, err := d.buffer(obj)
		if err != nil {
			return nil, err
		}
		if tag == "i8" {
			return unsafe.Slice((*int8)(unsafe.Pointer(unsafe.SliceData(data))), len(data)), nil
		}
		return data, nil
	case "set":
		items, err := d.items(obj["v"])
		if err != nil {
			return nil, err
		}
		// The engine already keeps members unique.
		return &Set{values: items}, nil
	case "map":
		pairs, err := d.pairs(obj["v"])
		if err != nil {
			return nil, err
		}
		m := &Map{entries: make([]Entry, 0, len(pairs))}
		for _, p := range pairs {
			key, err := d.value(p[0])
			if err != nil {
				return nil, err
			}
			val, err := d.value(p[1])
			if err != nil {
				return nil, err
			}
			m.entries = append(m.entries, Entry{Key: key, Value: val})
		}
		return m, nil
	case "obj":
		pairs, err := d.pairs(obj["v"])
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(pairs))
		for _, p := range pairs {
			name, ok := p[0].(string)
			if !ok {
				return nil, fmt.Errorf("codec: object key %v is not a string", p[0])
			}
			val, err := d.value(p[1])
			if err != nil {
				return nil, err
			}
			out[name] = val
		}
		return out, nil
	case "err":
		return d.errorValue(obj), nil
	case "promise":
		state, _ := obj["state"].(string)
		return PromiseState(state), nil
	}
	return nil, fmt.Errorf("codec: unknown wire tag %q", tag)
}

func float(v any) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Float64()
	case string:
		switch x {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		case "-0":
			return math.Copysign(0, -1), nil
		}
	}
	return 0, fmt.Errorf("codec: bad float %v", v)
}

func (d *Decoder) buffer(obj map[string]any) ([]byte, error) {
	if ref, ok := obj["ref"].(string); ok {
		if d.Fetch == nil {
			return nil, fmt.Errorf("codec: buffer %s was transferred but no fetcher is set", ref)
		}
		return d.Fetch(ref)
	}
	s, _ := obj["v"].(string)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("codec: bad buffer payload: %w", err)
	}
	return data, nil
}

func (d *Decoder) items(v any) ([]any, error) {
	list, ok := v.([]any)
	if !ok && v != nil {
		return nil, fmt.Errorf("codec: expected list, found %T", v)
	}
	out := make([]any, len(list))
	for i, item := range list {
		val, err := d.value(item)
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}

func (d *Decoder) pairs(v any) ([][2]any, error) {
	list, ok := v.([]any)
	if !ok && v != nil {
		return nil, fmt.Errorf("codec: expected pair list, found %T", v)
	}
	out := make([][2]any, len(list))
	for i, item := range list {
		p, ok := item.([]any)
		if !ok || len(p) != 2 {
			return nil, fmt.Errorf("codec: malformed pair %v", item)
		}
		out[i] = [2]any{p[0], p[1]}
	}
	return out, nil
}

func (d *Decoder) errorValue(obj map[string]any) *jserror.Error {
	f := jserror.Fields{Stack: obj["stack"]}
	if raw, ok := obj["raw"].(string); ok {
		f.Raw = &raw
	}
	f.Name, _ = obj["name"].(string)
	f.Message, _ = obj["message"].(string)
	if n, ok := obj["host"].(json.Number); ok {
		f.HostID, _ = n.Int64()
	}
	return jserror.FromEngine(f, d.Errors)
}
