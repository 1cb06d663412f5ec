package convert

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

type fetchParams struct {
	URL    string
	Method string
}

func fetchParamsConverter() Converter {
	return Object(
		func(m map[string]any) (fetchParams, error) {
			url, _ := m["url"].(string)
			method, _ := m["method"].(string)
			if url == "" {
				return fetchParams{}, fmt.Errorf("url is required")
			}
			return fetchParams{URL: url, Method: method}, nil
		},
		func(p fetchParams) (map[string]any, error) {
			return map[string]any{"url": p.URL, "method": p.Method}, nil
		},
	)
}

func TestRegistry_ExactConversion(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(fetchParamsConverter()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	out, err := r.Convert(map[string]any{"url": "https://example.com", "method": "GET"},
		ObjectType, reflect.TypeFor[fetchParams]())
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	p, ok := out.(fetchParams)
	if !ok {
		t.Fatalf("result type = %T, want fetchParams", out)
	}
	if p.URL != "https://example.com" || p.Method != "GET" {
		t.Errorf("got %+v", p)
	}
}

func TestRegistry_InverseFallback(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(fetchParamsConverter()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	out, err := r.Convert(fetchParams{URL: "u", Method: "POST"}, reflect.TypeFor[fetchParams](), ObjectType)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("result type = %T, want map[string]any", out)
	}
	if m["url"] != "u" || m["method"] != "POST" {
		t.Errorf("got %v", m)
	}
}

func TestRegistry_ForwardOnlyHasNoInverse(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Func(func(s string) (int, error) { return len(s), nil }, nil))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := r.Convert(3, reflect.TypeFor[int](), reflect.TypeFor[string]()); !errors.Is(err, ErrNoConverter) {
		t.Errorf("err = %v, want ErrNoConverter", err)
	}
	out, err := r.Convert("four", reflect.TypeFor[string](), reflect.TypeFor[int]())
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if out != 4 {
		t.Errorf("got %v, want 4", out)
	}
}

func TestRegistry_MissingPairNamesTypes(t *testing.T) {
	r := NewRegistry()
	_, err := r.Convert(1, reflect.TypeFor[int](), reflect.TypeFor[fetchParams]())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "(int, convert.fetchParams)") {
		t.Errorf("err = %q, want both type names", err)
	}
}

func TestRegistry_ConverterErrorPropagates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(fetchParamsConverter()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := r.Convert(map[string]any{}, ObjectType, reflect.TypeFor[fetchParams]())
	if err == nil || err.Error() != "url is required" {
		t.Errorf("err = %v, want 'url is required'", err)
	}
}

func TestRegistry_RegisterNil(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); err == nil {
		t.Error("expected error registering nil converter")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}
