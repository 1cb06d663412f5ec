package module

import (
	"errors"
	"strings"
	"testing"

	"github.com/cryguy/jsbridge/internal/jserror"
)

func TestCompileScript_Plain(t *testing.T) {
	a, err := CompileScript("1 + 2", "main.js")
	if err != nil {
		t.Fatalf("CompileScript: %v", err)
	}
	if a.Async {
		t.Error("plain script marked async")
	}
	if a.Kind != KindScript || a.Name != "main.js" {
		t.Errorf("got kind %v name %q", a.Kind, a.Name)
	}
	if !strings.HasPrefix(a.Code, "1 + 2") {
		t.Errorf("code = %q, want source kept", a.Code)
	}
}

func TestCompileScript_TopLevelAwait(t *testing.T) {
	src := "const a = await Promise.resolve(1);\na + 1"
	a, err := CompileScript(src, "tla.js")
	if err != nil {
		t.Fatalf("CompileScript: %v", err)
	}
	if !a.Async {
		t.Fatal("top-level await script not marked async")
	}
	if a.Code != src {
		t.Errorf("code = %q, want the source unchanged", a.Code)
	}

	code, async := a.Runnable()
	if !async {
		t.Error("Runnable: not async")
	}
	if !strings.HasPrefix(code, "(async function() {\n") {
		t.Errorf("code not wrapped: %q", code)
	}
	if !strings.Contains(code, "return (a + 1);") {
		t.Errorf("last expression not returned: %q", code)
	}
	if !strings.HasSuffix(code, "//# sourceURL=tla.js") {
		t.Errorf("code does not name its file: %q", code)
	}
}

func TestWrapTopLevelAwait_Parenthesized(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"(await later(1))", "return ((await later(1)));"},
		{"await x;\n(f)(1)", "return ((f)(1));"},
		{"await x;\n(a) + (b);", "return ((a) + (b));;"},
		{"await x;\n( ( y ) )\n// done", "return (( ( y ) ));"},
	}
	for _, tt := range tests {
		got := wrapTopLevelAwait(tt.src, "t.js")
		if !strings.Contains(got, tt.want) {
			t.Errorf("wrapTopLevelAwait(%q) = %q, want it to contain %q", tt.src, got, tt.want)
		}
	}
}

func TestCompileScript_AwaitInsideFunctionIsNotTopLevel(t *testing.T) {
	a, err := CompileScript("async function f() { await 1 }\nf()", "f.js")
	if err != nil {
		t.Fatalf("CompileScript: %v", err)
	}
	if a.Async {
		t.Error("await inside a function treated as top-level")
	}
}

func TestCompileScript_SyntaxError(t *testing.T) {
	_, err := CompileScript("let = ;", "bad.js")
	if err == nil {
		t.Fatal("expected syntax error")
	}
	if !errors.Is(err, jserror.ErrSyntax) {
		t.Errorf("err = %v, want SyntaxError", err)
	}
	if !strings.Contains(err.Error(), "bad.js:1") {
		t.Errorf("err = %q, want location", err.Error())
	}
}

func TestLastExpression(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"await x;\nfoo(1)", "foo(1)"},
		{"await x; let y = 2", ""},
		{"await x\n\"str\"", `"str"`},
		{"await x;\n(await y)", "(await y)"},
		{"await x;\n(a, b)", "(a, b)"},
	}
	for _, tt := range tests {
		got := ""
		if r := lastExpression(tt.src, "t.js"); r != nil {
			got = tt.src[r[0]:r[1]]
		}
		if strings.TrimSuffix(got, ";") != tt.want {
			t.Errorf("lastExpression(%q) = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestCompileModule_BundlesImports(t *testing.T) {
	a, err := CompileModule("import { greet } from 'hello';\nexport const msg = greet('x');", "app")
	if err != nil {
		t.Fatalf("CompileModule: %v", err)
	}
	if a.Kind != KindModule || !a.Async || a.Name != "app" {
		t.Errorf("got %+v", a)
	}
	for _, want := range []string{
		`globalThis.__bridge.modules["hello"]`,
		`could not load module 'hello'`,
		`globalThis.__bridge.modules["app"]`,
	} {
		if !strings.Contains(a.Code, want) {
			t.Errorf("bundle missing %q:\n%s", want, a.Code)
		}
	}
}

func TestCompileModule_SyntaxError(t *testing.T) {
	_, err := CompileModule("export const = 1;", "broken")
	if !errors.Is(err, jserror.ErrSyntax) {
		t.Errorf("err = %v, want SyntaxError", err)
	}
}

func TestArtifact_RoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		in := &Artifact{Kind: KindModule, Name: "lib", Async: true, Code: strings.Repeat("export const a = 1;\n", 50)}
		data, err := in.Encode(compress)
		if err != nil {
			t.Fatalf("Encode(%v): %v", compress, err)
		}
		out, err := DecodeArtifact(data)
		if err != nil {
			t.Fatalf("DecodeArtifact(%v): %v", compress, err)
		}
		if *out != *in {
			t.Errorf("compress=%v: got %+v, want %+v", compress, out, in)
		}
	}
}

func TestArtifact_CompressionShrinks(t *testing.T) {
	a := &Artifact{Kind: KindScript, Code: strings.Repeat("var x = 1;\n", 500)}
	plain, _ := a.Encode(false)
	packed, _ := a.Encode(true)
	if len(packed) >= len(plain) {
		t.Errorf("compressed %d bytes, plain %d", len(packed), len(plain))
	}
}

func TestDecodeArtifact_Malformed(t *testing.T) {
	good, err := (&Artifact{Kind: KindScript, Name: "s", Code: "1"}).Encode(false)
	if err != nil {
		t.Fatal(err)
	}
	corrupt := append([]byte(nil), good...)
	corrupt[len(corrupt)-1] ^= 0xff

	cases := map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("not bytecode at all"),
		"truncated": good[:8],
		"checksum":  corrupt,
		"version":   append([]byte{'J', 'S', 'B', 'A', 9}, good[5:]...),
		"kind":      append([]byte{'J', 'S', 'B', 'A', 1, 0, 7}, good[7:]...),
	}
	for name, data := range cases {
		if _, err := DecodeArtifact(data); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: err = %v, want ErrMalformed", name, err)
		}
	}
}

func TestQueue_DoneKeepsLaterEntries(t *testing.T) {
	var q Queue
	q.Add(Entry{Name: "a"})
	q.Add(Entry{Name: "b"})
	pending := q.Pending()
	q.Add(Entry{Name: "c"})
	q.Done(len(pending))
	if got := q.Pending(); len(got) != 1 || got[0].Name != "c" {
		t.Errorf("after Done = %+v, want [c]", got)
	}
	q.Clear()
	if q.Len() != 0 {
		t.Errorf("Len = %d after Clear", q.Len())
	}
}
