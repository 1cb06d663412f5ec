package module

import (
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	esbuild "github.com/evanw/esbuild/pkg/api"
)

const asyncPrefix = "async function __bridge_main() {\n"

// usesTopLevelAwait reports whether src, read as a global script, awaits
// at the top level. esbuild refuses top-level await in CommonJS output,
// which makes that refusal a precise detector. Other errors are returned
// as syntax errors.
func usesTopLevelAwait(src, filename string) (bool, error) {
	result := esbuild.Transform(src, esbuild.TransformOptions{
		Loader:     esbuild.LoaderJS,
		Format:     esbuild.FormatCommonJS,
		Sourcefile: filename,
		Target:     esbuild.ESNext,
		LogLevel:   esbuild.LogLevelSilent,
	})
	if len(result.Errors) == 0 {
		return false, nil
	}
	tla := false
	var other []esbuild.Message
	for _, msg := range result.Errors {
		if strings.Contains(msg.Text, "Top-level await") {
			tla = true
			continue
		}
		other = append(other, msg)
	}
	if len(other) > 0 {
		return false, syntaxError(other)
	}
	return tla, nil
}

// wrapTopLevelAwait turns a script with top-level await into an async
// function invocation. When the last statement is an expression, it is
// returned so the awaited value becomes the completion value. Declarations
// inside the wrapper are local to it.
func wrapTopLevelAwait(src, filename string) string {
	body := src
	if last := lastExpression(src, filename); last != nil {
		start, end := last[0], last[1]
		body = src[:start] + "return (" + src[start:end] + ");" + src[end:]
	}
	return "(async function() {\n" + body + "\n})()"
}

// lastExpression returns the byte range of the final top-level expression
// statement of src, parsed as the body of an async function. The range
// includes parentheses enclosing the start or end of the expression.
func lastExpression(src, filename string) []int {
	prog, err := parser.ParseFile(nil, filename, asyncPrefix+src+"\n}", 0, parser.WithDisableSourceMaps)
	if err != nil || len(prog.Body) != 1 {
		return nil
	}
	decl, ok := prog.Body[0].(*ast.FunctionDeclaration)
	if !ok || decl.Function == nil || decl.Function.Body == nil {
		return nil
	}
	list := decl.Function.Body.List
	if len(list) == 0 {
		return nil
	}
	stmt, ok := list[len(list)-1].(*ast.ExpressionStatement)
	if !ok {
		return nil
	}
	// Idx values are 1-based offsets into the wrapped source.
	start := int(stmt.Idx0()) - 1 - len(asyncPrefix)
	end := int(stmt.Idx1()) - 1 - len(asyncPrefix)
	if start < 0 || end < start || end > len(src) {
		return nil
	}

	// The parser drops grouping parentheses from the node. Being the last
	// statement, everything between it and the previous one, and every
	// closing parenthesis after it, belongs to it.
	for i := start - 1; i >= 0; i-- {
		if c := src[i]; c == '(' {
			start = i
		} else if !isSpace(c) {
			break
		}
	}
	for i := end; i < len(src); i++ {
		if c := src[i]; c == ')' {
			end = i + 1
		} else if !isSpace(c) {
			break
		}
	}
	return []int{start, end}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
