// Package module compiles scripts and ES modules into runnable artifacts
// and keeps the queue of registered modules waiting to be loaded.
//
// Registered modules are bundled by esbuild into async functions that
// publish their namespace under __bridge.modules[name]. Imports inside any
// compiled code resolve to stubs reading that table, so an import of a
// name that was never loaded throws ReferenceError.
package module

import (
	"fmt"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/cryguy/jsbridge/internal/codec"
	"github.com/cryguy/jsbridge/internal/jserror"
)

// GlueJS creates the module namespace table.
const GlueJS = `Object.defineProperty(globalThis.__bridge, 'modules', { value: Object.create(null), writable: false });`

const (
	selfSpecifier   = "bridge:self"
	sourceNamespace = "bridge-source"
	moduleNamespace = "bridge-module"
)

// CompileScript checks a global script and records whether it awaits at
// the top level. The source is kept as written.
func CompileScript(src, filename string) (*Artifact, error) {
	tla, err := usesTopLevelAwait(src, filename)
	if err != nil {
		return nil, err
	}
	return &Artifact{Kind: KindScript, Name: filename, Async: tla, Code: src}, nil
}

// CompileModule bundles an ES module registered as name. Evaluating the
// artifact runs the module body and publishes its namespace.
func CompileModule(src, name string) (*Artifact, error) {
	entry := fmt.Sprintf(`import * as ns from %s;
var exp = {};
Object.defineProperty(exp, '__esModule', { value: true });
Object.keys(ns).forEach(function(k) {
	Object.defineProperty(exp, k, { get: function() { return ns[k]; }, enumerable: true });
});
globalThis.__bridge.modules[%s] = exp;
`, quote(selfSpecifier), quote(name))

	code, err := bundle(entry, src, name)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Kind:  KindModule,
		Name:  name,
		Async: true,
		Code:  "(async function() {\n\"use strict\";\n" + code + "\n})()" + sourceURL(name),
	}, nil
}

func bundle(entry, src, name string) (string, error) {
	result := esbuild.Build(esbuild.BuildOptions{
		Stdin: &esbuild.StdinOptions{
			Contents:   entry,
			Sourcefile: "<entry>",
			Loader:     esbuild.LoaderJS,
		},
		Bundle:      true,
		Write:       false,
		Format:      esbuild.FormatESModule,
		Platform:    esbuild.PlatformNeutral,
		Target:      esbuild.ESNext,
		TreeShaking: esbuild.TreeShakingFalse,
		LogLevel:    esbuild.LogLevelSilent,
		Plugins:     []esbuild.Plugin{hostModules(src, name)},
	})
	if len(result.Errors) > 0 {
		return "", syntaxError(result.Errors)
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("module: bundling %s produced no output", name)
	}
	return string(result.OutputFiles[0].Contents), nil
}

// hostModules serves the module source itself under bridge:self and turns
// every other import into a lookup in __bridge.modules.
func hostModules(src, name string) esbuild.Plugin {
	return esbuild.Plugin{
		Name: "bridge-modules",
		Setup: func(build esbuild.PluginBuild) {
			build.OnResolve(esbuild.OnResolveOptions{Filter: `.*`},
				func(args esbuild.OnResolveArgs) (esbuild.OnResolveResult, error) {
					if args.Path == selfSpecifier && args.Namespace != sourceNamespace {
						return esbuild.OnResolveResult{Path: name, Namespace: sourceNamespace}, nil
					}
					return esbuild.OnResolveResult{Path: args.Path, Namespace: moduleNamespace}, nil
				})
			build.OnLoad(esbuild.OnLoadOptions{Filter: `.*`, Namespace: sourceNamespace},
				func(args esbuild.OnLoadArgs) (esbuild.OnLoadResult, error) {
					contents := src
					return esbuild.OnLoadResult{Contents: &contents, Loader: esbuild.LoaderJS}, nil
				})
			build.OnLoad(esbuild.OnLoadOptions{Filter: `.*`, Namespace: moduleNamespace},
				func(args esbuild.OnLoadArgs) (esbuild.OnLoadResult, error) {
					stub := fmt.Sprintf(`var m = globalThis.__bridge.modules[%s];
if (m === undefined) throw new ReferenceError(%s);
module.exports = m;
`, quote(args.Path), quote("could not load module '"+args.Path+"'"))
					return esbuild.OnLoadResult{Contents: &stub, Loader: esbuild.LoaderJS}, nil
				})
		},
	}
}

func syntaxError(msgs []esbuild.Message) error {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(m.Text)
		if loc := m.Location; loc != nil {
			fmt.Fprintf(&b, " (%s:%d:%d)", loc.File, loc.Line, loc.Column)
		}
	}
	return jserror.New("SyntaxError", b.String())
}

func sourceURL(name string) string {
	if name == "" || strings.ContainsAny(name, "\n\r") {
		return ""
	}
	return "\n//# sourceURL=" + name
}

func quote(s string) string {
	return string(codec.AppendQuoted(nil, s))
}
