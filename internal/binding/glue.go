package binding

import (
	"encoding/json"
	"fmt"

	"github.com/cryguy/jsbridge/internal/codec"
)

// Host function names the glue calls into. The bridge registers them on
// the runtime before installing GlueJS, which keeps them private to its
// closure and removes them from globalThis.
const (
	HostGet         = "__host_get"
	HostSet         = "__host_set"
	HostInvoke      = "__host_invoke"
	HostInvokeAsync = "__host_invoke_async"
)

// GlueJS defines __bridge.defineObject and __bridge.defineFunction. It
// expects the codec glue and the event loop glue to be installed.
const GlueJS = `
(function() {
	var B = globalThis.__bridge;
	B.objects = {};

	var hostGet = globalThis.` + HostGet + `;
	var hostSet = globalThis.` + HostSet + `;
	var hostInvoke = globalThis.` + HostInvoke + `;
	var hostInvokeAsync = globalThis.` + HostInvokeAsync + `;
	delete globalThis.` + HostGet + `;
	delete globalThis.` + HostSet + `;
	delete globalThis.` + HostInvoke + `;
	delete globalThis.` + HostInvokeAsync + `;

	function targetOf(parent) {
		if (parent === -1) return globalThis;
		var t = B.objects[parent];
		if (!t) throw new ReferenceError('binding parent ' + parent + ' not found');
		return t;
	}

	function attach(target, name, value) {
		Object.defineProperty(target, name, {
			value: value, writable: true, enumerable: true, configurable: true
		});
	}

	function syncFunction(id, name) {
		return function() {
			return B.unwrap(hostInvoke(id, name, B.encodeArgs(arguments)));
		};
	}

	function asyncFunction(id, name) {
		return function() {
			var args;
			try {
				args = B.encodeArgs(arguments);
			} catch (e) {
				return B.track(Promise.reject(e));
			}
			var jobId = ++B.jobSeq;
			var p = new Promise(function(resolve, reject) {
				B.pending[jobId] = { resolve: resolve, reject: reject };
			});
			B.track(p);
			var env = JSON.parse(hostInvokeAsync(id, name, jobId, args));
			if (!env.ok) {
				var entry = B.pending[jobId];
				delete B.pending[jobId];
				entry.reject(B.makeError(env.e));
			}
			return p;
		};
	}

	B.defineObject = function(parent, name, id, props, funcs) {
		var target = targetOf(parent);
		var obj = {};
		props.forEach(function(p) {
			var desc = {
				configurable: p.configurable,
				enumerable: p.enumerable,
				get: function() { return B.unwrap(hostGet(id, p.name)); }
			};
			if (p.writable) {
				desc.set = function(v) { B.unwrap(hostSet(id, p.name, B.encode(v, false))); };
			}
			Object.defineProperty(obj, p.name, desc);
		});
		funcs.forEach(function(f) {
			attach(obj, f.name, f.async ? asyncFunction(id, f.name) : syncFunction(id, f.name));
		});
		B.objects[id] = obj;
		attach(target, name, obj);
	};

	B.defineFunction = function(parent, name, id, async) {
		var target = targetOf(parent);
		var fnName = parent === -1 ? name : '';
		attach(target, name, async ? asyncFunction(id, fnName) : syncFunction(id, fnName));
	};

	B.clearBindings = function() {
		B.objects = {};
	};
})();
`

// DefineObjectJS returns the script that materialises an object binding
// in the engine.
func DefineObjectJS(parent Handle, name string, h Handle, props []PropertyDescriptor, funcs []FunctionDescriptor) (string, error) {
	if props == nil {
		props = []PropertyDescriptor{}
	}
	if funcs == nil {
		funcs = []FunctionDescriptor{}
	}
	p, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("binding: encoding properties of %s: %w", name, err)
	}
	f, err := json.Marshal(funcs)
	if err != nil {
		return "", fmt.Errorf("binding: encoding functions of %s: %w", name, err)
	}
	return fmt.Sprintf("__bridge.defineObject(%d, %s, %d, %s, %s)",
		parent, quote(name), h, p, f), nil
}

// DefineFunctionJS returns the script that materialises a standalone
// function binding in the engine.
func DefineFunctionJS(parent Handle, name string, h Handle, async bool) string {
	return fmt.Sprintf("__bridge.defineFunction(%d, %s, %d, %t)", parent, quote(name), h, async)
}

func quote(s string) string {
	return string(codec.AppendQuoted(nil, s))
}
