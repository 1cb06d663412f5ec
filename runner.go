package jsbridge

// evalResultGlobal receives the promise of an engine-level async eval.
const evalResultGlobal = "__bridge_eval"

// runnerJS evaluates compiled code and keeps its outcome for the bridge to
// collect once the event loop has settled. Code runs through indirect eval
// so exceptions, including thrown non-error values, are caught in the
// engine with their structure intact. adopt takes over the promise of a
// script the engine evaluated itself.
const runnerJS = `
(function() {
	var B = globalThis.__bridge;
	var current = null;

	function start() {
		current = { done: false, ok: false, value: undefined, error: undefined };
		return current;
	}

	function fail(st, e) {
		st.done = true;
		st.error = e;
	}

	function succeed(st, v) {
		st.done = true;
		st.ok = true;
		st.value = v;
		B.observe(v);
	}

	B.run = function(src, async) {
		var st = start();
		var v;
		try {
			v = (0, eval)(src);
		} catch (e) {
			fail(st, e);
			return;
		}
		if (async) {
			B.originalThen.call(v,
				function(x) { succeed(st, x); },
				function(e) { fail(st, e); });
			return;
		}
		succeed(st, v);
	};

	// adopt reads the global holding an async eval outcome. The promise
	// resolves to {value: completion}.
	B.adopt = function(name, threw) {
		var st = start();
		var v = globalThis[name];
		delete globalThis[name];
		if (threw) {
			fail(st, v);
			return;
		}
		B.originalThen.call(v,
			function(x) { succeed(st, x === null || x === undefined ? undefined : x.value); },
			function(e) { fail(st, e); });
	};

	// failure returns the wire error of a run that threw, or ''.
	B.failure = function() {
		if (current === null || !current.done || current.ok) return '';
		return JSON.stringify(B.describeThrow(current.error));
	};

	B.result = function() {
		var st = current;
		current = null;
		if (st === null) return '{"ok":true}';
		if (!st.done) return '{"ok":true,"v":{"t":"promise","state":"pending"}}';
		if (!st.ok) return '{"ok":false,"e":' + JSON.stringify(B.describeThrow(st.error)) + '}';
		try {
			return '{"ok":true,"v":' + B.encode(st.value, true) + '}';
		} catch (e) {
			return '{"ok":false,"e":' + JSON.stringify(B.describeThrow(e)) + '}';
		}
	};
})();
`
