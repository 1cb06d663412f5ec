package codec

// GlueJS installs globalThis.__bridge and the engine half of the wire
// codec: __bridge.encode/decode, error description and construction, and
// promise state probing. It must run before any other bridge glue.
const GlueJS = `
(function() {
	var B = globalThis.__bridge;
	if (!B) {
		B = {};
		Object.defineProperty(globalThis, '__bridge', {
			value: B, writable: false, enumerable: false, configurable: false
		});
	}

	var ALPHABET = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var LOOKUP = new Uint8Array(128);
	for (var i = 0; i < ALPHABET.length; i++) LOOKUP[ALPHABET.charCodeAt(i)] = i;

	function toBase64(u8) {
		var out = '', n = u8.length, i = 0;
		for (; i + 2 < n; i += 3) {
			var t = (u8[i] << 16) | (u8[i + 1] << 8) | u8[i + 2];
			out += ALPHABET[t >> 18] + ALPHABET[(t >> 12) & 63] + ALPHABET[(t >> 6) & 63] + ALPHABET[t & 63];
		}
		if (n - i === 1) {
			var a = u8[i] << 16;
			out += ALPHABET[a >> 18] + ALPHABET[(a >> 12) & 63] + '==';
		} else if (n - i === 2) {
			var b = (u8[i] << 16) | (u8[i + 1] << 8);
			out += ALPHABET[b >> 18] + ALPHABET[(b >> 12) & 63] + ALPHABET[(b >> 6) & 63] + '=';
		}
		return out;
	}

	function fromBase64(s) {
		var len = s.length;
		while (len > 0 && s.charCodeAt(len - 1) === 61) len--;
		var out = new Uint8Array((len * 3) >> 2), o = 0;
		for (var i = 0; i < len; i += 4) {
			var c0 = LOOKUP[s.charCodeAt(i)], c1 = LOOKUP[s.charCodeAt(i + 1)];
			var c2 = i + 2 < len ? LOOKUP[s.charCodeAt(i + 2)] : 0;
			var c3 = i + 3 < len ? LOOKUP[s.charCodeAt(i + 3)] : 0;
			var t = (c0 << 18) | (c1 << 12) | (c2 << 6) | c3;
			out[o++] = t >> 16;
			if (i + 2 < len) out[o++] = (t >> 8) & 255;
			if (i + 3 < len) out[o++] = t & 255;
		}
		return out;
	}

	B.toBase64 = toBase64;
	B.fromBase64 = fromBase64;

	// Settled promises seen by the bridge, promise -> 'fulfilled' | 'rejected'.
	B.states = new WeakMap();
	var thenOf = Promise.prototype.then;
	B.originalThen = thenOf;

	B.observe = function(v, depth) {
		depth = depth || 0;
		if (v === null || typeof v !== 'object' || depth > 64) return;
		if (v instanceof Promise) {
			if (!B.states.has(v)) {
				thenOf.call(v,
					function() { B.states.set(v, 'fulfilled'); },
					function() { B.states.set(v, 'rejected'); });
			}
			return;
		}
		if (Array.isArray(v)) {
			for (var i = 0; i < v.length; i++) B.observe(v[i], depth + 1);
		} else if (v instanceof Set) {
			v.forEach(function(x) { B.observe(x, depth + 1); });
		} else if (v instanceof Map) {
			v.forEach(function(x, k) { B.observe(k, depth + 1); B.observe(x, depth + 1); });
		} else if (Object.getPrototypeOf(v) === Object.prototype) {
			for (var k in v) {
				if (Object.prototype.hasOwnProperty.call(v, k)) B.observe(v[k], depth + 1);
			}
		}
	};

	B.binaryMode = 'ab';
	B.binarySeq = 0;
	B.binaryThreshold = 0;

	function encodeNumber(v) {
		if (v !== v) return { t: 'f', v: 'NaN' };
		if (v === Infinity) return { t: 'f', v: 'Infinity' };
		if (v === -Infinity) return { t: 'f', v: '-Infinity' };
		if (v === 0 && 1 / v < 0) return { t: 'f', v: '-0' };
		if (Number.isSafeInteger(v)) return v;
		return { t: 'f', v: v };
	}

	function encodeBinary(tag, u8, st) {
		if (st.stash && tag === 'u8' && B.binaryThreshold > 0 && u8.length >= B.binaryThreshold) {
			var name = '__tmp_bin_' + (++B.binarySeq);
			var buf = B.binaryMode === 'sab' ? new SharedArrayBuffer(u8.length) : new ArrayBuffer(u8.length);
			new Uint8Array(buf).set(u8);
			globalThis[name] = buf;
			return { t: 'u8', ref: name };
		}
		return { t: tag, v: toBase64(u8) };
	}

	B.describeError = function(e) {
		var stack = e.stack;
		if (typeof stack === 'string') {
			stack = stack.split('\n');
		} else if (!Array.isArray(stack)) {
			stack = [];
		}
		var out = { t: 'err', name: String(e.name), message: e.message === undefined ? '' : String(e.message), stack: stack.map(String) };
		if (e.__hostError) out.host = e.__hostError;
		return out;
	};

	B.describeThrow = function(e) {
		if (e !== null && typeof e === 'object' && e.name !== undefined && e.name !== null) {
			return B.describeError(e);
		}
		var raw;
		try { raw = String(e); } catch (_) { raw = Object.prototype.toString.call(e); }
		return { t: 'err', raw: raw };
	};

	function encode(v, st) {
		if (v === null || v === undefined) return null;
		switch (typeof v) {
		case 'boolean':
		case 'string':
			return v;
		case 'number':
			return encodeNumber(v);
		case 'bigint':
			return { t: 'big', v: v.toString() };
		case 'symbol':
			return v.toString();
		case 'function':
			return '[function ' + (v.name || 'anonymous') + ']';
		}
		if (v instanceof Promise) {
			return { t: 'promise', state: B.states.get(v) || 'pending' };
		}
		if (v instanceof Error) return B.describeError(v);
		if (v instanceof Uint8Array) return encodeBinary('u8', v, st);
		if (v instanceof Int8Array) return encodeBinary('i8', new Uint8Array(v.buffer, v.byteOffset, v.byteLength), st);
		if (v instanceof ArrayBuffer) return encodeBinary('u8', new Uint8Array(v), st);
		if (v instanceof DataView) return encodeBinary('u8', new Uint8Array(v.buffer, v.byteOffset, v.byteLength), st);

		var kind = Array.isArray(v) || ArrayBuffer.isView(v) ? 'list' : v instanceof Set ? 'set' : v instanceof Map ? 'map' : 'object';
		if (st.seen.has(v)) throw new TypeError('circular reference detected in ' + kind);
		st.seen.add(v);
		try {
			var out, i;
			switch (kind) {
			case 'list':
				out = new Array(v.length);
				for (i = 0; i < v.length; i++) out[i] = encode(v[i], st);
				return out;
			case 'set':
				out = [];
				v.forEach(function(x) { out.push(encode(x, st)); });
				return { t: 'set', v: out };
			case 'map':
				out = [];
				v.forEach(function(x, k) { out.push([encode(k, st), encode(x, st)]); });
				return { t: 'map', v: out };
			}
			out = [];
			var keys = Object.keys(v);
			for (i = 0; i < keys.length; i++) out.push([keys[i], encode(v[keys[i]], st)]);
			return { t: 'obj', v: out };
		} finally {
			st.seen.delete(v);
		}
	}

	// encode returns the wire form of v as a JSON string. stash allows large
	// byte buffers to be parked in globals for direct transfer.
	B.encode = function(v, stash) {
		return JSON.stringify(encode(v, { seen: new Set(), stash: !!stash }));
	};

	B.encodeArgs = function(args) {
		return B.encode(Array.prototype.slice.call(args), false);
	};

	var SPECIAL = { 'NaN': NaN, 'Infinity': Infinity, '-Infinity': -Infinity, '-0': -0 };
	var ERRORS = {
		Error: Error, TypeError: TypeError, RangeError: RangeError, SyntaxError: SyntaxError,
		ReferenceError: ReferenceError, EvalError: EvalError, URIError: URIError
	};

	B.makeError = function(w) {
		if (w.raw !== undefined) return w.raw;
		var Ctor = Object.prototype.hasOwnProperty.call(ERRORS, w.name) ? ERRORS[w.name] : Error;
		var e = new Ctor(w.message);
		if (e.name !== w.name) {
			Object.defineProperty(e, 'name', { value: w.name, writable: true, enumerable: false, configurable: true });
		}
		if (w.stack && w.stack.length) {
			Object.defineProperty(e, 'stack', { value: w.stack.slice(), writable: true, enumerable: false, configurable: true });
		}
		if (w.host) {
			Object.defineProperty(e, '__hostError', { value: w.host, enumerable: false });
		}
		return e;
	};

	function decode(w) {
		if (w === null || typeof w !== 'object') return w;
		if (Array.isArray(w)) return w.map(decode);
		var i, out;
		switch (w.t) {
		case 'f':
			return typeof w.v === 'string' ? SPECIAL[w.v] : w.v;
		case 'big':
			return BigInt(w.v);
		case 'u8':
			if (w.ref !== undefined) {
				var ab = globalThis[w.ref];
				delete globalThis[w.ref];
				return new Uint8Array(ab);
			}
			return fromBase64(w.v);
		case 'i8':
			var u = fromBase64(w.v);
			return new Int8Array(u.buffer, u.byteOffset, u.byteLength);
		case 'set':
			return new Set(w.v.map(decode));
		case 'map':
			out = new Map();
			for (i = 0; i < w.v.length; i++) out.set(decode(w.v[i][0]), decode(w.v[i][1]));
			return out;
		case 'obj':
			out = {};
			for (i = 0; i < w.v.length; i++) {
				Object.defineProperty(out, w.v[i][0], {
					value: decode(w.v[i][1]),
					writable: true, enumerable: true, configurable: true
				});
			}
			return out;
		case 'err':
			return B.makeError(w);
		}
		throw new TypeError('unknown wire tag ' + w.t);
	}

	B.decode = decode;

	// unwrap decodes an {ok, v | e} envelope returned by a host function,
	// throwing the carried exception on failure.
	B.unwrap = function(json) {
		var env = JSON.parse(json);
		if (env.ok) return decode(env.v === undefined ? null : env.v);
		throw B.makeError(env.e);
	};
})();
`
