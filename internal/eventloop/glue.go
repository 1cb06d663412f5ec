package eventloop

// GlueJS installs the engine half of the async protocol on __bridge:
// pending job settlement and the hand-off of unhandled rejection reasons.
// Engines that report unhandled rejections themselves need nothing more;
// the others also get TrackingJS.
const GlueJS = `
(function() {
	var B = globalThis.__bridge;

	B.pending = {};
	B.jobSeq = 0;
	B.track = function(p) { return p; };

	B.settle = function(jobId, ok, w) {
		var entry = B.pending[jobId];
		if (!entry) return;
		delete B.pending[jobId];
		if (ok) {
			entry.resolve(B.decode(w));
		} else {
			entry.reject(B.makeError(w));
		}
	};

	B.forget = function(ids) {
		for (var i = 0; i < ids.length; i++) delete B.pending[ids[i]];
	};

	// takeReason removes the rejection reason parked in a global and
	// returns it as a wire error string.
	B.takeReason = function(name) {
		var e = globalThis[name];
		delete globalThis[name];
		return JSON.stringify(B.describeThrow(e));
	};
})();
`

// RejectionGlobal is where an engine tracker parks the reason it reports.
const RejectionGlobal = "__bridge_rejection"

// TrackingJS tracks rejections in JavaScript for engines without a host
// rejection tracker. Only promises handed out by async host functions,
// promises derived from them, Promise.reject results and the results of
// the Promise combinators are seen. A tracked promise carries an own then
// that marks it handled, and its constructor is hidden so await and
// Promise.resolve go through that then.
const TrackingJS = `
(function() {
	var B = globalThis.__bridge;
	var thenOf = B.originalThen;
	var tracked = new WeakMap();
	var records = [];

	function track(p) {
		if (!(p instanceof Promise) || tracked.has(p)) return p;
		var rec = { handled: false, settled: false, rejected: false, reason: undefined };
		tracked.set(p, rec);
		records.push(rec);
		thenOf.call(p,
			function() { rec.settled = true; B.states.set(p, 'fulfilled'); },
			function(e) { rec.settled = true; rec.rejected = true; rec.reason = e; B.states.set(p, 'rejected'); });
		Object.defineProperty(p, 'then', {
			value: function(onFulfilled, onRejected) {
				rec.handled = true;
				return track(thenOf.call(p, onFulfilled, onRejected));
			},
			writable: true, configurable: true
		});
		Object.defineProperty(p, 'constructor', { value: undefined, writable: true, configurable: true });
		return p;
	}
	B.track = track;

	var reject = Promise.reject;
	Promise.reject = function(reason) {
		return track(reject.call(this, reason));
	};
	['all', 'race', 'any'].forEach(function(name) {
		var orig = Promise[name];
		if (typeof orig !== 'function') return;
		Promise[name] = function(iterable) {
			return track(orig.call(this, iterable));
		};
	});

	// takeUnhandled drops settled records and returns the first rejected,
	// unhandled one as a wire error string, or '' when there is none.
	B.takeUnhandled = function() {
		var found = null, keep = [];
		for (var i = 0; i < records.length; i++) {
			var r = records[i];
			if (!r.settled) {
				keep.push(r);
			} else if (r.rejected && !r.handled && found === null) {
				found = r;
			}
		}
		records = keep;
		return found === null ? '' : JSON.stringify(B.describeThrow(found.reason));
	};

	B.resetTracking = function() {
		records = [];
	};
})();
`
