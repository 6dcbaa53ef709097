package chainsync

// RequestTracker paces requests to one peer: a minimum interval between
// requests, and a timeout after which the peer is considered unresponsive
// (spec §5 "each peer has a request_tracker enforcing a minimum
// inter-request interval and a timeout").
//
// Time is expressed as caller-supplied monotonic nanoseconds rather than
// time.Time so the engine's tick loop — which already threads a single
// "now" through one tick — can drive this without the tracker reaching for
// the wall clock itself.
type RequestTracker struct {
	minIntervalNanos int64
	timeoutNanos     int64

	sent             bool
	lastSentNanos    int64
	lastRepliedNanos int64
	outstanding      bool
}

// NewRequestTracker returns a tracker with the given pacing parameters.
func NewRequestTracker(minIntervalNanos, timeoutNanos int64) *RequestTracker {
	return &RequestTracker{minIntervalNanos: minIntervalNanos, timeoutNanos: timeoutNanos}
}

// ReadyToSend reports whether enough time has elapsed since the last
// request to send another one.
func (t *RequestTracker) ReadyToSend(nowNanos int64) bool {
	if !t.sent {
		return true
	}
	return nowNanos-t.lastSentNanos >= t.minIntervalNanos
}

// MarkSent records that a request was just sent at nowNanos.
func (t *RequestTracker) MarkSent(nowNanos int64) {
	t.sent = true
	t.lastSentNanos = nowNanos
	t.outstanding = true
}

// MarkReplied records that a response arrived, closing the outstanding
// request.
func (t *RequestTracker) MarkReplied(nowNanos int64) {
	t.lastRepliedNanos = nowNanos
	t.outstanding = false
}

// Unresponsive reports whether the outstanding request (if any) has been
// waiting longer than the timeout — the peer's tick iteration should be
// skipped until it replies or the tracker lets a fresh request through.
func (t *RequestTracker) Unresponsive(nowNanos int64) bool {
	return t.outstanding && nowNanos-t.lastSentNanos >= t.timeoutNanos
}
