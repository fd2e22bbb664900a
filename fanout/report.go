package fanout

import "time"

// Delivery is the outcome of one target's delivery attempt.
type Delivery struct {
	// Target is the destination exactly as passed to Dispatch.
	Target string `json:"target"`

	// OK reports whether the delivery was accepted. For HTTP targets the
	// acceptance predicate decides (default: status < 400); for NATS
	// targets a flushed publish counts as accepted.
	OK bool `json:"ok"`

	// StatusCode is the HTTP response status, 0 when no response was
	// received or the target is not an HTTP destination.
	StatusCode int `json:"status_code,omitempty"`

	// Error describes a transport failure, timeout or unusable target.
	// Empty when the destination produced a response, even a 4xx/5xx one.
	Error string `json:"error,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Report aggregates one dispatch call. It is immutable once returned.
type Report struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// Details holds one entry per target in input order. Nil when detail
	// collection is disabled.
	Details []Delivery `json:"details,omitempty"`

	// Err is set only for a whole-dispatch failure (unencodable payload).
	// Per-target failures never set it.
	Err error `json:"-"`
}

// Total returns the number of targets the dispatch attempted. A zero total
// distinguishes "no targets configured" from "all targets failed".
func (r Report) Total() int {
	return r.Succeeded + r.Failed
}
