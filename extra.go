package baggage

import (
	"go.uber.org/atomic"
)

// claim marks a state instance as exclusively owned by one span.
type claim struct {
	traceID, spanID uint64
}

// extra is the claimable copy-on-write cell threaded through
// SpanContext.Extra by a FieldsFactory. The packed array behind state is
// immutable once published: every change installs a fresh array with a
// single compare-and-swap, so any goroutine holding a prior array may keep
// reading it without synchronization.
type extra struct {
	factory *FieldsFactory

	// state holds the current packed field/value array.
	state atomic.Pointer[[]interface{}]

	// claimed transitions once, from nil to the owning (traceID, spanID).
	claimed atomic.Pointer[claim]
}

func (e *extra) array() []interface{} {
	return *e.state.Load()
}

// tryToClaim attempts to own this instance for the given span. It reports
// true when the claim succeeded now or had already succeeded for the same
// span, which keeps Decorate idempotent.
func (e *extra) tryToClaim(traceID, spanID uint64) bool {
	if e.claimed.CompareAndSwap(nil, &claim{traceID: traceID, spanID: spanID}) {
		return true
	}
	owner := e.claimed.Load()
	return owner.traceID == traceID && owner.spanID == spanID
}
