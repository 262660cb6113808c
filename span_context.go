package baggage

import "fmt"

// SpanContext holds the propagated identity of a span along with the ordered
// list of opaque extra payloads attached by propagation plugins.
//
// SpanContext values are immutable. "Mutation" always means constructing a
// new context wrapping a new extra list; a published context is never
// changed in place.
type SpanContext struct {
	// A probabilistically unique identifier for a [multi-span] trace.
	TraceID uint64

	// A probabilistically unique identifier for a span.
	SpanID uint64

	// Extra carries opaque per-context payloads, such as the baggage state
	// managed by FieldsFactory. Entries are owned by the plugin that added
	// them; callers treat both the list and its entries as read-only.
	Extra []interface{}
}

// ForeachBaggageItem belongs to the opentracing.SpanContext interface.
// It visits every baggage field with an assigned value.
func (c SpanContext) ForeachBaggageItem(handler func(k, v string) bool) {
	for _, next := range c.Extra {
		fields, ok := next.(*Fields)
		if !ok {
			continue
		}
		for _, field := range fields.GetAllFields() {
			value := fields.GetValue(field)
			if value == nil {
				continue
			}
			s, ok := value.(string)
			if !ok {
				s = fmt.Sprint(value)
			}
			if !handler(field.Name(), s) {
				return
			}
		}
	}
}

// WithExtra returns an entirely new SpanContext referencing the given extra
// list. The receiver is unchanged.
func (c SpanContext) WithExtra(extra []interface{}) SpanContext {
	// Use positional parameters so the compiler will help catch new fields.
	return SpanContext{c.TraceID, c.SpanID, extra}
}
