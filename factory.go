package baggage

// FieldsFactory manages a single mutable Fields element of
// SpanContext.Extra per context.
//
// Fields is copy-on-write internally, but it is still mutable. The factory
// handles the state forking needed so that updates made through a child span
// stay invisible to its parent and siblings: Decorate must run once on every
// new trace context before the context is published.
type FieldsFactory struct {
	isDynamic        bool
	maxDynamicFields int
	updateAttempts   int

	initialFieldList    []*Field
	initialFieldIndices map[*Field]int
	initialArrayLength  int

	// initialState is shared with all new Fields until their first change,
	// making the never-diverged fast path a pointer comparison.
	initialState *[]interface{}
}

// NewFieldsFactory returns a factory configured by opts. Declare the
// statically known fields with WithFields, and allow fields discovered at
// runtime (for example decoded from headers) with WithDynamicFields.
func NewFieldsFactory(opts ...Option) *FieldsFactory {
	c := newConfig(opts...)

	initial := make([]interface{}, len(c.fields)*2)
	indices := make(map[*Field]int, len(c.fields))
	for i, field := range c.fields {
		initial[i*2] = field
		indices[field] = i * 2
	}

	return &FieldsFactory{
		isDynamic:           c.dynamic,
		maxDynamicFields:    c.maxDynamicFields,
		updateAttempts:      c.updateAttempts,
		initialFieldList:    c.fields,
		initialFieldIndices: indices,
		initialArrayLength:  len(initial),
		initialState:        &initial,
	}
}

// New returns a fresh unclaimed Fields carrying this factory's initial
// state. Propagation code calls this to set up state decoded from a request;
// the result must be added to a context's Extra list exactly once, after
// which Decorate manages it.
func (f *FieldsFactory) New() *Fields {
	fields := &Fields{}
	fields.factory = f
	fields.state.Store(f.initialState)
	return fields
}

// FieldsOf returns the Fields this factory attached to the context, or nil
// when the context was never decorated by this factory.
func (f *FieldsFactory) FieldsOf(context SpanContext) *Fields {
	for _, next := range context.Extra {
		if fields, ok := next.(*Fields); ok && fields.factory == f {
			return fields
		}
	}
	return nil
}

// Decorate ensures exactly one claimed Fields belongs to the context,
// reconciling any state inherited from an ancestor context. It runs once per
// context creation, not per field access.
//
// Attaching the output of New to one context's Extra more than once is a
// caller bug and panics.
func (f *FieldsFactory) Decorate(context SpanContext) SpanContext {
	traceID, spanID := context.TraceID, context.SpanID

	var claimed *Fields
	existingIndex := -1
	for i, next := range context.Extra {
		fields, ok := next.(*Fields)
		if !ok || fields.factory != f {
			// Don't interfere with other factories' state.
			continue
		}

		if claimed == nil && fields.tryToClaim(traceID, spanID) {
			claimed = fields
			continue
		}

		if existingIndex != -1 {
			// Two entries already claimed by other spans means the same
			// factory's output was attached twice. Handling that is complex
			// state management for what is an integration bug, so fail loudly.
			panic("BUG: something added the result of New() multiple times to context.Extra")
		}
		existingIndex = i
	}

	// Easiest when there is neither existing state to assign, nor need to
	// change context.Extra.
	if claimed != nil && existingIndex == -1 {
		return context
	}

	mutableExtra := make([]interface{}, len(context.Extra), len(context.Extra)+1)
	copy(mutableExtra, context.Extra)

	// If context.Extra didn't have an unclaimed instance, create one for
	// this context.
	if claimed == nil {
		claimed = f.New()
		claimed.tryToClaim(traceID, spanID)
		mutableExtra = append(mutableExtra, claimed)
	}

	if existingIndex != -1 {
		existing := mutableExtra[existingIndex].(*Fields)
		mutableExtra = append(mutableExtra[:existingIndex], mutableExtra[existingIndex+1:]...)

		if claimed.state.Load() == f.initialState {
			// The claimed state never diverged: adopt the ancestor's array
			// wholesale.
			claimed.state.Store(existing.state.Load())
		} else if existing.state.Load() != f.initialState {
			claimed.state.Store(claimed.mergeStateKeepingOursOnConflict(existing))
		}
	}

	return context.WithExtra(mutableExtra)
}
