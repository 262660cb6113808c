package baggage

import (
	"strings"
	"sync"
)

// Field is a handle on a single baggage field, such as a request ID or a
// country code, propagated alongside a trace.
//
// Fields are interned: two NewField calls with the same name return the same
// instance. This makes pointer comparison the field equality used throughout
// the package.
type Field struct {
	name string
}

var (
	fieldRegistryMutex sync.Mutex
	fieldRegistry      = map[string]*Field{}
)

// NewField returns the field registered under name, creating it on first
// use. Names are trimmed and compared case-insensitively, matching how they
// appear in propagation headers. An empty name is a caller bug.
func NewField(name string) *Field {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		panic("field name is empty")
	}

	fieldRegistryMutex.Lock()
	defer fieldRegistryMutex.Unlock()

	if field, ok := fieldRegistry[name]; ok {
		return field
	}
	field := &Field{name: name}
	fieldRegistry[name] = field
	return field
}

// Name returns the name the field propagates under.
func (f *Field) Name() string {
	return f.name
}

func (f *Field) String() string {
	return f.name
}

// Value returns the field's value in the given context, or nil when the
// field is absent or has no value assigned. The context's extra list is
// scanned for baggage state holding this field.
func (f *Field) Value(context SpanContext) interface{} {
	for _, next := range context.Extra {
		fields, ok := next.(*Fields)
		if !ok {
			continue
		}
		if value := fields.GetValue(f); value != nil {
			return value
		}
	}
	return nil
}

// Update sets the field's value in the given context's baggage state.
// A nil value marks the field present with no value assigned. It reports
// whether any state changed.
func (f *Field) Update(context SpanContext, value interface{}) bool {
	for _, next := range context.Extra {
		fields, ok := next.(*Fields)
		if !ok {
			continue
		}
		if fields.UpdateValue(f, value) {
			return true
		}
	}
	return false
}
