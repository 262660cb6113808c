package baggage

import (
	"fmt"
	"strings"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
)

// baggageHeaderKey is the single header the codec reads and writes, per the
// w3c baggage format: `key1=value1,key2=value2`.
const baggageHeaderKey = "baggage"

// Propagator injects and extracts baggage fields through the single
// "baggage" header. It is a thin string-splitting codec over the factory's
// state; trace identifiers are propagated elsewhere.
type Propagator struct {
	factory      *FieldsFactory
	restrictions *RestrictionManager
}

// PropagatorOption configures a Propagator.
type PropagatorOption func(*Propagator)

// WithRestrictionManager redacts fields the manager denies at inject time
// and truncates values past their allowed length.
func WithRestrictionManager(restrictions *RestrictionManager) PropagatorOption {
	return func(p *Propagator) {
		p.restrictions = restrictions
	}
}

func NewPropagator(factory *FieldsFactory, opts ...PropagatorOption) *Propagator {
	p := &Propagator{factory: factory}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Inject writes the context's baggage fields to the carrier. Contexts
// without baggage state inject nothing and succeed.
func (p *Propagator) Inject(
	spanContext opentracing.SpanContext,
	opaqueCarrier interface{},
) error {
	sc, ok := spanContext.(SpanContext)
	if !ok {
		return opentracing.ErrInvalidSpanContext
	}
	carrier, ok := opaqueCarrier.(opentracing.TextMapWriter)
	if !ok {
		return opentracing.ErrInvalidCarrier
	}

	fields := p.factory.FieldsOf(sc)
	if fields == nil {
		return nil
	}

	var denied []*Field
	if p.restrictions != nil {
		denied = p.restrictions.DeniedFields(fields.GetAllFields())
	}

	encoded := p.encode(fields.ToMapFilteringFields(denied...))
	if encoded != "" {
		carrier.Set(baggageHeaderKey, encoded)
	}
	return nil
}

// encode renders the visible non-nil values in scan order.
func (p *Propagator) encode(m *UnsafeArrayMap) string {
	var result strings.Builder
	for it := m.EntrySet().Iterator(); it.HasNext(); {
		entry := it.Next().(MapEntry)
		if entry.Value() == nil {
			continue
		}
		name := entry.Key().(*Field).Name()
		value, ok := entry.Value().(string)
		if !ok {
			value = fmt.Sprint(entry.Value())
		}
		if p.restrictions != nil {
			ok, maxLen := p.restrictions.IsValidKey(name)
			if !ok {
				continue
			}
			if len(value) > maxLen {
				value = value[:maxLen]
			}
		}
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(name)
		result.WriteByte('=')
		result.WriteString(value)
	}
	return result.String()
}

// Extract reads the baggage header from the carrier into a fresh, unclaimed
// Fields ready to be placed in a new context's Extra list before Decorate
// runs. It returns opentracing.ErrSpanContextNotFound when the carrier has
// no baggage header.
func (p *Propagator) Extract(opaqueCarrier interface{}) (*Fields, error) {
	carrier, ok := opaqueCarrier.(opentracing.TextMapReader)
	if !ok {
		return nil, opentracing.ErrInvalidCarrier
	}

	fields := p.factory.New()
	found := false
	err := carrier.ForeachKey(func(k, v string) error {
		if strings.ToLower(k) != baggageHeaderKey {
			return nil
		}
		found = true
		return decodeBaggageHeader(fields, v)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, opentracing.ErrSpanContextNotFound
	}
	return fields, nil
}

// decodeBaggageHeader feeds each entry through UpdateValue, which drops
// fields outside a non-dynamic policy silently.
func decodeBaggageHeader(fields *Fields, value string) error {
	for _, entry := range strings.Split(value, ",") {
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			return errors.Wrapf(opentracing.ErrSpanContextCorrupted, "malformed baggage entry %q", entry)
		}
		name := strings.TrimSpace(kv[0])
		if name == "" {
			return errors.Wrapf(opentracing.ErrSpanContextCorrupted, "malformed baggage entry %q", entry)
		}
		fields.UpdateValue(NewField(name), strings.TrimSpace(kv[1]))
	}
	return nil
}
