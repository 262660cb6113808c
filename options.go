package baggage

import (
	"github.com/lightstep/lightstep-baggage-go/internal/bitset"
)

const (
	// DefaultMaxDynamicFields bounds how many field/value pairs one state
	// may hold. It can be raised up to bitset.MaxSize, the merge scan's
	// position limit.
	DefaultMaxDynamicFields = 32

	// DefaultUpdateAttempts is how often UpdateValue retries a lost
	// compare-and-swap race before giving up. Correctness holds for any
	// bound of at least one; only liveness under contention differs.
	DefaultUpdateAttempts = 3
)

// Option configures a FieldsFactory.
type Option func(*config)

// WithFields declares the statically known fields every state starts with.
// Their lookup is precomputed and GetAllFields can return a cached list as
// long as the factory is not dynamic.
func WithFields(fields ...*Field) Option {
	return func(c *config) {
		c.fields = fields
	}
}

// WithDynamicFields permits fields outside the initial set to be appended,
// up to the dynamic field cap. Without it, updates to unknown fields are
// dropped by policy.
func WithDynamicFields() Option {
	return func(c *config) {
		c.dynamic = true
	}
}

// WithMaxDynamicFields caps the total number of field pairs one state may
// hold. Values outside [1, bitset.MaxSize] are clamped.
func WithMaxDynamicFields(max int) Option {
	return func(c *config) {
		if max < 1 {
			max = 1
		}
		if max > bitset.MaxSize {
			max = bitset.MaxSize
		}
		c.maxDynamicFields = max
	}
}

// WithUpdateAttempts sets the compare-and-swap retry budget of UpdateValue.
// Values below one are ignored.
func WithUpdateAttempts(attempts int) Option {
	return func(c *config) {
		if attempts > 0 {
			c.updateAttempts = attempts
		}
	}
}

type config struct {
	fields           []*Field
	dynamic          bool
	maxDynamicFields int
	updateAttempts   int
}

func newConfig(opts ...Option) config {
	var c config

	defaultOpts := []Option{
		WithMaxDynamicFields(DefaultMaxDynamicFields),
		WithUpdateAttempts(DefaultUpdateAttempts),
	}

	for _, opt := range append(defaultOpts, opts...) {
		opt(&c)
	}

	return c
}
