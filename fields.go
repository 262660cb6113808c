package baggage

import (
	"strings"

	"github.com/lightstep/lightstep-baggage-go/internal/bitset"
)

// Fields holds one trace's baggage fields inside SpanContext.Extra.
//
// Reads take a snapshot of the current packed array and never block. Writes
// copy the array, change one slot or append one pair, and publish the copy
// with a compare-and-swap; a lost race re-reads and retries up to the
// factory's attempt budget. No lock is ever taken.
type Fields struct {
	extra
}

// IsDynamic reports whether fields outside the factory's initial set may be
// appended. When true, GetAllFields results cannot be cached.
func (f *Fields) IsDynamic() bool {
	return f.factory.isDynamic
}

// GetAllFields returns the fields present, regardless of value, in slot
// order and without deduplication. Callers must not modify the result.
func (f *Fields) GetAllFields() []*Field {
	if !f.factory.isDynamic {
		return f.factory.initialFieldList
	}
	array := f.array()
	result := make([]*Field, 0, len(array)/2)
	for i := 0; i < len(array); i += 2 {
		if array[i] == nil {
			break // end of keys
		}
		result = append(result, array[i].(*Field))
	}
	return result
}

// ToMapFilteringFields returns a read-only view of the current field values
// with the given fields redacted.
func (f *Fields) ToMapFilteringFields(filtered ...*Field) *UnsafeArrayMap {
	m := newUnsafeArrayMap(f.array())
	if len(filtered) == 0 {
		return m
	}
	keys := make([]interface{}, len(filtered))
	for i, field := range filtered {
		keys[i] = field
	}
	return m.FilterKeys(keys...)
}

// GetValue returns the value of the field, or nil if the field is absent or
// has no value assigned.
func (f *Fields) GetValue(field *Field) interface{} {
	if field == nil {
		return nil
	}
	state := f.array()
	i := f.indexOfField(state, field)
	if i == -1 {
		return nil
	}
	return state[i+1]
}

// indexOfField resolves statically known fields through the factory's
// precomputed index, then scans the dynamically appended tail.
func (f *Fields) indexOfField(state []interface{}, field *Field) int {
	if i, ok := f.factory.initialFieldIndices[field]; ok {
		return i
	}
	for i := f.factory.initialArrayLength; i < len(state); i += 2 {
		if state[i] == nil {
			break // end of keys
		}
		if state[i] == field {
			return i
		}
	}
	return -1
}

// UpdateValue records a value change for the field. A nil value marks the
// field present with no value assigned.
//
// It reports true when the underlying state changed. False means the value
// was already current, the field is unknown and this state does not permit
// dynamic fields, the dynamic field cap was reached, or the attempt budget
// ran out under contention; the last two also emit an event. A false return
// is never a silent data loss: the update was simply not applied.
func (f *Fields) UpdateValue(field *Field, value interface{}) bool {
	if field == nil {
		return false
	}
	// Bounded so pathological contention cannot spin forever.
	for attempts := f.factory.updateAttempts; attempts > 0; attempts-- {
		statep := f.state.Load()
		state := *statep
		if i := f.indexOfField(state, field); i != -1 {
			if equal(value, state[i+1]) {
				return false
			}
			// Same field, different value.
			if f.tryUpdateValue(statep, i, value) {
				return true
			}
			continue
		}

		// A new field: we may not have a policy to grow, or we may have
		// reached the maximum allowed field count.
		if !f.factory.isDynamic {
			return false // this policy does not allow new fields
		}
		if (len(state)+2)/2 > f.factory.maxDynamicFields {
			emitEvent(newEventDynamicFieldCapExceeded(f.factory.maxDynamicFields))
			return false
		}
		if f.tryAddNewField(statep, field, value) {
			return true
		}
	}

	emitEvent(newEventUpdateAttemptsExhausted(field, f.factory.updateAttempts))
	return false
}

// Fields are append-only, so a lost race against an existing slot is always
// safe to retry against a fresh read: the slot index for other fields never
// moves.
func (f *Fields) tryUpdateValue(statep *[]interface{}, i int, value interface{}) bool {
	state := *statep
	newState := make([]interface{}, len(state)) // copy-on-write
	copy(newState, state)
	newState[i+1] = value
	return f.state.CompareAndSwap(statep, &newState)
}

// tryAddNewField grows the array to append a new field/value pair.
func (f *Fields) tryAddNewField(statep *[]interface{}, field *Field, value interface{}) bool {
	state := *statep
	newState := make([]interface{}, len(state)+2) // copy-on-write
	copy(newState, state)
	newState[len(state)] = field
	newState[len(state)+1] = value
	return f.state.CompareAndSwap(statep, &newState)
}

// mergeStateKeepingOursOnConflict folds their fields into ours when a
// decorated context reconciles with an ancestor's state. For every field of
// theirs: absent in ours means append; present in ours with a nil value
// means take theirs' non-nil value; present in ours with a non-nil value
// means ours wins, whatever theirs holds. The asymmetry is deliberate and
// order-dependent.
//
// The receiver's state pointer is returned unchanged when nothing would
// change, so callers can detect a no-op merge.
func (f *Fields) mergeStateKeepingOursOnConflict(theirFields *Fields) *[]interface{} {
	ourp := f.state.Load()
	ourArray, theirArray := *ourp, theirFields.array()

	// Scan first to see if we need to change our values, grow our array, or
	// neither.
	var changeInOurs, newToOurs uint64
	for i := 0; i < len(theirArray); i += 2 {
		if theirArray[i] == nil {
			break // end of keys
		}
		ourIndex := f.indexOfField(ourArray, theirArray[i].(*Field))
		bitsetIndex := i / 2
		if ourIndex == -1 {
			newToOurs = bitset.SetBit(newToOurs, bitsetIndex)
			continue
		}
		if ourArray[ourIndex+1] != nil {
			continue // our value wins
		}
		if !equal(ourArray[ourIndex+1], theirArray[i+1]) {
			changeInOurs = bitset.SetBit(changeInOurs, bitsetIndex)
		}
	}

	if changeInOurs == 0 && newToOurs == 0 {
		return ourp
	}

	// Appends past the dynamic field cap are dropped, keeping the earlier
	// fields in scan order.
	allowedNew := f.factory.maxDynamicFields - len(ourArray)/2
	if allowedNew < 0 {
		allowedNew = 0
	}
	if numNew := bitset.Size(newToOurs); numNew > allowedNew {
		emitEvent(newEventDynamicFieldCapExceeded(f.factory.maxDynamicFields))
		kept := 0
		for i := 0; i < len(theirArray); i += 2 {
			bitsetIndex := i / 2
			if !bitset.IsSet(newToOurs, bitsetIndex) {
				continue
			}
			if kept < allowedNew {
				kept++
			} else {
				newToOurs = bitset.UnsetBit(newToOurs, bitsetIndex)
			}
		}
	}
	if changeInOurs == 0 && newToOurs == 0 {
		return ourp
	}

	// To implement copy-on-write, we provision a new array large enough for
	// all changes, then apply them in a single pass.
	newState := make([]interface{}, len(ourArray)+bitset.Size(newToOurs)*2)
	copy(newState, ourArray)

	endOfOurs := len(ourArray)
	for i := 0; i < len(theirArray); i += 2 {
		if theirArray[i] == nil {
			break // end of keys
		}
		bitsetIndex := i / 2
		if bitset.IsSet(changeInOurs, bitsetIndex) {
			changeInOurs = bitset.UnsetBit(changeInOurs, bitsetIndex)
			ourIndex := f.indexOfField(newState, theirArray[i].(*Field))
			newState[ourIndex+1] = theirArray[i+1]
		} else if bitset.IsSet(newToOurs, bitsetIndex) {
			newToOurs = bitset.UnsetBit(newToOurs, bitsetIndex)
			newState[endOfOurs] = theirArray[i]
			newState[endOfOurs+1] = theirArray[i+1]
			endOfOurs += 2
		}
		if changeInOurs == 0 && newToOurs == 0 {
			break
		}
	}
	return &newState
}

func (f *Fields) String() string {
	s := newUnsafeArrayMap(f.array()).String()
	return "Fields" + strings.TrimPrefix(s, "UnsafeArrayMap")
}
