package baggage

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/lightstep/lightstep-baggage-go/internal/bitset"
)

// UnsafeArrayMap is a read-only map which is a view over an array of
// alternating key, value slots. No key can be nil: the first nil key found
// scanning from position 0 terminates the logical length. Values can be nil,
// meaning the key is present with no value assigned.
//
// The array is shared with the caller, hence being called "unsafe". This
// supports cheap views over copy-on-write arrays: construction never copies
// or mutates its input, and a view never observes a partially written array
// because published arrays are immutable.
type UnsafeArrayMap struct {
	array    []interface{}
	toIndex  int
	filtered uint64
	size     int
}

// emptyMap is shared by every view with no visible pairs.
var emptyMap = &UnsafeArrayMap{}

// newUnsafeArrayMap scans array up to its logical end and returns a view
// bound to it. An input with no keys coerces to the shared empty map.
func newUnsafeArrayMap(array []interface{}) *UnsafeArrayMap {
	if array == nil {
		panic("array == nil")
	}
	i := 0
	for ; i < len(array); i += 2 {
		if array[i] == nil {
			break // we ignore anything starting at first nil key
		}
	}
	if i == 0 {
		return emptyMap
	}
	return &UnsafeArrayMap{array: array, toIndex: i, size: i / 2}
}

// FilterKeys returns a view over the same backing array with every slot
// whose key equals one of keys redacted from all map operations. At most
// bitset.MaxSize keys may be filtered; exceeding that is a caller bug and
// panics. When the redaction set is unchanged the receiver is returned, so
// callers can cheaply detect a no-op filter.
func (m *UnsafeArrayMap) FilterKeys(keys ...interface{}) *UnsafeArrayMap {
	if len(keys) == 0 {
		return m
	}
	if len(keys) > bitset.MaxSize {
		panic(newErrTooManyFilteredKeys(bitset.MaxSize))
	}

	var filtered uint64
	numFiltered := 0
	for i := 0; i < m.toIndex; i += 2 {
		for _, key := range keys {
			if equal(key, m.array[i]) {
				filtered = bitset.SetBit(filtered, i/2)
				numFiltered++
				break
			}
		}
	}
	if filtered == m.filtered {
		return m
	}
	if numFiltered == m.toIndex/2 {
		return emptyMap
	}
	return &UnsafeArrayMap{
		array:    m.array,
		toIndex:  m.toIndex,
		filtered: filtered,
		size:     m.toIndex/2 - numFiltered,
	}
}

// Size returns the count of visible pairs.
func (m *UnsafeArrayMap) Size() int {
	return m.size
}

func (m *UnsafeArrayMap) IsEmpty() bool {
	return m.size == 0
}

// Get returns the value mapped to key, or nil when the key is absent,
// filtered, or nil.
func (m *UnsafeArrayMap) Get(key interface{}) interface{} {
	if key == nil {
		return nil // nil keys are not allowed
	}
	i := m.arrayIndexOfKey(key)
	if i == -1 {
		return nil
	}
	return m.array[i+1]
}

func (m *UnsafeArrayMap) ContainsKey(key interface{}) bool {
	if key == nil {
		return false // nil keys are not allowed
	}
	return m.arrayIndexOfKey(key) != -1
}

func (m *UnsafeArrayMap) ContainsValue(value interface{}) bool {
	for i := 0; i < m.toIndex; i += 2 {
		if equal(value, m.array[i+1]) && !m.isFilteredKey(i) {
			return true
		}
	}
	return false
}

func (m *UnsafeArrayMap) arrayIndexOfKey(key interface{}) int {
	for i := 0; i < m.toIndex; i += 2 {
		if equal(key, m.array[i]) && !m.isFilteredKey(i) {
			return i
		}
	}
	return -1
}

// KeySet returns a read-only view of the visible keys.
func (m *UnsafeArrayMap) KeySet() *MapView {
	return &MapView{m: m, kind: keyView}
}

// Values returns a read-only view of the visible values.
func (m *UnsafeArrayMap) Values() *MapView {
	return &MapView{m: m, kind: valueView}
}

// EntrySet returns a read-only view of the visible entries.
func (m *UnsafeArrayMap) EntrySet() *MapView {
	return &MapView{m: m, kind: entryView}
}

// Put always panics: the map is read-only by contract.
func (m *UnsafeArrayMap) Put(key, value interface{}) {
	panic(errReadOnlyView)
}

// PutAll always panics: the map is read-only by contract.
func (m *UnsafeArrayMap) PutAll(other *UnsafeArrayMap) {
	panic(errReadOnlyView)
}

// Remove always panics: the map is read-only by contract.
func (m *UnsafeArrayMap) Remove(key interface{}) {
	panic(errReadOnlyView)
}

// Clear always panics: the map is read-only by contract.
func (m *UnsafeArrayMap) Clear() {
	panic(errReadOnlyView)
}

func (m *UnsafeArrayMap) String() string {
	var result strings.Builder
	result.WriteString("UnsafeArrayMap{")
	first := true
	for i := 0; i < m.toIndex; i += 2 {
		if m.isFilteredKey(i) {
			continue
		}
		if !first {
			result.WriteByte(',')
		}
		first = false
		result.WriteString(stringify(m.array[i]))
		result.WriteByte('=')
		result.WriteString(stringify(m.array[i+1]))
	}
	result.WriteByte('}')
	return result.String()
}

func (m *UnsafeArrayMap) isFilteredKey(i int) bool {
	return bitset.IsSet(m.filtered, i/2)
}

type viewKind int

const (
	keyView viewKind = iota
	valueView
	entryView
)

// MapView is a read-only collection view over one aspect of an
// UnsafeArrayMap: its keys, its values, or its entries.
type MapView struct {
	m    *UnsafeArrayMap
	kind viewKind
}

// By switching here, the key, value and entry views share all of the
// iteration and copy machinery below.
func (v *MapView) elementAt(i int) interface{} {
	switch v.kind {
	case keyView:
		return v.m.array[i]
	case valueView:
		return v.m.array[i+1]
	default:
		return MapEntry{key: v.m.array[i], value: v.m.array[i+1]}
	}
}

func (v *MapView) Size() int {
	return v.m.size
}

func (v *MapView) IsEmpty() bool {
	return v.m.size == 0
}

func (v *MapView) Contains(element interface{}) bool {
	switch v.kind {
	case keyView:
		return v.m.ContainsKey(element)
	case valueView:
		return v.m.ContainsValue(element)
	default:
		entry, ok := element.(MapEntry)
		if !ok || entry.key == nil {
			return false
		}
		i := v.m.arrayIndexOfKey(entry.key)
		if i == -1 {
			return false
		}
		return equal(entry.value, v.m.array[i+1])
	}
}

func (v *MapView) ContainsAll(elements []interface{}) bool {
	for _, element := range elements {
		if !v.Contains(element) {
			return false
		}
	}
	return true
}

// Iterator returns a fresh read-only iterator over the view. Iterators are
// never shared, and each one walks the single array the view closed over, so
// iteration concurrent with state updates observes a consistent snapshot.
func (v *MapView) Iterator() *MapIterator {
	return &MapIterator{view: v}
}

// ToArray returns the view's elements in scan order in a newly allocated
// buffer. The result never aliases the backing array.
func (v *MapView) ToArray() []interface{} {
	return v.CopyTo(make([]interface{}, v.m.size))
}

// CopyTo copies the view's elements into dest and returns it, when dest is
// large enough; slots past the element count are left untouched. Otherwise a
// new buffer of exactly the right size is allocated and returned.
func (v *MapView) CopyTo(dest []interface{}) []interface{} {
	if len(dest) < v.m.size {
		dest = make([]interface{}, v.m.size)
	}
	d := 0
	for i := 0; i < v.m.toIndex; i += 2 {
		if v.m.isFilteredKey(i) {
			continue
		}
		dest[d] = v.elementAt(i)
		d++
	}
	return dest
}

func (v *MapView) advancePastFiltered(i int) int {
	for i < v.m.toIndex && v.m.isFilteredKey(i) {
		i += 2
	}
	return i
}

// Add always panics: the view is read-only by contract.
func (v *MapView) Add(element interface{}) {
	panic(errReadOnlyView)
}

// Remove always panics: the view is read-only by contract.
func (v *MapView) Remove(element interface{}) {
	panic(errReadOnlyView)
}

// Clear always panics: the view is read-only by contract.
func (v *MapView) Clear() {
	panic(errReadOnlyView)
}

// MapIterator walks a MapView in scan order, skipping filtered slots.
type MapIterator struct {
	view *MapView
	i    int
}

func (it *MapIterator) HasNext() bool {
	it.i = it.view.advancePastFiltered(it.i)
	return it.i < it.view.m.toIndex
}

// Next returns the next element. Calling Next past the end is a caller bug
// and panics.
func (it *MapIterator) Next() interface{} {
	if !it.HasNext() {
		panic("no more elements")
	}
	result := it.view.elementAt(it.i)
	it.i += 2
	return result
}

// Remove always panics: the iterator is read-only by contract.
func (it *MapIterator) Remove() {
	panic(errReadOnlyView)
}

// MapEntry is one visible key/value pair of an UnsafeArrayMap.
type MapEntry struct {
	key, value interface{}
}

// NewMapEntry returns an entry pairing key and value. A nil key is a caller
// bug.
func NewMapEntry(key, value interface{}) MapEntry {
	if key == nil {
		panic("key == nil")
	}
	return MapEntry{key: key, value: value}
}

func (e MapEntry) Key() interface{} {
	return e.key
}

func (e MapEntry) Value() interface{} {
	return e.value
}

// SetValue always panics: entries are read-only by contract.
func (e MapEntry) SetValue(value interface{}) {
	panic(errReadOnlyView)
}

// Equal reports whether other is an entry with an equal key and an equal
// value. A nil value only equals another nil value.
func (e MapEntry) Equal(other interface{}) bool {
	that, ok := other.(MapEntry)
	if !ok {
		return false
	}
	return equal(e.key, that.key) && equal(e.value, that.value)
}

const entryHashSeed = 1000003

// Hash combines the key and value hashes under a fixed non-zero seed.
func (e MapEntry) Hash() uint64 {
	h := uint64(entryHashSeed)
	h ^= xxhash.Sum64String(stringify(e.key))
	h *= entryHashSeed
	if e.value != nil {
		h ^= xxhash.Sum64String(stringify(e.value))
	}
	return h
}

func (e MapEntry) String() string {
	return "Entry{" + stringify(e.key) + "=" + stringify(e.value) + "}"
}

// equal is value equality with nil handled specially: nil equals only nil.
// Keys and values must be comparable (strings and *Field in practice).
func equal(a, b interface{}) bool {
	if a == nil {
		return b == nil
	}
	return a == b
}

func stringify(o interface{}) string {
	if o == nil {
		return "null"
	}
	return fmt.Sprint(o)
}
