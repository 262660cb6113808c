// Package bitset implements set membership for small integers packed into a
// single uint64 word. It backs the redaction marks of the baggage map views,
// where a position index never exceeds 64.
package bitset

import "math/bits"

// MaxSize is the number of positions one word can track.
const MaxSize = 64

// IsSet reports whether position i is marked. Callers guarantee 0 <= i < 64.
func IsSet(set uint64, i int) bool {
	return set&(1<<uint(i)) != 0
}

// SetBit returns set with position i marked.
func SetBit(set uint64, i int) uint64 {
	return set | 1<<uint(i)
}

// UnsetBit returns set with position i cleared.
func UnsetBit(set uint64, i int) uint64 {
	return set &^ (1 << uint(i))
}

// Size returns the count of marked positions.
func Size(set uint64) int {
	return bits.OnesCount64(set)
}
