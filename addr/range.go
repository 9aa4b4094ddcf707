// Package addr partitions the physical address space between home nodes and
// dies.
package addr

import (
	"fmt"
	"math/bits"
	"strings"
)

// PhysAddrBits is the width of the physical address space that scramble
// masks may reach into.
const PhysAddrBits = 48

// A Region is a contiguous block of physical memory, such as one system
// memory range.
type Region struct {
	Base uint64
	Size uint64
}

// End returns the first address after the region.
func (r Region) End() uint64 {
	return r.Base + r.Size
}

// A Range is a region restricted to the addresses whose interleave field
// equals IntlvMatch.
//
// Without masks, the interleave field is the IntlvBits-wide bit field whose
// most significant bit is IntlvHighBit. With masks, bit j of the field is the
// parity of address&Masks[j].
type Range struct {
	Base         uint64
	Size         uint64
	IntlvHighBit int
	IntlvBits    int
	IntlvMatch   uint64
	Masks        []uint64 `json:",omitempty"`
}

// End returns the first address after the range bounds.
func (r Range) End() uint64 {
	return r.Base + r.Size
}

// Interleaved tells if the range selects only part of its bounds.
func (r Range) Interleaved() bool {
	return r.IntlvBits > 0
}

// Scrambled tells if the interleave field is computed from XOR masks.
func (r Range) Scrambled() bool {
	return len(r.Masks) > 0
}

// InBounds tells if the address lies within [Base, End).
func (r Range) InBounds(address uint64) bool {
	return address >= r.Base && address < r.End()
}

// Field returns the interleave field of an address.
func (r Range) Field(address uint64) uint64 {
	if !r.Interleaved() {
		return 0
	}

	if r.Scrambled() {
		var field uint64
		for j, mask := range r.Masks {
			parity := uint64(bits.OnesCount64(address&mask) & 1)
			field |= parity << j
		}

		return field
	}

	lowBit := r.IntlvHighBit - r.IntlvBits + 1
	fieldMask := uint64(1)<<r.IntlvBits - 1

	return (address >> lowBit) & fieldMask
}

// Contains tells if the address belongs to the range.
func (r Range) Contains(address uint64) bool {
	if !r.InBounds(address) {
		return false
	}

	return r.Field(address) == r.IntlvMatch
}

// SameInterleaving tells if two ranges split the same bounds with the same
// interleave function, so that they can be members of one partition.
func (r Range) SameInterleaving(o Range) bool {
	if r.Base != o.Base || r.Size != o.Size ||
		r.IntlvHighBit != o.IntlvHighBit || r.IntlvBits != o.IntlvBits ||
		len(r.Masks) != len(o.Masks) {
		return false
	}

	for i := range r.Masks {
		if r.Masks[i] != o.Masks[i] {
			return false
		}
	}

	return true
}

func (r Range) String() string {
	s := fmt.Sprintf("[%#x:%#x]", r.Base, r.End())
	if !r.Interleaved() {
		return s
	}

	if !r.Scrambled() {
		lowBit := r.IntlvHighBit - r.IntlvBits + 1
		return fmt.Sprintf("%s a[%d:%d] = %d",
			s, r.IntlvHighBit, lowBit, r.IntlvMatch)
	}

	masks := make([]string, len(r.Masks))
	for i, m := range r.Masks {
		masks[i] = fmt.Sprintf("%#x", m)
	}

	return fmt.Sprintf("%s xor{%s} = %d",
		s, strings.Join(masks, ","), r.IntlvMatch)
}

// Log2 returns the base-2 logarithm of n if n is a power of two.
func Log2(n uint64) (int, bool) {
	if n == 0 || n&(n-1) != 0 {
		return 0, false
	}

	return bits.TrailingZeros64(n), true
}
