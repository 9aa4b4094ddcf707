package addr

import (
	"github.com/sarchlab/chifabric/errs"
)

// HomePartition is the result of splitting the address space between home
// nodes. Ranges[i] holds the ranges owned by home node i, one per region.
type HomePartition struct {
	LineBits  int
	IntlvBits int
	NumaBit   int
	Ranges    [][]Range
}

// LowBit returns the least significant interleave bit.
func (p HomePartition) LowBit() int {
	return p.NumaBit - p.IntlvBits + 1
}

// PartitionHomes stripes every region over numHomes home nodes at cache-line
// granularity. The interleave field sits immediately above the line offset.
// A scrambleWidth above one replaces each field bit by the parity of
// scrambleWidth widely spaced address bits.
func PartitionHomes(
	lineSize uint64,
	numHomes int,
	scrambleWidth int,
	regions []Region,
) (HomePartition, error) {
	lineBits, ok := Log2(lineSize)
	if !ok {
		return HomePartition{}, errs.Config(errs.NonPowerOfTwo,
			"cache line size %d is not a power of two", lineSize)
	}

	if numHomes < 1 {
		return HomePartition{}, errs.Config(errs.Invalid,
			"home node count must be at least 1, got %d", numHomes)
	}

	llcBits, ok := Log2(uint64(numHomes))
	if !ok {
		return HomePartition{}, errs.Config(errs.NonPowerOfTwo,
			"home node count %d is not a power of two", numHomes)
	}

	if err := regionsMustBeValid(regions); err != nil {
		return HomePartition{}, err
	}

	p := HomePartition{
		LineBits:  lineBits,
		IntlvBits: llcBits,
		NumaBit:   lineBits + llcBits - 1,
		Ranges:    make([][]Range, numHomes),
	}

	var masks []uint64
	if scrambleWidth > 1 && llcBits > 0 {
		masks = ScrambleMasks(lineBits, llcBits, scrambleWidth)
	}

	for i := 0; i < numHomes; i++ {
		for _, r := range regions {
			p.Ranges[i] = append(p.Ranges[i], Range{
				Base:         r.Base,
				Size:         r.Size,
				IntlvHighBit: p.NumaBit,
				IntlvBits:    llcBits,
				IntlvMatch:   uint64(i),
				Masks:        cloneMasks(masks),
			})
		}
	}

	return p, nil
}

// ScrambleMasks builds one XOR mask per interleave bit. Mask j ORs together
// width address bits starting at lineBits+j and stepping by intlvBits, and
// never reaches beyond PhysAddrBits.
func ScrambleMasks(lineBits, intlvBits, width int) []uint64 {
	if intlvBits <= 0 {
		return nil
	}

	masks := make([]uint64, intlvBits)
	for j := 0; j < intlvBits; j++ {
		remaining := width
		for k := lineBits; k < PhysAddrBits; k += intlvBits {
			if remaining <= 0 || j+k >= PhysAddrBits {
				break
			}

			masks[j] |= uint64(1) << (j + k)
			remaining--
		}
	}

	return masks
}

// DiePartition is the result of splitting the address space between dies.
type DiePartition struct {
	IntlvBits int
	NumaBit   int
	Ranges    [][]Range
}

// LowBit returns the least significant die selection bit.
func (p DiePartition) LowBit() int {
	return p.NumaBit - p.IntlvBits + 1
}

// PartitionDies splits every region between numDies dies using the top bits
// of a memSize-byte physical address space.
func PartitionDies(
	memSize uint64,
	numDies int,
	regions []Region,
) (DiePartition, error) {
	memBits, ok := Log2(memSize)
	if !ok {
		return DiePartition{}, errs.Config(errs.NonPowerOfTwo,
			"memory size %#x is not a power of two", memSize)
	}

	if numDies < 1 {
		return DiePartition{}, errs.Config(errs.Invalid,
			"die count must be at least 1, got %d", numDies)
	}

	dieBits, ok := Log2(uint64(numDies))
	if !ok {
		return DiePartition{}, errs.Config(errs.NonPowerOfTwo,
			"die count %d is not a power of two", numDies)
	}

	if dieBits > memBits {
		return DiePartition{}, errs.Config(errs.Invalid,
			"%d dies cannot split a %#x-byte memory", numDies, memSize)
	}

	if err := regionsMustBeValid(regions); err != nil {
		return DiePartition{}, err
	}

	p := DiePartition{
		IntlvBits: dieBits,
		NumaBit:   memBits - 1,
		Ranges:    make([][]Range, numDies),
	}

	for i := 0; i < numDies; i++ {
		for _, r := range regions {
			p.Ranges[i] = append(p.Ranges[i], Range{
				Base:         r.Base,
				Size:         r.Size,
				IntlvHighBit: p.NumaBit,
				IntlvBits:    dieBits,
				IntlvMatch:   uint64(i),
			})
		}
	}

	return p, nil
}

func regionsMustBeValid(regions []Region) error {
	if len(regions) == 0 {
		return errs.Config(errs.Invalid, "no memory region given")
	}

	for i, r := range regions {
		if r.Size == 0 {
			return errs.Config(errs.Invalid, "memory region %d is empty", i)
		}

		if r.End() < r.Base {
			return errs.Config(errs.Invalid,
				"memory region %d overflows the address space", i)
		}

		for j := 0; j < i; j++ {
			o := regions[j]
			if r.Base < o.End() && o.Base < r.End() {
				return errs.Config(errs.Invalid,
					"memory regions %d and %d overlap", j, i)
			}
		}
	}

	return nil
}

func cloneMasks(masks []uint64) []uint64 {
	if masks == nil {
		return nil
	}

	c := make([]uint64, len(masks))
	copy(c, masks)

	return c
}
