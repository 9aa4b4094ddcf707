package addr

// OwnerMapper finds which of a set of owners holds a given address.
type OwnerMapper interface {
	Find(address uint64) (owner int, found bool)
}

// RangeMapper finds the owner by testing the ranges each owner holds.
type RangeMapper struct {
	Owners [][]Range
}

// NewRangeMapper creates a mapper over the ranges of each owner.
func NewRangeMapper(owners [][]Range) *RangeMapper {
	return &RangeMapper{Owners: owners}
}

// Find returns the first owner that holds the address.
func (m *RangeMapper) Find(address uint64) (int, bool) {
	for i, ranges := range m.Owners {
		for _, r := range ranges {
			if r.Contains(address) {
				return i, true
			}
		}
	}

	return -1, false
}

// InterleavedMapper finds the owner of plain power-of-two stripes without
// scanning the ranges.
type InterleavedMapper struct {
	UseAddressSpaceLimitation bool
	LowAddress                uint64
	HighAddress               uint64
	InterleavingSize          uint64
	NumOwners                 int
}

// NewInterleavedMapper creates a mapper for stripes of interleavingSize bytes.
func NewInterleavedMapper(
	interleavingSize uint64,
	numOwners int,
) *InterleavedMapper {
	return &InterleavedMapper{
		InterleavingSize: interleavingSize,
		NumOwners:        numOwners,
	}
}

// Find returns the owner of the stripe the address falls in.
func (m *InterleavedMapper) Find(address uint64) (int, bool) {
	if m.UseAddressSpaceLimitation &&
		(address >= m.HighAddress || address < m.LowAddress) {
		return -1, false
	}

	number := address / m.InterleavingSize % uint64(m.NumOwners)

	return int(number), true
}

// MapperFor returns the cheapest mapper that agrees with the given
// partition.
func MapperFor(owners [][]Range) OwnerMapper {
	if len(owners) > 1 && len(owners[0]) == 1 &&
		owners[0][0].Interleaved() && !owners[0][0].Scrambled() {
		r := owners[0][0]
		lowBit := r.IntlvHighBit - r.IntlvBits + 1

		return &InterleavedMapper{
			UseAddressSpaceLimitation: true,
			LowAddress:                r.Base,
			HighAddress:               r.End(),
			InterleavingSize:          uint64(1) << lowBit,
			NumOwners:                 len(owners),
		}
	}

	return NewRangeMapper(owners)
}
