package catalog

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Naming", func() {
	It("should parse name", func() {
		name, err := ParseName("Die[0].HNF[3]")
		Expect(err).NotTo(HaveOccurred())
		Expect(name.Tokens[0].ElemName).To(Equal("Die"))
		Expect(name.Tokens[0].Index).To(Equal([]int{0}))
		Expect(name.Tokens[1].ElemName).To(Equal("HNF"))
		Expect(name.Tokens[1].Index).To(Equal([]int{3}))
	})

	It("should reject unpaired brackets", func() {
		_, err := ParseName("Die[0.HNF")
		Expect(err).To(HaveOccurred())

		_, err = ParseName("Die0].HNF")
		Expect(err).To(HaveOccurred())
	})

	It("should reject empty elements", func() {
		_, err := ParseName("Die..HNF")
		Expect(err).To(HaveOccurred())
	})

	It("should reject non-integer indices", func() {
		_, err := ParseName("Die[a]")
		Expect(err).To(HaveOccurred())
	})

	It("should build name", func() {
		Expect(BuildName("", "Die")).To(Equal("Die"))
		Expect(BuildName("Die[0]", "HA")).To(Equal("Die[0].HA"))
		Expect(BuildNameWithIndex("Die[1]", "RNF", 2)).To(Equal("Die[1].RNF[2]"))
	})

	It("should round trip node ids", func() {
		id := NodeID{Die: 2, Role: DieBridge, Index: 3}
		Expect(id.String()).To(Equal("Die[2].D2D[3]"))

		parsed, err := ParseNodeID(id.String())
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed).To(Equal(id))
	})

	It("should reject controller names as node ids", func() {
		_, err := ParseNodeID("Die[0].RNF[0].L1D")
		Expect(err).To(HaveOccurred())
	})

	It("should parse long and short role names", func() {
		r, err := ParseRole("hnf")
		Expect(err).NotTo(HaveOccurred())
		Expect(r).To(Equal(HomeDirectory))

		r, err = ParseRole("MemoryFront")
		Expect(err).NotTo(HaveOccurred())
		Expect(r).To(Equal(MemoryFront))

		_, err = ParseRole("LLC")
		Expect(err).To(HaveOccurred())
	})
})
