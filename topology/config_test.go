package topology

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/chifabric/catalog"
	"github.com/sarchlab/chifabric/errs"
)

const twoDieConfig = `
dies: 2
cores_per_die: 4
homes_per_die: 2
memories_per_die: 2
scramble_width: 2
hnf_tbe: 16
tbe_ratio: 3-1
misc_node: true
regions:
  - base: 0
    size: 0x10000000
placement:
  HNF:
    -1: [0, 1]
    1: [2]
bridges:
  - [0, 1]
  - [1, 0]
`

var _ = Describe("Config", func() {
	It("should keep defaults for absent fields", func() {
		cfg, err := ParseConfig([]byte("dies: 2\n"))
		Expect(err).NotTo(HaveOccurred())

		def := DefaultConfig()
		def.Dies = 2
		Expect(cfg).To(Equal(def))
	})

	It("should reject malformed documents", func() {
		_, err := ParseConfig([]byte("dies: [1"))
		Expect(errs.IsConfiguration(err)).To(BeTrue())
	})

	It("should load a file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "cfg.yaml")
		Expect(os.WriteFile(path, []byte(twoDieConfig), 0o644)).To(Succeed())

		cfg, err := LoadConfig(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.CoresPerDie).To(Equal(4))
		Expect(cfg.Regions[0].Size).To(Equal(uint64(0x10000000)))
		Expect(cfg.Bridges).To(Equal([][2]int{{0, 1}, {1, 0}}))
		Expect(cfg.PrivateL2).To(BeTrue())
	})

	It("should fail on a missing file", func() {
		_, err := LoadConfig(filepath.Join(GinkgoT().TempDir(), "none.yaml"))
		Expect(err).To(HaveOccurred())
	})

	It("should build the configured topology", func() {
		cfg, err := ParseConfig([]byte(twoDieConfig))
		Expect(err).NotTo(HaveOccurred())

		b, err := cfg.Builder()
		Expect(err).NotTo(HaveOccurred())

		cat, err := b.Build()
		Expect(err).NotTo(HaveOccurred())

		Expect(cat.Dies).To(HaveLen(2))
		Expect(cat.Dies[0].RequestNodes).To(HaveLen(4))
		Expect(cat.Dies[1].MemoryNodes).To(HaveLen(2))
		Expect(cat.Dies[0].MiscNode).NotTo(BeNil())

		h := cat.Dies[0].HomeNodes[0].Controllers[0]
		Expect(h.RequestPoolSize).To(Equal(12))
		Expect(h.ReplacementPoolSize).To(Equal(4))
		Expect(h.OwnedRanges[0].Scrambled()).To(BeTrue())

		Expect(cat.Dies[0].HomeNodes[1].Router).To(Equal(1))
		Expect(cat.Dies[1].HomeNodes[0].Router).To(Equal(16 + 2))
		Expect(cat.Dies[1].HomeNodes[1].Router).To(Equal(16 + 2))
	})

	It("should reject unknown roles in the placement", func() {
		cfg := DefaultConfig()
		cfg.Placement = map[string]map[int][]int{"LLC": {AnyDie: {0}}}

		_, err := cfg.Builder()
		Expect(errs.IsConfiguration(err)).To(BeTrue())
	})

	It("should fall back to the default placement for other dies", func() {
		cfg := DefaultConfig()
		cfg.Dies = 2
		cfg.Placement = map[string]map[int][]int{"HA": {1: {9}}}

		b, err := cfg.Builder()
		Expect(err).NotTo(HaveOccurred())

		cat, err := b.Build()
		Expect(err).NotTo(HaveOccurred())

		Expect(cat.Dies[0].HomeAgent.Router).To(Equal(5))
		Expect(cat.Dies[1].HomeAgent.Router).To(Equal(16 + 9))
	})
})

var _ = Describe("Placement", func() {
	It("should assign routers round-robin", func() {
		p := Placement{catalog.RequestCache: {AnyDie: {4, 8}}}

		for k, want := range []int{4, 8, 4, 8} {
			r, err := p.Router(catalog.RequestCache, 3, k)
			Expect(err).NotTo(HaveOccurred())
			Expect(r).To(Equal(want))
		}
	})

	It("should prefer the die specific list", func() {
		p := Placement{catalog.Misc: {AnyDie: {1}, 2: {6}}}

		r, _ := p.Router(catalog.Misc, 2, 0)
		Expect(r).To(Equal(6))
		r, _ = p.Router(catalog.Misc, 0, 0)
		Expect(r).To(Equal(1))
	})

	It("should fail for unplaced roles", func() {
		_, err := Placement{}.Router(catalog.HomeAgent, 0, 0)
		Expect(errs.IsConfiguration(err)).To(BeTrue())
	})

	It("should fold fixed routers into small meshes", func() {
		p := DefaultPlacement(4)
		Expect(p[catalog.DieBridge][AnyDie]).To(Equal([]int{3, 2}))
		Expect(p[catalog.HomeAgent][AnyDie]).To(Equal([]int{1}))
	})
})
