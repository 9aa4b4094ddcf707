package fabric

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/chifabric/catalog"
	"github.com/sarchlab/chifabric/errs"
	"github.com/sarchlab/chifabric/topology"
)

var _ = Describe("FromCatalog", func() {
	var (
		cat *catalog.Catalog
		gen *Generated
	)

	BeforeEach(func() {
		var err error
		cat, err = topology.MakeBuilder().
			WithNumDies(2).
			WithCoresPerDie(2).
			WithHomesPerDie(2).
			WithMesh(2, 2).
			Build()
		Expect(err).NotTo(HaveOccurred())

		gen, err = FromCatalog(cat, Mesh{Rows: 2, Cols: 2}, 4)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should lay out a mesh per die", func() {
		Expect(gen.Fabric.Routers).To(HaveLen(8))
		Expect(gen.Fabric.IntLinks).To(HaveLen(16))

		for _, l := range gen.Fabric.IntLinks {
			src, _ := gen.Fabric.RouterByPath(l.Src)
			dst, _ := gen.Fabric.RouterByPath(l.Dst)
			Expect(src / 4).To(Equal(dst / 4))
		}
	})

	It("should attach every network-side controller", func() {
		var want int
		for _, n := range cat.Nodes() {
			want += len(n.NetworkSide())
		}

		Expect(gen.Fabric.ExtLinks).To(HaveLen(want))

		l, ok := gen.Fabric.ExtLinkOf("system.cpu3.l2")
		Expect(ok).To(BeTrue())
		node, _ := cat.ControllerByPath("system.cpu3.l2")
		router, _ := gen.Fabric.RouterByPath(l.IntNode)
		Expect(router).To(Equal(node.Node.Router))

		_, ok = gen.Fabric.ExtLinkOf("system.cpu3.l1d")
		Expect(ok).To(BeFalse())
	})

	It("should produce a port log consistent with the fabric", func() {
		m, err := gen.PortMap()
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Validate(gen.Fabric)).To(Succeed())

		Expect(m.In).To(HaveLen(len(gen.Fabric.ExtLinks) +
			len(gen.Fabric.IntLinks)))
		Expect(m.Out).To(HaveLen(4 * (len(gen.Fabric.ExtLinks) +
			len(gen.Fabric.IntLinks))))
	})

	It("should route controller queues through their router", func() {
		m, err := gen.PortMap()
		Expect(err).NotTo(HaveOccurred())

		ha, _ := cat.ControllerByPath("system.ruby.hAs1.cntrl")
		found := false
		for k, link := range m.Out {
			if link == ha.Path+".snpIn" {
				Expect(k.Router).To(Equal(ha.Node.Router))
				found = true
			}
		}

		Expect(found).To(BeTrue())
	})

	It("should write a fabric and a port log that read back", func() {
		var fabricBuf, logBuf bytes.Buffer
		Expect(gen.Fabric.Encode(&fabricBuf)).To(Succeed())
		Expect(gen.WritePortLog(&logBuf)).To(Succeed())

		f, err := Decode(&fabricBuf)
		Expect(err).NotTo(HaveOccurred())

		m, err := ParsePortMap(strings.NewReader(logBuf.String()), "log", f)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Validate(f)).To(Succeed())
	})

	It("should reject an unsupported virtual network count", func() {
		_, err := FromCatalog(cat, Mesh{Rows: 2, Cols: 2}, 5)
		Expect(errs.IsConfiguration(err)).To(BeTrue())
	})

	It("should reject a mesh too small for the placement", func() {
		_, err := FromCatalog(cat, Mesh{Rows: 1, Cols: 1}, 4)
		Expect(errs.IsConfiguration(err)).To(BeTrue())
	})
})
