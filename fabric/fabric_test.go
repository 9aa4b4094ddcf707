package fabric

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/chifabric/errs"
)

const twoRouterFabric = `{
  "system": {
    "ruby": {
      "network": {
        "routers": [
          "system.ruby.network.routers0",
          {"path": "system.ruby.network.routers1", "router_id": 1}
        ],
        "int_links": [
          {"name": "int_links0", "path": "system.ruby.network.int_links0",
           "src_node": "system.ruby.network.routers0",
           "dst_node": "system.ruby.network.routers1"},
          {"name": "int_links1", "path": "system.ruby.network.int_links1",
           "src_node": {"path": "system.ruby.network.routers1"},
           "dst_node": "system.ruby.network.routers0"}
        ],
        "ext_links": [
          {"name": "ext_links0", "path": "system.ruby.network.ext_links0",
           "int_node": "system.ruby.network.routers0",
           "ext_node": "system.ruby.hnfs0.cntrl"},
          {"name": "ext_links1", "path": "system.ruby.network.ext_links1",
           "int_node": "system.ruby.network.routers1",
           "ext_node": {"path": "system.ruby.snfs0.cntrl"}}
        ]
      }
    }
  }
}`

func decodeTwoRouters() *Fabric {
	f, err := Decode(strings.NewReader(twoRouterFabric))
	Expect(err).NotTo(HaveOccurred())

	return f
}

var _ = Describe("Fabric", func() {
	It("should decode routers and links", func() {
		f := decodeTwoRouters()

		Expect(f.Routers).To(HaveLen(2))
		Expect(f.Routers[1]).To(Equal(Router{
			ID: 1, Path: "system.ruby.network.routers1",
		}))
		Expect(f.IntLinks[1].Src).To(Equal("system.ruby.network.routers1"))
		Expect(f.ExtLinks[1].ExtNode).To(Equal("system.ruby.snfs0.cntrl"))

		id, ok := f.RouterByPath("system.ruby.network.routers1")
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal(1))

		l, ok := f.ExtLinkOf("system.ruby.hnfs0.cntrl")
		Expect(ok).To(BeTrue())
		Expect(l.IntNode).To(Equal("system.ruby.network.routers0"))
	})

	It("should round trip through Encode", func() {
		f := decodeTwoRouters()

		var buf bytes.Buffer
		Expect(f.Encode(&buf)).To(Succeed())

		again, err := Decode(&buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Routers).To(Equal(f.Routers))
		Expect(again.IntLinks).To(Equal(f.IntLinks))
		Expect(again.ExtLinks).To(Equal(f.ExtLinks))
	})

	It("should reject links to unknown routers", func() {
		doc := strings.Replace(twoRouterFabric,
			`"dst_node": "system.ruby.network.routers1"`,
			`"dst_node": "system.ruby.network.routers9"`, 1)

		_, err := Decode(strings.NewReader(doc))
		Expect(errs.IsConfiguration(err)).To(BeTrue())
	})

	It("should reject malformed documents", func() {
		_, err := Decode(strings.NewReader(`{"system": [`))
		Expect(errs.IsConfiguration(err)).To(BeTrue())
	})

	It("should alias links", func() {
		f := decodeTwoRouters()

		Expect(f.Alias("system.ruby.network.int_links1", Inbound)).To(Equal("i1"))
		Expect(f.Alias("system.ruby.network.ext_links0", Inbound)).
			To(Equal("e0.up"))
		Expect(f.Alias("system.ruby.network.ext_links0", Outbound)).
			To(Equal("e0.down"))
		Expect(f.Alias("system.ruby.hnfs0.cntrl.reqIn", Outbound)).
			To(Equal("system.ruby.hnfs0.cntrl.reqIn"))
	})

	It("should name outport buffers by virtual network", func() {
		f := decodeTwoRouters()

		b, err := f.OutportBuffer(1, 2, 0, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal("system.ruby.network.routers1.port_buffers08"))

		b, err = f.OutportBuffer(1, 2, 3, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal("system.ruby.network.routers1.port_buffers11"))

		_, err = f.OutportBuffer(5, 0, 0, 4)
		Expect(errs.IsMismatch(err)).To(BeTrue())
	})
})
