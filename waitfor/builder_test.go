package waitfor

import (
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/chifabric/catalog"
	"github.com/sarchlab/chifabric/errs"
	"github.com/sarchlab/chifabric/fabric"
)

// ringFabric connects three routers in a ring. Router 2 also feeds the
// home node attached to it.
const ringFabric = `{"system": {"ruby": {"network": {
  "routers": [
    "system.ruby.network.routers0",
    "system.ruby.network.routers1",
    "system.ruby.network.routers2"
  ],
  "int_links": [
    {"name": "int_links0", "path": "system.ruby.network.int_links0",
     "src_node": "system.ruby.network.routers0", "dst_node": "system.ruby.network.routers1"},
    {"name": "int_links1", "path": "system.ruby.network.int_links1",
     "src_node": "system.ruby.network.routers1", "dst_node": "system.ruby.network.routers2"},
    {"name": "int_links2", "path": "system.ruby.network.int_links2",
     "src_node": "system.ruby.network.routers2", "dst_node": "system.ruby.network.routers0"}
  ],
  "ext_links": [
    {"name": "ext_links0", "path": "system.ruby.network.ext_links0",
     "int_node": "system.ruby.network.routers2", "ext_node": "system.ruby.hnfs0.cntrl"}
  ]
}}}}`

const ringPortLog = `Switch_PerfectSwitch-0 Inport_0: Link system.ruby.network.int_links2
Switch_PerfectSwitch-0 Inport_1: Link system.ruby.hnfs0.cntrl.reqOut
Switch_PerfectSwitch-1 Inport_0: Link system.ruby.network.int_links0
Switch_PerfectSwitch-2 Inport_0: Link system.ruby.network.int_links1
Switch_system.ruby.network.routers0 OutPortBuffer system.ruby.network.routers0.port_buffers00 Link system.ruby.network.int_links0
Switch_system.ruby.network.routers1 OutPortBuffer system.ruby.network.routers1.port_buffers00 Link system.ruby.network.int_links1
Switch_system.ruby.network.routers2 OutPortBuffer system.ruby.network.routers2.port_buffers00 Link system.ruby.network.int_links2
Switch_system.ruby.network.routers2 OutPortBuffer system.ruby.network.routers2.port_buffers04 Link system.ruby.hnfs0.cntrl.reqIn
`

// ringTrace blocks a message at the inport of every router of the ring.
const ringTrace = `500: PerfectSwitch-0: VNET_0 Incoming_0 Outgoing_0 Msg_[addr: 0x40|ReadShared|Cache-3-->4,|0] blocked
500: PerfectSwitch-1: VNET_0 Incoming_0 Outgoing_0 Msg_[addr: 0x80|ReadShared|Cache-4-->5,|0] blocked
500: PerfectSwitch-2: VNET_0 Incoming_0 Outgoing_0 Msg_[addr: 0xc0|ReadShared|Cache-5-->3,|0] blocked
500: system.ruby.network.routers0.port_buffers00: MessageBufferContents: [addr: 0x100|WriteBackFull|Cache-3-->4,|0]
500: system.ruby.network.int_links0: MessageBufferContents: [addr: 0x80|ReadShared|Cache-4-->5,|0]
`

func ringSetup() (*fabric.Fabric, *fabric.PortMap) {
	f, err := fabric.Decode(strings.NewReader(ringFabric))
	Expect(err).NotTo(HaveOccurred())

	m, err := fabric.ParsePortMap(strings.NewReader(ringPortLog), "sw.log", f)
	Expect(err).NotTo(HaveOccurred())
	Expect(m.Validate(f)).To(Succeed())

	return f, m
}

func buildRing(b Builder, trace string) (*Graph, error) {
	s, err := MakeReader().Read(strings.NewReader(trace), "debug.trace")
	Expect(err).NotTo(HaveOccurred())

	return b.Build(s)
}

var _ = Describe("Builder", func() {
	var (
		mockCtrl *gomock.Controller
		f        *fabric.Fabric
		ports    *fabric.PortMap
		b        Builder
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		f, ports = ringSetup()
		b = MakeBuilder().WithFabric(f).WithPortMap(ports)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should chain links and router ports", func() {
		g, err := buildRing(b, ringTrace)
		Expect(err).NotTo(HaveOccurred())

		Expect(g.NumNodes()).To(Equal(9))
		Expect(g.NumEdges()).To(Equal(9))

		Expect(g.Successors("i2")).To(Equal([]string{"R0.I0"}))
		Expect(g.Successors("R0.I0")).To(Equal([]string{"R0.O0"}))
		Expect(g.Successors("R0.O0")).To(Equal([]string{"i0"}))
		Expect(g.HasEdge("i0", "R1.I0")).To(BeTrue())
		Expect(g.HasEdge("R2.O0", "i2")).To(BeTrue())

		r, ok := g.Node("R0.I0")
		Expect(ok).To(BeTrue())
		Expect(r.Kind).To(Equal(RouterPort))
		Expect(r.Occupant.Address).To(Equal(uint64(0x40)))

		r, _ = g.Node("R0.O0")
		Expect(r.Occupant.Opcode).To(Equal("WriteBackFull"))

		r, _ = g.Node("i0")
		Expect(r.Kind).To(Equal(LinkBuffer))
		Expect(r.Occupant.Address).To(Equal(uint64(0x80)))

		Expect(g.Unresolved()).To(Equal([]string{"R1.O0", "R2.O0"}))
	})

	It("should name each node once however many blocks refer to it", func() {
		trace := ringTrace +
			"600: PerfectSwitch-0: VNET_0 Incoming_0 Outgoing_0 Msg_[addr: 0x40|ReadShared|Cache-3-->4,|0] blocked\n"

		g, err := buildRing(b, trace)
		Expect(err).NotTo(HaveOccurred())
		Expect(g.NumNodes()).To(Equal(9))
		Expect(g.NumEdges()).To(Equal(9))
	})

	It("should chain the queues of stalled controllers", func() {
		trace := `700: PerfectSwitch-2: VNET_0 Incoming_0 Outgoing_1 Msg_[addr: 0xc0|ReadShared|Cache-5-->3,|0] blocked
700: system.ruby.hnfs0.cntrl: addr: 0xc0, Resource Stall (is:BUSY_BLKD,e:AllocRequest,fs:BUSY_BLKD)
700: system.ruby.hnfs0.cntrl.reqIn: MessageBufferContents: [addr: 0xc0|ReadShared|Cache-5-->3,|0]
`
		hnf := catalog.NewController("Die[0].HNF[0].Cntrl", "system.ruby.hnfs0.cntrl",
			catalog.HomeInfo{Index: 0})
		cat := NewMockControllerCatalog(mockCtrl)
		cat.EXPECT().
			ControllerByPath("system.ruby.hnfs0.cntrl").
			Return(hnf, true)

		g, err := buildRing(b.WithCatalog(cat), trace)
		Expect(err).NotTo(HaveOccurred())

		Expect(g.HasEdge("R2.O1", "system.ruby.hnfs0.cntrl.reqIn")).To(BeTrue())
		Expect(g.HasEdge("system.ruby.hnfs0.cntrl.reqIn", "system.ruby.hnfs0.cntrl")).
			To(BeTrue())
		Expect(g.HasEdge("system.ruby.hnfs0.cntrl", "system.ruby.hnfs0.cntrl.reqOut")).
			To(BeTrue())

		r, _ := g.Node("system.ruby.hnfs0.cntrl")
		Expect(r.Kind).To(Equal(ControllerQueue))
		Expect(r.Occupant.Placeholder()).To(BeTrue())
		Expect(r.Occupant.Address).To(Equal(uint64(0xc0)))

		r, _ = g.Node("system.ruby.hnfs0.cntrl.reqIn")
		Expect(r.Occupant.Opcode).To(Equal("ReadShared"))
		Expect(r.Outport).To(Equal(-1))

		r, _ = g.Node("R2.I0")
		Expect(r.Inport).To(Equal(0))
		Expect(r.Outport).To(Equal(1))
	})

	It("should reject controllers the catalog does not know", func() {
		trace := "700: system.ruby.hnfs9.cntrl: addr: 0xc0, Resource Stall (is:I,e:AllocRequest,fs:I)\n"

		cat := NewMockControllerCatalog(mockCtrl)
		cat.EXPECT().
			ControllerByPath("system.ruby.hnfs9.cntrl").
			Return(nil, false)

		_, err := buildRing(b.WithCatalog(cat), trace)
		Expect(errs.IsMismatch(err)).To(BeTrue())
	})

	It("should reject blocks at unmapped inports", func() {
		trace := "500: PerfectSwitch-1: VNET_0 Incoming_3 Outgoing_0 Msg_[addr: 0x40|ReadShared|Cache-3-->4,|0] blocked\n"

		_, err := buildRing(b, trace)

		var merr *errs.TopologyTraceMismatchError
		Expect(errors.As(err, &merr)).To(BeTrue())
		Expect(merr.Router).To(Equal(1))
		Expect(merr.Port).To(Equal("in3"))
	})

	It("should reject blocks at unmapped outports", func() {
		trace := "500: PerfectSwitch-1: VNET_1 Incoming_0 Outgoing_0 Msg_[addr: 0x40|ReadShared|Cache-3-->4,|0] blocked\n"

		_, err := buildRing(b, trace)

		var merr *errs.TopologyTraceMismatchError
		Expect(errors.As(err, &merr)).To(BeTrue())
		Expect(merr.Port).To(Equal("system.ruby.network.routers1.port_buffers01"))
	})

	It("should reject blocks at unknown routers", func() {
		trace := "500: PerfectSwitch-7: VNET_0 Incoming_0 Outgoing_0 Msg_[addr: 0x40|ReadShared|Cache-3-->4,|0] blocked\n"

		_, err := buildRing(b, trace)
		Expect(errs.IsMismatch(err)).To(BeTrue())
	})

	It("should reject virtual networks beyond the configured count", func() {
		trace := "500: PerfectSwitch-0: VNET_2 Incoming_0 Outgoing_0 Msg_[addr: 0x40|ReadShared|Cache-3-->4,|0] blocked\n"

		_, err := buildRing(b.WithVnets(2), trace)
		Expect(errs.IsMismatch(err)).To(BeTrue())
	})

	It("should build an empty graph from an empty trace", func() {
		g, err := buildRing(b, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(g.NumNodes()).To(BeZero())
	})

	It("should refuse to build without a fabric", func() {
		s, _ := MakeReader().Read(strings.NewReader(""), "empty")
		Expect(func() { _, _ = MakeBuilder().Build(s) }).To(Panic())
	})
})

var _ = Describe("Graph", func() {
	It("should keep the first known occupant", func() {
		g := NewGraph()
		g.AddNode("a", LinkBuffer, nil)
		Expect(g.Unresolved()).To(Equal([]string{"a"}))

		g.AddNode("a", LinkBuffer, &Message{Address: 1, Opcode: "X"})
		g.AddNode("a", LinkBuffer, &Message{Address: 2, Opcode: "Y"})

		r, _ := g.Node("a")
		Expect(r.Occupant.Address).To(Equal(uint64(1)))
		Expect(g.Unresolved()).To(BeEmpty())
	})

	It("should store repeated edges once", func() {
		g := NewGraph()
		g.AddNode("a", LinkBuffer, nil)
		g.AddNode("b", RouterPort, nil)
		g.AddEdge("a", "b")
		g.AddEdge("a", "b")

		Expect(g.NumEdges()).To(Equal(1))
		Expect(g.Successors("a")).To(Equal([]string{"b"}))
		Expect(g.Successors("b")).To(BeEmpty())
	})

	It("should panic on edges between unknown resources", func() {
		g := NewGraph()
		g.AddNode("a", LinkBuffer, nil)
		Expect(func() { g.AddEdge("a", "b") }).To(Panic())
	})

	It("should name kinds", func() {
		Expect(ControllerQueue.String()).To(Equal("ControllerQueue"))
		text, err := RouterPort.MarshalText()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(text)).To(Equal("RouterPort"))
	})
})
