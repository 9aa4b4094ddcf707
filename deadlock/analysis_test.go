package deadlock_test

import (
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/chifabric/deadlock"
	"github.com/sarchlab/chifabric/errs"
	"github.com/sarchlab/chifabric/fabric"
	"github.com/sarchlab/chifabric/topology"
	"github.com/sarchlab/chifabric/waitfor"
)

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

func analyze(trace string) (deadlock.Report, error) {
	f, err := fabric.Decode(strings.NewReader(ringFabric))
	Expect(err).NotTo(HaveOccurred())

	ports, err := fabric.ParsePortMap(strings.NewReader(ringPortLog), "sw.log", f)
	Expect(err).NotTo(HaveOccurred())

	s, err := waitfor.MakeReader().Read(strings.NewReader(trace), "debug.trace")
	if err != nil {
		return deadlock.Report{}, err
	}

	g, err := waitfor.MakeBuilder().WithFabric(f).WithPortMap(ports).Build(s)
	if err != nil {
		return deadlock.Report{}, err
	}

	return deadlock.MakeDetector().Detect(g), nil
}

var _ = Describe("Trace analysis", func() {
	It("should find a ring of blocked routers", func() {
		rep, err := analyze(`1: PerfectSwitch-0: VNET_0 Incoming_0 Outgoing_0 Msg_[addr: 0x40|ReadShared|Cache-3-->4,|0] blocked
1: PerfectSwitch-1: VNET_0 Incoming_0 Outgoing_0 Msg_[addr: 0x80|ReadShared|Cache-4-->5,|0] blocked
1: PerfectSwitch-2: VNET_0 Incoming_0 Outgoing_0 Msg_[addr: 0xc0|ReadShared|Cache-5-->3,|0] blocked
`)
		Expect(err).NotTo(HaveOccurred())

		Expect(rep.Deadlocked).To(BeTrue())
		Expect(names(rep)).To(Equal([]string{
			"R0.I0", "R0.O0", "i0", "R1.I0", "R1.O0", "i1", "R2.I0", "R2.O0", "i2",
		}))
	})

	It("should see no deadlock when one router drains to a controller", func() {
		rep, err := analyze(`1: PerfectSwitch-0: VNET_0 Incoming_0 Outgoing_0 Msg_[addr: 0x40|ReadShared|Cache-3-->4,|0] blocked
1: PerfectSwitch-1: VNET_0 Incoming_0 Outgoing_0 Msg_[addr: 0x80|ReadShared|Cache-4-->5,|0] blocked
1: PerfectSwitch-2: VNET_0 Incoming_0 Outgoing_1 Msg_[addr: 0xc0|ReadShared|Cache-5-->3,|0] blocked
`)
		Expect(err).NotTo(HaveOccurred())
		Expect(rep.Deadlocked).To(BeFalse())
	})

	It("should close the ring through a stalled controller", func() {
		rep, err := analyze(`1: PerfectSwitch-0: VNET_0 Incoming_1 Outgoing_0 Msg_[addr: 0x40|ReadShared|Cache-3-->4,|0] blocked
1: PerfectSwitch-1: VNET_0 Incoming_0 Outgoing_0 Msg_[addr: 0x80|ReadShared|Cache-4-->5,|0] blocked
1: PerfectSwitch-2: VNET_0 Incoming_0 Outgoing_1 Msg_[addr: 0xc0|ReadShared|Cache-5-->3,|0] blocked
1: system.ruby.hnfs0.cntrl: addr: 0xc0, Resource Stall (is:BUSY_BLKD,e:AllocRequest,fs:BUSY_BLKD)
`)
		Expect(err).NotTo(HaveOccurred())

		Expect(rep.Deadlocked).To(BeTrue())
		Expect(names(rep)).To(Equal([]string{
			"R0.I1", "R0.O0", "i0", "R1.I0", "R1.O0", "i1", "R2.I0", "R2.O1",
			"system.ruby.hnfs0.cntrl.reqIn",
			"system.ruby.hnfs0.cntrl",
			"system.ruby.hnfs0.cntrl.reqOut",
		}))
		Expect(rep.Cycle[9].Kind).To(Equal(waitfor.ControllerQueue))
		Expect(rep.Cycle[9].Message.Placeholder()).To(BeTrue())
	})

	It("should not close the ring through a stall unrelated to allocation", func() {
		rep, err := analyze(`1: PerfectSwitch-0: VNET_0 Incoming_1 Outgoing_0 Msg_[addr: 0x40|ReadShared|Cache-3-->4,|0] blocked
1: PerfectSwitch-1: VNET_0 Incoming_0 Outgoing_0 Msg_[addr: 0x80|ReadShared|Cache-4-->5,|0] blocked
1: PerfectSwitch-2: VNET_0 Incoming_0 Outgoing_1 Msg_[addr: 0xc0|ReadShared|Cache-5-->3,|0] blocked
1: system.ruby.hnfs0.cntrl: addr: 0xc0, Resource Stall (is:BUSY_BLKD,e:SendSnpResp,fs:BUSY_BLKD)
`)
		Expect(err).NotTo(HaveOccurred())
		Expect(rep.Deadlocked).To(BeFalse())
	})

	It("should report no deadlock for an empty trace", func() {
		rep, err := analyze("")
		Expect(err).NotTo(HaveOccurred())
		Expect(rep.Deadlocked).To(BeFalse())
	})

	It("should fail on a block line without address", func() {
		_, err := analyze("1: PerfectSwitch-0: VNET_0 Incoming_0 Outgoing_0 Msg_[addr: |ReadShared|Cache-3-->4,|0] blocked\n")
		Expect(errs.IsParse(err)).To(BeTrue())
	})

	It("should fail on a port the map does not know", func() {
		_, err := analyze("1: PerfectSwitch-1: VNET_0 Incoming_5 Outgoing_0 Msg_[addr: 0x40|ReadShared|Cache-3-->4,|0] blocked\n")
		Expect(errs.IsMismatch(err)).To(BeTrue())
	})
})

var _ = Describe("Synthesized fabric", func() {
	It("should find a deadlock between a home node and its router", func() {
		cat, err := topology.MakeBuilder().WithMesh(1, 2).Build()
		Expect(err).NotTo(HaveOccurred())

		gen, err := fabric.FromCatalog(cat, fabric.Mesh{Rows: 1, Cols: 2}, 4)
		Expect(err).NotTo(HaveOccurred())

		ports, err := gen.PortMap()
		Expect(err).NotTo(HaveOccurred())
		Expect(ports.Validate(gen.Fabric)).To(Succeed())

		hnf := cat.Dies[0].HomeNodes[0]
		ctrl := hnf.Controllers[0]

		in, out := -1, -1
		for k, link := range ports.In {
			if k.Router == hnf.Router && link == ctrl.Path+".reqOut" {
				in = k.Port
			}
		}

		for o := 0; o < 8; o++ {
			buf, err := gen.Fabric.OutportBuffer(hnf.Router, o, 0, 4)
			Expect(err).NotTo(HaveOccurred())

			if ports.Out[fabric.Outport{Router: hnf.Router, Buffer: buf}] == ctrl.Path+".reqIn" {
				out = o
			}
		}

		Expect(in).To(BeNumerically(">=", 0))
		Expect(out).To(BeNumerically(">=", 0))

		trace := fmt.Sprintf("1: PerfectSwitch-%d: VNET_0 Incoming_%d Outgoing_%d "+
			"Msg_[addr: 0x40|ReadShared|Cache-0-->1,|0] blocked\n", hnf.Router, in, out) +
			"2: " + ctrl.Path + ": addr: 0x40, Resource Stall (is:BUSY_BLKD,e:AllocRequest,fs:BUSY_BLKD)\n"

		s, err := waitfor.MakeReader().Read(strings.NewReader(trace), "debug.trace")
		Expect(err).NotTo(HaveOccurred())

		g, err := waitfor.MakeBuilder().
			WithFabric(gen.Fabric).
			WithPortMap(ports).
			WithCatalog(cat).
			Build(s)
		Expect(err).NotTo(HaveOccurred())

		rep := deadlock.MakeDetector().Detect(g)
		Expect(rep.Deadlocked).To(BeTrue())
		Expect(rep.Cycle).To(HaveLen(5))
		Expect(names(rep)).To(ContainElement(ctrl.Path))
	})
})
