package topology

import (
	"fmt"

	"github.com/sarchlab/chifabric/addr"
	"github.com/sarchlab/chifabric/catalog"
)

// Channel queues of every controller. The numbering of the virtual networks
// is request, snoop, response, data.
var channelQueues = []string{
	"reqIn", "snpIn", "rspIn", "datIn",
	"reqOut", "snpOut", "rspOut", "datOut",
}

var bridgeQueues = []string{
	"d2dnode_reqIn", "d2dnode_snpIn", "d2dnode_rspIn", "d2dnode_datIn",
	"d2dnode_reqOut", "d2dnode_snpOut", "d2dnode_rspOut", "d2dnode_datOut",
}

const (
	l1TBE        = 32
	miscTBE      = 16
	miscReplTBE  = 1
	miscNodeSize = 1024
)

// buildDie creates the local node set of one die and wires it. It touches
// nothing outside the returned die.
func (b Builder) buildDie(p plan, d int) (*catalog.Die, error) {
	die := catalog.NewDie(d)
	die.Ranges = p.dies.Ranges[d]

	steps := []func(plan, *catalog.Die) error{
		b.buildRequestNodes,
		b.buildHomeNodes,
		b.buildHomeAgent,
		b.buildMemoryNodes,
		b.buildMiscNode,
	}

	for _, step := range steps {
		if err := step(p, die); err != nil {
			return nil, err
		}
	}

	b.wireLocal(die)

	return die, nil
}

func (b Builder) newNode(
	p plan,
	die *catalog.Die,
	role catalog.Role,
	index int,
) (*catalog.Node, error) {
	local, err := p.placement.Router(role, die.ID, index)
	if err != nil {
		return nil, err
	}

	id := catalog.NodeID{Die: die.ID, Role: role, Index: index}

	return catalog.NewNode(id, die.ID*b.NumRouters()+local), nil
}

func (b Builder) addChannels(c *catalog.Controller) {
	for _, name := range channelQueues {
		c.AddQueue(catalog.Queue{
			Name:           name,
			Capacity:       b.bufferDepth,
			MaxDequeueRate: b.bufferDeqRate,
		})
	}
}

func addReadyQueue(c *catalog.Controller) {
	c.AddQueue(catalog.Queue{Name: "reqRdy"})
}

func (b Builder) buildRequestNodes(p plan, die *catalog.Die) error {
	for c := 0; c < b.coresPerDie; c++ {
		n, err := b.newNode(p, die, catalog.RequestCache, c)
		if err != nil {
			return err
		}

		core := die.ID*b.coresPerDie + c
		levels := []catalog.CacheLevel{catalog.L1I, catalog.L1D}
		if b.privateL2 {
			levels = append(levels, catalog.L2)
		}

		for _, level := range levels {
			ctrl := catalog.NewController(
				catalog.BuildName(n.Name(), level.String()),
				fmt.Sprintf("system.cpu%d.%s", core, pathSuffix(level)),
				catalog.CacheInfo{Core: core, Level: level},
			)

			pool := l1TBE
			if level == catalog.L2 || !b.privateL2 {
				pool = b.rnfTBE
			}

			ctrl.RequestPoolSize = pool
			ctrl.ReplacementPoolSize = pool
			b.addChannels(ctrl)
			n.AddController(ctrl)
		}

		die.RequestNodes = append(die.RequestNodes, n)
	}

	return nil
}

func pathSuffix(level catalog.CacheLevel) string {
	switch level {
	case catalog.L1I:
		return "l1i"
	case catalog.L1D:
		return "l1d"
	default:
		return "l2"
	}
}

func (b Builder) buildHomeNodes(p plan, die *catalog.Die) error {
	for i := 0; i < b.homesPerDie; i++ {
		n, err := b.newNode(p, die, catalog.HomeDirectory, i)
		if err != nil {
			return err
		}

		global := die.ID*b.homesPerDie + i
		ctrl := catalog.NewController(
			catalog.BuildName(n.Name(), "Cntrl"),
			fmt.Sprintf("system.ruby.hnfs%d.cntrl", global),
			catalog.HomeInfo{Index: global},
		)
		ctrl.OwnedRanges = cloneRanges(p.homes.Ranges[global])
		ctrl.RequestPoolSize = p.homePools.Req
		ctrl.ReplacementPoolSize = p.homePools.Repl
		ctrl.UnifiedPools = p.homePools.Unified
		b.addChannels(ctrl)
		addReadyQueue(ctrl)
		n.AddController(ctrl)

		die.HomeNodes = append(die.HomeNodes, n)
	}

	return nil
}

func (b Builder) buildHomeAgent(p plan, die *catalog.Die) error {
	n, err := b.newNode(p, die, catalog.HomeAgent, 0)
	if err != nil {
		return err
	}

	ctrl := catalog.NewController(
		catalog.BuildName(n.Name(), "Cntrl"),
		fmt.Sprintf("system.ruby.hAs%d.cntrl", die.ID),
		catalog.AgentInfo{},
	)
	ctrl.OwnedRanges = cloneRanges(die.Ranges)
	ctrl.RequestPoolSize = p.homePools.Req
	ctrl.ReplacementPoolSize = p.homePools.Repl
	ctrl.UnifiedPools = p.homePools.Unified
	b.addChannels(ctrl)
	addReadyQueue(ctrl)
	n.AddController(ctrl)

	die.HomeAgent = n

	return nil
}

func (b Builder) buildMemoryNodes(p plan, die *catalog.Die) error {
	for j := 0; j < b.memoriesPerDie; j++ {
		n, err := b.newNode(p, die, catalog.MemoryFront, j)
		if err != nil {
			return err
		}

		global := die.ID*b.memoriesPerDie + j
		ctrl := catalog.NewController(
			catalog.BuildName(n.Name(), "Cntrl"),
			fmt.Sprintf("system.ruby.snfs%d.cntrl", global),
			catalog.MemoryInfo{Index: global},
		)
		ctrl.OwnedRanges = cloneRanges(die.Ranges)
		ctrl.RequestPoolSize = b.snfTBE
		ctrl.ReplacementPoolSize = b.snfTBE
		b.addChannels(ctrl)
		addReadyQueue(ctrl)
		n.AddController(ctrl)

		die.MemoryNodes = append(die.MemoryNodes, n)
	}

	return nil
}

func (b Builder) buildMiscNode(p plan, die *catalog.Die) error {
	if !b.miscNode {
		return nil
	}

	n, err := b.newNode(p, die, catalog.Misc, 0)
	if err != nil {
		return err
	}

	ctrl := catalog.NewController(
		catalog.BuildName(n.Name(), "Cntrl"),
		fmt.Sprintf("system.ruby.mns%d.cntrl", die.ID),
		catalog.MiscInfo{},
	)
	ctrl.OwnedRanges = []addr.Range{{Base: 0, Size: miscNodeSize}}
	ctrl.RequestPoolSize = miscTBE
	ctrl.ReplacementPoolSize = miscReplTBE
	b.addChannels(ctrl)
	n.AddController(ctrl)

	die.MiscNode = n

	return nil
}

// wireLocal connects the destinations that stay within the die.
func (b Builder) wireLocal(die *catalog.Die) {
	homes := die.Controllers(catalog.HomeDirectory)
	memories := die.Controllers(catalog.MemoryFront)
	agent := die.HomeAgent.Controllers[0]

	var l1Ds []*catalog.Controller

	for _, n := range die.RequestNodes {
		l2, hasL2 := n.Controller(catalog.L2.String())

		for _, ctrl := range n.Controllers {
			info := ctrl.Variant.(catalog.CacheInfo)
			if info.Level == catalog.L1D {
				l1Ds = append(l1Ds, ctrl)
			}

			if hasL2 && info.Level != catalog.L2 {
				ctrl.AddDownstream(l2)
				continue
			}

			ctrl.AddDownstream(homes...)
		}
	}

	for _, h := range homes {
		h.AddDownstream(agent)
	}

	agent.AddDownstream(memories...)

	if die.MiscNode != nil {
		die.MiscNode.Controllers[0].AddDownstream(l1Ds...)
	}
}

func cloneRanges(ranges []addr.Range) []addr.Range {
	c := make([]addr.Range, len(ranges))
	for i, r := range ranges {
		c[i] = r
		if r.Masks != nil {
			c[i].Masks = append([]uint64(nil), r.Masks...)
		}
	}

	return c
}
