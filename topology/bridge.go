package topology

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/chifabric/catalog"
	"github.com/sarchlab/chifabric/errs"
)

// bridgeLinks returns the directed bridges to create, ordered by source and
// then destination die.
func (b Builder) bridgeLinks() ([]BridgeLink, error) {
	if b.bridges == nil {
		var links []BridgeLink
		for src := 0; src < b.numDies; src++ {
			for dst := 0; dst < b.numDies; dst++ {
				if src != dst {
					links = append(links, BridgeLink{Src: src, Dst: dst})
				}
			}
		}

		return links, nil
	}

	seen := make(map[BridgeLink]bool)
	for _, l := range b.bridges {
		if l.Src == l.Dst || l.Src < 0 || l.Dst < 0 ||
			l.Src >= b.numDies || l.Dst >= b.numDies {
			return nil, errs.Config(errs.Invalid,
				"invalid die bridge %d->%d", l.Src, l.Dst)
		}

		if seen[l] {
			return nil, errs.Config(errs.Invalid,
				"die bridge %d->%d is given twice", l.Src, l.Dst)
		}

		seen[l] = true
	}

	var links []BridgeLink
	for src := 0; src < b.numDies; src++ {
		for dst := 0; dst < b.numDies; dst++ {
			if seen[BridgeLink{Src: src, Dst: dst}] {
				links = append(links, BridgeLink{Src: src, Dst: dst})
			}
		}
	}

	return links, nil
}

// connectDies creates the die bridges, wires them and registers the bridge
// pairs. It must only run after every die is complete.
func (b Builder) connectDies(p plan, cat *catalog.Catalog) error {
	links, err := b.bridgeLinks()
	if err != nil {
		return err
	}

	for i, l := range links {
		if err := b.buildBridge(p, cat, l, i); err != nil {
			return err
		}
	}

	for _, die := range cat.Dies {
		agent := die.HomeAgent.Controllers[0]
		bridges := die.Controllers(catalog.DieBridge)

		for _, h := range die.Controllers(catalog.HomeDirectory) {
			h.AddDownstream(bridges...)
		}

		for _, br := range bridges {
			br.AddDownstream(agent)
		}
	}

	return b.pairBridges(cat)
}

func (b Builder) buildBridge(
	p plan,
	cat *catalog.Catalog,
	l BridgeLink,
	global int,
) error {
	die := cat.Dies[l.Src]

	local, err := p.placement.Router(catalog.DieBridge, die.ID, len(die.Bridges))
	if err != nil {
		return err
	}

	id := catalog.NodeID{Die: die.ID, Role: catalog.DieBridge, Index: l.Dst}
	n := catalog.NewNode(id, die.ID*b.NumRouters()+local)

	ctrl := catalog.NewController(
		catalog.BuildName(n.Name(), "Cntrl"),
		fmt.Sprintf("system.ruby.d2dnodes%d.cntrl", global),
		&catalog.BridgeInfo{SrcDie: l.Src, DstDie: l.Dst},
	)
	ctrl.OwnedRanges = cloneRanges(cat.Dies[l.Dst].Ranges)
	b.addChannels(ctrl)
	addReadyQueue(ctrl)

	for _, name := range bridgeQueues {
		ctrl.AddQueue(catalog.Queue{
			Name:           name,
			Capacity:       b.bridgeDepth,
			MaxDequeueRate: b.bridgeDeqRate,
		})
	}

	n.AddController(ctrl)
	die.Bridges = append(die.Bridges, n)

	return nil
}

func (b Builder) pairBridges(cat *catalog.Catalog) error {
	for x := 0; x < len(cat.Dies); x++ {
		for y := x + 1; y < len(cat.Dies); y++ {
			fwd, okFwd := cat.Dies[x].BridgeTo(y)
			bwd, okBwd := cat.Dies[y].BridgeTo(x)

			switch {
			case !okFwd && !okBwd:
				return errs.Config(errs.MissingBridge,
					"%s is not bridged", catalog.MakeDiePair(x, y))
			case !okFwd:
				return errs.Config(errs.OneSidedBridge,
					"%s has no counterpart on %s",
					bwd.Name(), catalog.DieName(x))
			case !okBwd:
				return errs.Config(errs.OneSidedBridge,
					"%s has no counterpart on %s",
					fwd.Name(), catalog.DieName(y))
			}

			err := cat.Pair(fwd.Controllers[0], bwd.Controllers[0])
			if err != nil {
				return err
			}

			b.log.WithFields(logrus.Fields{
				"forward":  fwd.Name(),
				"backward": bwd.Name(),
			}).Debug("die bridges paired")
		}
	}

	return nil
}
