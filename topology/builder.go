// Package topology synthesizes the coherence fabric of a multi-die system.
package topology

import (
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/chifabric/addr"
	"github.com/sarchlab/chifabric/catalog"
	"github.com/sarchlab/chifabric/errs"
	"github.com/sarchlab/chifabric/tbe"
)

// BridgeLink is a directed die-to-die bridge.
type BridgeLink struct {
	Src, Dst int
}

// Builder synthesizes a catalog.
type Builder struct {
	log logrus.FieldLogger

	numDies        int
	coresPerDie    int
	homesPerDie    int
	memoriesPerDie int

	lineSize      uint64
	memSize       uint64
	regions       []addr.Region
	scrambleWidth int

	hnfTBE   int
	tbeRatio string
	unifyTBE bool
	rnfTBE   int
	snfTBE   int

	privateL2 bool
	miscNode  bool

	bufferDepth   int
	bufferDeqRate int
	bridgeDepth   int
	bridgeDeqRate int

	meshRows  int
	meshCols  int
	placement Placement
	bridges   []BridgeLink
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		log:            discardLogger(),
		numDies:        1,
		coresPerDie:    1,
		homesPerDie:    1,
		memoriesPerDie: 1,
		lineSize:       64,
		regions:        []addr.Region{{Base: 0, Size: 1 << 30}},
		hnfTBE:         16,
		tbeRatio:       "1-1",
		rnfTBE:         32,
		snfTBE:         32,
		privateL2:      true,
		bufferDepth:    16,
		bufferDeqRate:  1,
		bridgeDepth:    2,
		bridgeDeqRate:  1,
		meshRows:       4,
		meshCols:       4,
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)

	return l
}

// WithLogger sets the logger that reports the synthesis progress.
func (b Builder) WithLogger(log logrus.FieldLogger) Builder {
	if log == nil {
		panic("logger must not be nil")
	}

	b.log = log
	return b
}

// WithNumDies sets the number of dies.
func (b Builder) WithNumDies(n int) Builder {
	b.numDies = n
	return b
}

// WithCoresPerDie sets the number of cores, and thus request nodes, per die.
func (b Builder) WithCoresPerDie(n int) Builder {
	b.coresPerDie = n
	return b
}

// WithHomesPerDie sets the number of home nodes per die.
func (b Builder) WithHomesPerDie(n int) Builder {
	b.homesPerDie = n
	return b
}

// WithMemoriesPerDie sets the number of memory nodes per die.
func (b Builder) WithMemoriesPerDie(n int) Builder {
	b.memoriesPerDie = n
	return b
}

// WithLineSize sets the cache line size in bytes.
func (b Builder) WithLineSize(n uint64) Builder {
	b.lineSize = n
	return b
}

// WithMemSize sets the size of the physical memory space that dies split.
// Zero derives it from the regions.
func (b Builder) WithMemSize(n uint64) Builder {
	b.memSize = n
	return b
}

// WithRegions sets the memory regions to partition.
func (b Builder) WithRegions(regions ...addr.Region) Builder {
	b.regions = regions
	return b
}

// WithScrambleWidth enables XOR address scrambling of the home interleaving
// when the width is above one.
func (b Builder) WithScrambleWidth(w int) Builder {
	b.scrambleWidth = w
	return b
}

// WithHomeTBE sets the home node TBE budget, the request-replacement ratio
// and whether both pools share the budget.
func (b Builder) WithHomeTBE(budget int, ratio string, unify bool) Builder {
	b.hnfTBE = budget
	b.tbeRatio = ratio
	b.unifyTBE = unify

	return b
}

// WithRequestTBE sets the TBE count of the last-level private caches.
func (b Builder) WithRequestTBE(n int) Builder {
	b.rnfTBE = n
	return b
}

// WithMemoryTBE sets the TBE count of the memory fronts.
func (b Builder) WithMemoryTBE(n int) Builder {
	b.snfTBE = n
	return b
}

// WithPrivateL2 sets whether each core has a private L2 behind its L1s.
func (b Builder) WithPrivateL2(enabled bool) Builder {
	b.privateL2 = enabled
	return b
}

// WithMiscNode sets whether each die has a misc node.
func (b Builder) WithMiscNode(enabled bool) Builder {
	b.miscNode = enabled
	return b
}

// WithBuffer sets the depth and the dequeue rate of the CHI channel queues.
func (b Builder) WithBuffer(depth, deqRate int) Builder {
	b.bufferDepth = depth
	b.bufferDeqRate = deqRate

	return b
}

// WithBridgeBuffer sets the depth and the dequeue rate of the die bridge
// buffers.
func (b Builder) WithBridgeBuffer(depth, deqRate int) Builder {
	b.bridgeDepth = depth
	b.bridgeDeqRate = deqRate

	return b
}

// WithMesh sets the size of the router mesh of each die.
func (b Builder) WithMesh(rows, cols int) Builder {
	b.meshRows = rows
	b.meshCols = cols

	return b
}

// WithPlacement sets the router bindings of the nodes.
func (b Builder) WithPlacement(p Placement) Builder {
	b.placement = p
	return b
}

// WithBridges restricts the die bridges to the given directed links. By
// default every ordered pair of dies is bridged.
func (b Builder) WithBridges(links ...BridgeLink) Builder {
	b.bridges = links
	return b
}

// NumRouters returns the number of routers of one die.
func (b Builder) NumRouters() int {
	return b.meshRows * b.meshCols
}

// plan holds the values derived from the builder parameters that every die
// shares.
type plan struct {
	homes     addr.HomePartition
	dies      addr.DiePartition
	homePools tbe.Pools
	placement Placement
}

// Build synthesizes a sealed catalog.
func (b Builder) Build() (*catalog.Catalog, error) {
	p, err := b.plan()
	if err != nil {
		return nil, err
	}

	dies := make([]*catalog.Die, b.numDies)

	var g errgroup.Group
	for d := 0; d < b.numDies; d++ {
		g.Go(func() error {
			die, err := b.buildDie(p, d)
			if err != nil {
				return err
			}

			dies[d] = die
			b.log.WithFields(logrus.Fields{
				"die":   d,
				"nodes": len(die.Nodes()),
			}).Debug("die built")

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	cat := catalog.New(b.lineSize)
	for _, die := range dies {
		cat.AddDie(die)
	}

	if err := b.connectDies(p, cat); err != nil {
		return nil, err
	}

	if err := cat.Validate(); err != nil {
		return nil, err
	}

	if err := cat.Seal(); err != nil {
		return nil, err
	}

	b.log.WithFields(logrus.Fields{
		"dies":        len(cat.Dies),
		"nodes":       len(cat.Nodes()),
		"controllers": len(cat.Controllers()),
		"pairs":       len(cat.BridgePairs()),
	}).Info("topology synthesized")

	return cat, nil
}

func (b Builder) plan() (plan, error) {
	if err := b.countsMustBeValid(); err != nil {
		return plan{}, err
	}

	var (
		p   plan
		err error
	)

	p.homePools, err = tbe.Partition(b.hnfTBE, b.tbeRatio, b.unifyTBE)
	if err != nil {
		return plan{}, err
	}

	numHomes := b.numDies * b.homesPerDie
	p.homes, err = addr.PartitionHomes(
		b.lineSize, numHomes, b.scrambleWidth, b.regions)
	if err != nil {
		return plan{}, err
	}

	p.dies, err = addr.PartitionDies(b.effectiveMemSize(), b.numDies, b.regions)
	if err != nil {
		return plan{}, err
	}

	if b.numDies > 1 && p.dies.LowBit() <= p.homes.NumaBit {
		return plan{}, errs.Config(errs.AddressAlias,
			"die selection bits [%d:%d] overlap home interleaving bits [%d:%d]",
			p.dies.NumaBit, p.dies.LowBit(), p.homes.NumaBit, p.homes.LowBit())
	}

	p.placement = b.placement
	if p.placement == nil {
		p.placement = DefaultPlacement(b.NumRouters())
	}

	if err := p.placement.validate(b.NumRouters()); err != nil {
		return plan{}, err
	}

	return p, nil
}

func (b Builder) countsMustBeValid() error {
	counts := []struct {
		what string
		n    int
	}{
		{"die count", b.numDies},
		{"cores per die", b.coresPerDie},
		{"home nodes per die", b.homesPerDie},
		{"memory nodes per die", b.memoriesPerDie},
		{"mesh rows", b.meshRows},
		{"mesh columns", b.meshCols},
	}

	for _, c := range counts {
		if c.n < 1 {
			return errs.Config(errs.Invalid, "%s must be at least 1, got %d",
				c.what, c.n)
		}
	}

	pools := []struct {
		what string
		n    int
	}{
		{"request node TBE", b.rnfTBE},
		{"memory node TBE", b.snfTBE},
		{"channel buffer depth", b.bufferDepth},
		{"bridge buffer depth", b.bridgeDepth},
	}

	for _, p := range pools {
		if p.n < 1 {
			return errs.Config(errs.ZeroPool, "%s must be at least 1, got %d",
				p.what, p.n)
		}
	}

	return nil
}

// effectiveMemSize returns the configured memory size or the smallest power
// of two that covers every region.
func (b Builder) effectiveMemSize() uint64 {
	if b.memSize != 0 {
		return b.memSize
	}

	var top uint64
	for _, r := range b.regions {
		if r.End() > top {
			top = r.End()
		}
	}

	size := uint64(1)
	for size < top && size != 0 {
		size <<= 1
	}

	return size
}
