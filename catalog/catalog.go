// Package catalog holds the typed records of a synthesized coherence fabric:
// dies, nodes, controllers and die bridge pairs.
package catalog

import (
	"fmt"
	"sort"

	"github.com/sarchlab/chifabric/addr"
	"github.com/sarchlab/chifabric/errs"
)

// A Die groups the nodes built for one die of the system.
type Die struct {
	ID     int
	Ranges []addr.Range

	RequestNodes []*Node
	HomeNodes    []*Node
	HomeAgent    *Node
	MemoryNodes  []*Node
	MiscNode     *Node
	Bridges      []*Node
}

// NewDie creates an empty die.
func NewDie(id int) *Die {
	return &Die{ID: id}
}

// Name returns the hierarchical name of the die.
func (d *Die) Name() string {
	return DieName(d.ID)
}

// Nodes lists every node of the die in catalog order.
func (d *Die) Nodes() []*Node {
	var nodes []*Node

	nodes = append(nodes, d.RequestNodes...)
	nodes = append(nodes, d.HomeNodes...)
	if d.HomeAgent != nil {
		nodes = append(nodes, d.HomeAgent)
	}
	nodes = append(nodes, d.MemoryNodes...)
	if d.MiscNode != nil {
		nodes = append(nodes, d.MiscNode)
	}
	nodes = append(nodes, d.Bridges...)

	return nodes
}

// BridgeTo returns the bridge node that forwards traffic to the given die.
func (d *Die) BridgeTo(dst int) (*Node, bool) {
	for _, n := range d.Bridges {
		if n.ID.Index == dst {
			return n, true
		}
	}

	return nil, false
}

// Controllers returns the controllers of every node with the given role.
func (d *Die) Controllers(role Role) []*Controller {
	var ctrls []*Controller

	for _, n := range d.Nodes() {
		if n.Role() == role {
			ctrls = append(ctrls, n.Controllers...)
		}
	}

	return ctrls
}

// DiePair is an unordered pair of dies. A is always the smaller id.
type DiePair struct {
	A, B int
}

// MakeDiePair creates the pair of two dies in either order.
func MakeDiePair(x, y int) DiePair {
	if x > y {
		x, y = y, x
	}

	return DiePair{A: x, B: y}
}

func (p DiePair) String() string {
	return fmt.Sprintf("%s<->%s", DieName(p.A), DieName(p.B))
}

// A DieBridgePair holds both directions of the bridge between two dies.
// Forward carries traffic from A to B, Backward from B to A.
type DieBridgePair struct {
	Pair     DiePair
	Forward  *Controller
	Backward *Controller
}

// Catalog is the product of topology synthesis. It is immutable once sealed.
type Catalog struct {
	LineSize uint64
	Dies     []*Die

	pairs       map[DiePair]*DieBridgePair
	controllers []*Controller
	byName      map[string]*Controller
	byPath      map[string]*Controller
	nodes       map[NodeID]*Node
	homes       []*Node
	homeMapper  addr.OwnerMapper
	dieMapper   addr.OwnerMapper
	sealed      bool
}

// New creates an empty catalog.
func New(lineSize uint64) *Catalog {
	return &Catalog{
		LineSize: lineSize,
		pairs:    make(map[DiePair]*DieBridgePair),
	}
}

// AddDie appends a die. Dies must be added in id order.
func (c *Catalog) AddDie(d *Die) {
	c.mustNotBeSealed()

	if d.ID != len(c.Dies) {
		panic(fmt.Sprintf("die %d added out of order", d.ID))
	}

	c.Dies = append(c.Dies, d)
}

// Pair registers the two bridge controllers that connect a pair of dies and
// makes them partners of each other.
func (c *Catalog) Pair(x, y *Controller) error {
	c.mustNotBeSealed()

	bx, okx := x.Bridge()
	by, oky := y.Bridge()
	if !okx || !oky {
		return errs.Config(errs.Invalid,
			"only die bridges can be paired, got %s and %s", x.Name, y.Name)
	}

	if bx.SrcDie != by.DstDie || bx.DstDie != by.SrcDie {
		return errs.Config(errs.OneSidedBridge,
			"%s and %s do not connect the same dies in opposite directions",
			x.Name, y.Name)
	}

	key := MakeDiePair(bx.SrcDie, bx.DstDie)
	if _, found := c.pairs[key]; found {
		return errs.Config(errs.Invalid, "%s is already paired", key)
	}

	if bx.Partner != nil || by.Partner != nil {
		return errs.Config(errs.Invalid,
			"%s or %s already has a partner", x.Name, y.Name)
	}

	bx.Partner = y
	by.Partner = x

	p := &DieBridgePair{Pair: key, Forward: x, Backward: y}
	if bx.SrcDie != key.A {
		p.Forward, p.Backward = y, x
	}

	c.pairs[key] = p

	return nil
}

// BridgePair returns the bridge pair connecting two dies.
func (c *Catalog) BridgePair(x, y int) (*DieBridgePair, bool) {
	p, ok := c.pairs[MakeDiePair(x, y)]
	return p, ok
}

// BridgePairs returns every registered pair, ordered by die ids.
func (c *Catalog) BridgePairs() []*DieBridgePair {
	pairs := make([]*DieBridgePair, 0, len(c.pairs))
	for _, p := range c.pairs {
		pairs = append(pairs, p)
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Pair.A != pairs[j].Pair.A {
			return pairs[i].Pair.A < pairs[j].Pair.A
		}

		return pairs[i].Pair.B < pairs[j].Pair.B
	})

	return pairs
}

// Seal assigns controller ids, builds the lookup indices and freezes the
// catalog.
func (c *Catalog) Seal() error {
	c.mustNotBeSealed()

	c.controllers = nil
	c.byName = make(map[string]*Controller)
	c.byPath = make(map[string]*Controller)
	c.nodes = make(map[NodeID]*Node)
	c.homes = nil

	for _, d := range c.Dies {
		for _, n := range d.Nodes() {
			if _, dup := c.nodes[n.ID]; dup {
				return errs.Config(errs.Invalid, "duplicated node %s", n.Name())
			}

			c.nodes[n.ID] = n

			for _, ctrl := range n.Controllers {
				if err := c.index(ctrl); err != nil {
					return err
				}
			}
		}

		c.homes = append(c.homes, d.HomeNodes...)
	}

	sort.SliceStable(c.homes, func(i, j int) bool {
		return homeIndex(c.homes[i]) < homeIndex(c.homes[j])
	})

	c.buildMappers()
	c.sealed = true

	return nil
}

func (c *Catalog) index(ctrl *Controller) error {
	if _, dup := c.byName[ctrl.Name]; dup {
		return errs.Config(errs.Invalid, "duplicated controller %s", ctrl.Name)
	}

	if _, dup := c.byPath[ctrl.Path]; dup {
		return errs.Config(errs.Invalid,
			"duplicated controller path %s", ctrl.Path)
	}

	ctrl.ID = ControllerID(len(c.controllers))
	c.controllers = append(c.controllers, ctrl)
	c.byName[ctrl.Name] = ctrl
	c.byPath[ctrl.Path] = ctrl

	return nil
}

func homeIndex(n *Node) int {
	if len(n.Controllers) == 0 {
		return -1
	}

	if h, ok := n.Controllers[0].Variant.(HomeInfo); ok {
		return h.Index
	}

	return -1
}

func (c *Catalog) buildMappers() {
	homeOwners := make([][]addr.Range, len(c.homes))
	for i, n := range c.homes {
		if len(n.Controllers) > 0 {
			homeOwners[i] = n.Controllers[0].OwnedRanges
		}
	}

	dieOwners := make([][]addr.Range, len(c.Dies))
	for i, d := range c.Dies {
		dieOwners[i] = d.Ranges
	}

	c.homeMapper = addr.MapperFor(homeOwners)
	c.dieMapper = addr.MapperFor(dieOwners)
}

// Sealed tells if the catalog is frozen.
func (c *Catalog) Sealed() bool {
	return c.sealed
}

func (c *Catalog) mustNotBeSealed() {
	if c.sealed {
		panic("catalog is sealed")
	}
}

func (c *Catalog) mustBeSealed() {
	if !c.sealed {
		panic("catalog is not sealed")
	}
}

// Controllers returns every controller in id order.
func (c *Catalog) Controllers() []*Controller {
	c.mustBeSealed()
	return c.controllers
}

// Controller returns the controller with the given id.
func (c *Catalog) Controller(id ControllerID) (*Controller, bool) {
	c.mustBeSealed()

	if id < 0 || int(id) >= len(c.controllers) {
		return nil, false
	}

	return c.controllers[id], true
}

// ControllerByName finds a controller by its hierarchical name.
func (c *Catalog) ControllerByName(name string) (*Controller, bool) {
	c.mustBeSealed()
	ctrl, ok := c.byName[name]

	return ctrl, ok
}

// ControllerByPath finds a controller by its simulator object path.
func (c *Catalog) ControllerByPath(path string) (*Controller, bool) {
	c.mustBeSealed()
	ctrl, ok := c.byPath[path]

	return ctrl, ok
}

// Node finds a node by id.
func (c *Catalog) Node(id NodeID) (*Node, bool) {
	c.mustBeSealed()
	n, ok := c.nodes[id]

	return n, ok
}

// Nodes returns every node in catalog order.
func (c *Catalog) Nodes() []*Node {
	var nodes []*Node
	for _, d := range c.Dies {
		nodes = append(nodes, d.Nodes()...)
	}

	return nodes
}

// HomeFor returns the home node that owns the address.
func (c *Catalog) HomeFor(address uint64) (*Node, bool) {
	c.mustBeSealed()

	i, found := c.homeMapper.Find(address)
	if !found || i < 0 || i >= len(c.homes) {
		return nil, false
	}

	return c.homes[i], true
}

// DieFor returns the die whose memory holds the address.
func (c *Catalog) DieFor(address uint64) (*Die, bool) {
	c.mustBeSealed()

	i, found := c.dieMapper.Find(address)
	if !found || i < 0 || i >= len(c.Dies) {
		return nil, false
	}

	return c.Dies[i], true
}

// AgentName resolves a network id to a controller name.
func (c *Catalog) AgentName(id int) (string, bool) {
	ctrl, ok := c.Controller(ControllerID(id))
	if !ok {
		return "", false
	}

	return ctrl.Name, true
}

// Validate checks that every die pair is bridged in both directions and that
// every controller that issues requests has somewhere to send them.
func (c *Catalog) Validate() error {
	if err := c.validateBridges(); err != nil {
		return err
	}

	return c.validateWiring()
}

func (c *Catalog) validateBridges() error {
	for _, d := range c.Dies {
		for _, n := range d.Bridges {
			for _, ctrl := range n.Controllers {
				b, _ := ctrl.Bridge()
				if b.Partner == nil {
					return errs.Config(errs.OneSidedBridge,
						"%s has no counterpart", ctrl.Name)
				}
			}
		}
	}

	for a := range c.Dies {
		for b := a + 1; b < len(c.Dies); b++ {
			if _, ok := c.pairs[MakeDiePair(a, b)]; !ok {
				return errs.Config(errs.MissingBridge,
					"%s is not bridged", MakeDiePair(a, b))
			}
		}
	}

	return nil
}

func (c *Catalog) validateWiring() error {
	for _, n := range c.Nodes() {
		if !n.Role().IssuesRequests() {
			continue
		}

		if len(n.Controllers) == 0 {
			return errs.Config(errs.EmptyDownstream,
				"%s has no controller", n.Name())
		}

		for _, ctrl := range n.Controllers {
			if len(ctrl.Downstream) == 0 {
				return errs.Config(errs.EmptyDownstream,
					"%s has no downstream destination", ctrl.Name)
			}
		}

		if len(n.Downstream()) == 0 {
			return errs.Config(errs.EmptyDownstream,
				"%s has no downstream destination", n.Name())
		}
	}

	return nil
}
