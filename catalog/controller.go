package catalog

import (
	"sort"

	"github.com/sarchlab/chifabric/addr"
)

// ControllerID identifies a controller within a catalog. It doubles as the
// controller's network id, the N of "Cache-N" in runtime traces.
type ControllerID int

// A Queue is a bounded message buffer of a controller, such as an ingress
// channel or a trigger queue.
type Queue struct {
	Name           string
	Capacity       int
	MaxDequeueRate int
}

// CacheLevel is the level of a request node cache controller.
type CacheLevel int

// Cache levels.
const (
	L1I CacheLevel = iota
	L1D
	L2
)

func (l CacheLevel) String() string {
	switch l {
	case L1I:
		return "L1I"
	case L1D:
		return "L1D"
	case L2:
		return "L2"
	}

	return "L?"
}

// Variant carries the role-specific fields of a controller. The set of
// variants is closed.
type Variant interface {
	Role() Role
	isVariant()
}

// CacheInfo describes a private cache controller of a request node.
type CacheInfo struct {
	Core  int
	Level CacheLevel
}

// Role returns RequestCache.
func (CacheInfo) Role() Role { return RequestCache }
func (CacheInfo) isVariant() {}

// HomeInfo describes a home directory controller. Index is the position of
// the home node in the global home-node interleaving.
type HomeInfo struct {
	Index int
}

// Role returns HomeDirectory.
func (HomeInfo) Role() Role { return HomeDirectory }
func (HomeInfo) isVariant() {}

// MemoryInfo describes a memory front controller.
type MemoryInfo struct {
	Index int
}

// Role returns MemoryFront.
func (MemoryInfo) Role() Role { return MemoryFront }
func (MemoryInfo) isVariant() {}

// AgentInfo describes a home agent controller.
type AgentInfo struct{}

// Role returns HomeAgent.
func (AgentInfo) Role() Role { return HomeAgent }
func (AgentInfo) isVariant() {}

// BridgeInfo describes one direction of a die-to-die bridge. Partner is the
// bridge controller that carries traffic in the opposite direction; it is
// set when the pair is registered.
type BridgeInfo struct {
	SrcDie  int
	DstDie  int
	Partner *Controller
}

// Role returns DieBridge.
func (*BridgeInfo) Role() Role { return DieBridge }
func (*BridgeInfo) isVariant() {}

// MiscInfo describes a miscellaneous node controller.
type MiscInfo struct{}

// Role returns Misc.
func (MiscInfo) Role() Role { return Misc }
func (MiscInfo) isVariant() {}

// A Controller is a protocol engine owned by exactly one node.
type Controller struct {
	ID      ControllerID
	Name    string
	Path    string
	Node    *Node
	Variant Variant

	OwnedRanges         []addr.Range
	RequestPoolSize     int
	ReplacementPoolSize int
	UnifiedPools        bool
	Queues              map[string]*Queue

	// Downstream holds references into other nodes' controllers.
	Downstream []*Controller
}

// NewController creates a controller with the given variant. The controller
// is not registered anywhere until it is added to a node.
func NewController(name, path string, variant Variant) *Controller {
	return &Controller{
		ID:      -1,
		Name:    name,
		Path:    path,
		Variant: variant,
		Queues:  make(map[string]*Queue),
	}
}

// Role returns the role of the controller.
func (c *Controller) Role() Role {
	return c.Variant.Role()
}

// AddQueue registers a queue under its name, replacing a queue with the same
// name.
func (c *Controller) AddQueue(q Queue) {
	c.Queues[q.Name] = &q
}

// QueueNames returns the names of the queues in sorted order.
func (c *Controller) QueueNames() []string {
	names := make([]string, 0, len(c.Queues))
	for name := range c.Queues {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Owns tells if any of the owned ranges contains the address.
func (c *Controller) Owns(address uint64) bool {
	for _, r := range c.OwnedRanges {
		if r.Contains(address) {
			return true
		}
	}

	return false
}

// AddDownstream appends destinations that are not yet present.
func (c *Controller) AddDownstream(dsts ...*Controller) {
	for _, d := range dsts {
		if !containsController(c.Downstream, d) {
			c.Downstream = append(c.Downstream, d)
		}
	}
}

// Bridge returns the bridge fields of a die bridge controller.
func (c *Controller) Bridge() (*BridgeInfo, bool) {
	b, ok := c.Variant.(*BridgeInfo)
	return b, ok
}

func containsController(list []*Controller, c *Controller) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}

	return false
}

// NodeID identifies a node by its die, its role and its index among the
// nodes of the same role on the die. Die bridges are indexed by their
// destination die.
type NodeID struct {
	Die   int
	Role  Role
	Index int
}

// A Node is a fabric agent placed on a router. It owns its controllers.
type Node struct {
	ID          NodeID
	Router      int
	Controllers []*Controller
}

// NewNode creates an empty node.
func NewNode(id NodeID, router int) *Node {
	return &Node{ID: id, Router: router}
}

// Name returns the hierarchical name of the node.
func (n *Node) Name() string {
	return n.ID.String()
}

// Role returns the role of the node.
func (n *Node) Role() Role {
	return n.ID.Role
}

// AddController gives the ownership of the controller to the node.
func (n *Node) AddController(c *Controller) {
	if c.Node != nil {
		panic("controller " + c.Name + " is already owned by " + c.Node.Name())
	}

	if c.Role() != n.ID.Role {
		panic("controller " + c.Name + " cannot join a " +
			n.ID.Role.String() + " node")
	}

	c.Node = n
	n.Controllers = append(n.Controllers, c)
}

// Downstream returns the union of the controllers' destinations outside the
// node, in first-seen order.
func (n *Node) Downstream() []*Controller {
	var dsts []*Controller

	for _, c := range n.Controllers {
		for _, d := range c.Downstream {
			if d.Node == n || containsController(dsts, d) {
				continue
			}

			dsts = append(dsts, d)
		}
	}

	return dsts
}

// NetworkSide returns the controllers attached to the network. The L1
// caches of a request node with a private L2 reach the network through it.
func (n *Node) NetworkSide() []*Controller {
	if n.Role() != RequestCache {
		return n.Controllers
	}

	if l2, ok := n.Controller(L2.String()); ok {
		return []*Controller{l2}
	}

	return n.Controllers
}

// Controller returns the controller with the given name suffix, such as
// "L1D" in "Die[0].RNF[1].L1D".
func (n *Node) Controller(suffix string) (*Controller, bool) {
	name := BuildName(n.Name(), suffix)
	for _, c := range n.Controllers {
		if c.Name == name {
			return c, true
		}
	}

	return nil, false
}
