package waitfor

import (
	"sort"
)

// Kind classifies a blocked resource.
type Kind int

// Kinds of blocked resources.
const (
	RouterPort Kind = iota
	LinkBuffer
	ControllerQueue
)

func (k Kind) String() string {
	switch k {
	case RouterPort:
		return "RouterPort"
	case LinkBuffer:
		return "LinkBuffer"
	case ControllerQueue:
		return "ControllerQueue"
	default:
		return "Unknown"
	}
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// A Resource is a node of the wait-for graph. Inport and Outport are the
// router ports the occupant moves between, or -1 when the trace does not
// say.
type Resource struct {
	Name     string
	Kind     Kind
	Occupant *Message
	Inport   int
	Outport  int
}

// Graph is a wait-for graph. An edge A->B means that the occupant of A is
// blocked trying to enter B.
type Graph struct {
	nodes map[string]*Resource
	succ  map[string]map[string]bool
	edges int

	unresolved map[string]bool
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:      make(map[string]*Resource),
		succ:       make(map[string]map[string]bool),
		unresolved: make(map[string]bool),
	}
}

// AddNode adds a resource. Adding a resource that already exists keeps the
// first occupant that is known.
func (g *Graph) AddNode(name string, kind Kind, occupant *Message) *Resource {
	if r, ok := g.nodes[name]; ok {
		if r.Occupant == nil && occupant != nil {
			r.Occupant = occupant
			delete(g.unresolved, name)
		}

		return r
	}

	r := &Resource{
		Name:     name,
		Kind:     kind,
		Occupant: occupant,
		Inport:   -1,
		Outport:  -1,
	}
	g.nodes[name] = r
	g.succ[name] = make(map[string]bool)

	if occupant == nil {
		g.unresolved[name] = true
	}

	return r
}

// Occupy sets the occupant of a resource that has none, together with the
// router ports it moves between.
func (g *Graph) Occupy(name string, occupant *Message, inport, outport int) {
	r, ok := g.nodes[name]
	if !ok || r.Occupant != nil || occupant == nil {
		return
	}

	r.Occupant = occupant
	r.Inport = inport
	r.Outport = outport
	delete(g.unresolved, name)
}

// AddEdge adds an edge between two existing resources. Repeated edges are
// stored once.
func (g *Graph) AddEdge(from, to string) {
	if _, ok := g.nodes[from]; !ok {
		panic("edge from unknown resource " + from)
	}

	if _, ok := g.nodes[to]; !ok {
		panic("edge to unknown resource " + to)
	}

	if g.succ[from][to] {
		return
	}

	g.succ[from][to] = true
	g.edges++
}

// Node returns the resource with the given name.
func (g *Graph) Node(name string) (*Resource, bool) {
	r, ok := g.nodes[name]
	return r, ok
}

// Nodes returns the names of all resources in order.
func (g *Graph) Nodes() []string {
	names := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// Successors returns the resources that a resource waits for, in order.
func (g *Graph) Successors(name string) []string {
	out := make([]string, 0, len(g.succ[name]))
	for n := range g.succ[name] {
		out = append(out, n)
	}

	sort.Strings(out)

	return out
}

// HasEdge tells if from waits for to.
func (g *Graph) HasEdge(from, to string) bool {
	return g.succ[from][to]
}

// NumNodes returns the number of resources.
func (g *Graph) NumNodes() int {
	return len(g.nodes)
}

// NumEdges returns the number of distinct edges.
func (g *Graph) NumEdges() int {
	return g.edges
}

// Unresolved returns the resources whose occupant the trace never dumped.
func (g *Graph) Unresolved() []string {
	names := make([]string, 0, len(g.unresolved))
	for n := range g.unresolved {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}
