package waitfor

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/chifabric/catalog"
	"github.com/sarchlab/chifabric/errs"
	"github.com/sarchlab/chifabric/fabric"
)

// ControllerCatalog finds controllers by their path.
type ControllerCatalog interface {
	ControllerByPath(path string) (*catalog.Controller, bool)
}

// Builder turns a trace snapshot into a wait-for graph.
type Builder struct {
	log      logrus.FieldLogger
	fabric   *fabric.Fabric
	ports    *fabric.PortMap
	catalog  ControllerCatalog
	numVnets int
}

// MakeBuilder creates a builder for 4 virtual networks.
func MakeBuilder() Builder {
	return Builder{
		log:      discardLogger(),
		numVnets: 4,
	}
}

// WithLogger sets the logger that reports the graph size.
func (b Builder) WithLogger(log logrus.FieldLogger) Builder {
	if log == nil {
		panic("logger must not be nil")
	}

	b.log = log
	return b
}

// WithFabric sets the fabric description.
func (b Builder) WithFabric(f *fabric.Fabric) Builder {
	b.fabric = f
	return b
}

// WithPortMap sets the map from router ports to links.
func (b Builder) WithPortMap(m *fabric.PortMap) Builder {
	b.ports = m
	return b
}

// WithCatalog makes the builder reject stalled controllers that the catalog
// does not know about.
func (b Builder) WithCatalog(c ControllerCatalog) Builder {
	b.catalog = c
	return b
}

// WithVnets sets the number of virtual networks of each router outport.
func (b Builder) WithVnets(n int) Builder {
	if n < 1 {
		panic("at least one virtual network is required")
	}

	b.numVnets = n
	return b
}

// Build creates the wait-for graph of a snapshot.
//
// For every blocked inport, the graph chains the incoming link, the inport,
// the target outport buffer and the outgoing link. For every stalled
// controller, it chains the controller's request input queue, the
// controller and its request output queue.
func (b Builder) Build(s *Snapshot) (*Graph, error) {
	if b.fabric == nil {
		panic("fabric is not set")
	}

	if b.ports == nil {
		panic("port map is not set")
	}

	g := NewGraph()

	for _, k := range s.BlockKeys() {
		if err := b.addBlock(g, s, s.Blocks[k]); err != nil {
			return nil, err
		}
	}

	for _, name := range s.StalledControllers() {
		if err := b.addStall(g, s, s.Stalls[name]); err != nil {
			return nil, err
		}
	}

	b.log.WithFields(logrus.Fields{
		"nodes":      g.NumNodes(),
		"edges":      g.NumEdges(),
		"unresolved": len(g.unresolved),
	}).Debug("wait-for graph built")

	return g, nil
}

func (b Builder) addBlock(g *Graph, s *Snapshot, blk Block) error {
	if blk.Vnet >= b.numVnets {
		return errs.Mismatch(blk.Router, fmt.Sprintf("in%d", blk.Inport),
			"virtual network %d is beyond the %d configured", blk.Vnet, b.numVnets)
	}

	inLink, err := b.ports.InLink(blk.Router, blk.Inport)
	if err != nil {
		return err
	}

	outBuffer, err := b.fabric.OutportBuffer(
		blk.Router, blk.Outport, blk.Vnet, b.numVnets)
	if err != nil {
		return err
	}

	outLink, err := b.ports.OutLink(blk.Router, outBuffer)
	if err != nil {
		return err
	}

	msg := blk.Msg
	inName := b.fabric.Alias(inLink, fabric.Inbound)
	inport := fmt.Sprintf("R%d.I%d", blk.Router, blk.Inport)
	outport := fmt.Sprintf("R%d.O%d", blk.Router, blk.Outport)
	outName := b.fabric.Alias(outLink, fabric.Outbound)

	g.AddNode(inName, LinkBuffer, occupant(s, inLink))
	g.Occupy(inName, &msg, blk.Inport, blk.Outport)

	port := g.AddNode(inport, RouterPort, &msg)
	port.Inport, port.Outport = blk.Inport, blk.Outport

	g.AddNode(outport, RouterPort, occupant(s, outBuffer))
	g.AddNode(outName, LinkBuffer, occupant(s, outLink))

	g.AddEdge(inName, inport)
	g.AddEdge(inport, outport)
	g.AddEdge(outport, outName)

	return nil
}

func (b Builder) addStall(g *Graph, s *Snapshot, st Stall) error {
	if b.catalog != nil {
		if _, ok := b.catalog.ControllerByPath(st.Controller); !ok {
			return errs.Mismatch(-1, "",
				"stalled controller %s is not in the catalog", st.Controller)
		}
	}

	inQueue := st.Controller + ".reqIn"
	outQueue := st.Controller + ".reqOut"
	inName := b.fabric.Alias(inQueue, fabric.Inbound)
	outName := b.fabric.Alias(outQueue, fabric.Outbound)

	g.AddNode(inName, LinkBuffer, occupant(s, inQueue))
	g.AddNode(st.Controller, ControllerQueue, &Message{Address: st.Address})
	g.AddNode(outName, LinkBuffer, occupant(s, outQueue))

	g.AddEdge(inName, st.Controller)
	g.AddEdge(st.Controller, outName)

	return nil
}

func occupant(s *Snapshot, buffer string) *Message {
	m, ok := s.Buffer(buffer)
	if !ok {
		return nil
	}

	return &m
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)

	return l
}
