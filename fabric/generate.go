package fabric

import (
	"fmt"
	"io"
	"strings"

	"github.com/sarchlab/chifabric/catalog"
	"github.com/sarchlab/chifabric/errs"
)

// Mesh is the router grid of one die.
type Mesh struct {
	Rows, Cols int
}

// NumRouters returns the number of routers of the grid.
func (m Mesh) NumRouters() int {
	return m.Rows * m.Cols
}

// Generated is a fabric generated for a catalog, together with the port/link
// identity log the simulator would print for it.
type Generated struct {
	Fabric  *Fabric
	PortLog []string
}

// inQueues and outQueues are the controller queues that carry each virtual
// network, in virtual network order.
var (
	inQueues  = []string{"reqIn", "snpIn", "rspIn", "datIn"}
	outQueues = []string{"reqOut", "snpOut", "rspOut", "datOut"}
)

type portCounter struct {
	in, out []int
}

func (c *portCounter) nextIn(router int) int {
	p := c.in[router]
	c.in[router]++

	return p
}

func (c *portCounter) nextOut(router int) int {
	p := c.out[router]
	c.out[router]++

	return p
}

// FromCatalog lays out one mesh per die, attaches every network-side
// controller to the router of its node, and derives the port log.
func FromCatalog(cat *catalog.Catalog, mesh Mesh, numVnets int) (*Generated, error) {
	if mesh.NumRouters() < 1 {
		return nil, errs.Config(errs.Invalid, "mesh must have a router")
	}

	if numVnets < 1 || numVnets > len(inQueues) {
		return nil, errs.Config(errs.Invalid,
			"virtual network count must be between 1 and %d", len(inQueues))
	}

	numRouters := len(cat.Dies) * mesh.NumRouters()
	f := &Fabric{}
	for i := 0; i < numRouters; i++ {
		f.Routers = append(f.Routers, Router{
			ID:   i,
			Path: fmt.Sprintf("system.ruby.network.routers%02d", i),
		})
	}

	gen := &Generated{Fabric: f}
	ports := &portCounter{
		in:  make([]int, numRouters),
		out: make([]int, numRouters),
	}

	if err := gen.attachControllers(cat, ports, numVnets); err != nil {
		return nil, err
	}

	for d := range cat.Dies {
		gen.connectMesh(d*mesh.NumRouters(), mesh, ports, numVnets)
	}

	if err := f.index(); err != nil {
		return nil, err
	}

	return gen, nil
}

func (g *Generated) attachControllers(
	cat *catalog.Catalog,
	ports *portCounter,
	numVnets int,
) error {
	f := g.Fabric

	for _, n := range cat.Nodes() {
		if n.Router < 0 || n.Router >= len(f.Routers) {
			return errs.Config(errs.Invalid,
				"%s sits on router %d outside the fabric", n.Name(), n.Router)
		}

		router := f.Routers[n.Router]

		for _, ctrl := range n.NetworkSide() {
			id := len(f.ExtLinks)
			f.ExtLinks = append(f.ExtLinks, ExtLink{
				ID:      id,
				Name:    fmt.Sprintf("ext_links%d", id),
				Path:    fmt.Sprintf("system.ruby.network.ext_links%d", id),
				IntNode: router.Path,
				ExtNode: ctrl.Path,
			})

			in := ports.nextIn(router.ID)
			g.inportLine(router.ID, in, ctrl.Path+"."+outQueues[0])

			out := ports.nextOut(router.ID)
			for v := 0; v < numVnets; v++ {
				g.outportLine(router, out, v, numVnets, ctrl.Path+"."+inQueues[v])
			}
		}
	}

	return nil
}

// connectMesh links each router of a die to its east, west, north and south
// neighbors.
func (g *Generated) connectMesh(
	base int,
	mesh Mesh,
	ports *portCounter,
	numVnets int,
) {
	f := g.Fabric

	type step struct{ dr, dc int }
	steps := []step{{0, 1}, {0, -1}, {-1, 0}, {1, 0}}

	for r := 0; r < mesh.Rows; r++ {
		for c := 0; c < mesh.Cols; c++ {
			for _, s := range steps {
				nr, nc := r+s.dr, c+s.dc
				if nr < 0 || nr >= mesh.Rows || nc < 0 || nc >= mesh.Cols {
					continue
				}

				src := f.Routers[base+r*mesh.Cols+c]
				dst := f.Routers[base+nr*mesh.Cols+nc]

				id := len(f.IntLinks)
				link := IntLink{
					ID:   id,
					Name: fmt.Sprintf("int_links%d", id),
					Path: fmt.Sprintf("system.ruby.network.int_links%d", id),
					Src:  src.Path,
					Dst:  dst.Path,
				}
				f.IntLinks = append(f.IntLinks, link)

				out := ports.nextOut(src.ID)
				for v := 0; v < numVnets; v++ {
					g.outportLine(src, out, v, numVnets, link.Path)
				}

				in := ports.nextIn(dst.ID)
				g.inportLine(dst.ID, in, link.Path)
			}
		}
	}
}

func (g *Generated) inportLine(router, port int, link string) {
	g.PortLog = append(g.PortLog, fmt.Sprintf(
		"Switch_PerfectSwitch-%d Inport_%d: Link %s", router, port, link))
}

func (g *Generated) outportLine(r Router, port, vnet, numVnets int, link string) {
	buffer := fmt.Sprintf("%s.port_buffers%02d", r.Path, numVnets*port+vnet)
	g.PortLog = append(g.PortLog, fmt.Sprintf(
		"Switch_%s OutPortBuffer %s Link %s", r.Path, buffer, link))
}

// WritePortLog writes the port log, one line per port binding.
func (g *Generated) WritePortLog(w io.Writer) error {
	for _, l := range g.PortLog {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}

	return nil
}

// PortMap parses the generated port log.
func (g *Generated) PortMap() (*PortMap, error) {
	r := strings.NewReader(strings.Join(g.PortLog, "\n"))
	return ParsePortMap(r, "generated", g.Fabric)
}
