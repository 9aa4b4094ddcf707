package fabric

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sarchlab/chifabric/errs"
	"github.com/sarchlab/chifabric/internal/linepat"
)

// Inport identifies an input port of a router.
type Inport struct {
	Router int
	Port   int
}

// Outport identifies an output port buffer of a router.
type Outport struct {
	Router int
	Buffer string
}

// PortMap maps router ports to the links attached to them.
type PortMap struct {
	In  map[Inport]string
	Out map[Outport]string
}

var (
	inportPattern = linepat.MustCompile("inport map",
		`Switch_PerfectSwitch-(\d+) Inport_(\d+): Link (\S+)`,
		"Switch_", "Inport_").
		Field("router", `Switch_PerfectSwitch-\d+ `).
		Field("port", `Inport_\d+:`).
		Field("link", `Link \S+`)

	outportPattern = linepat.MustCompile("outport map",
		`Switch_(\S+) OutPortBuffer (\S+) Link (\S+)`,
		"Switch_", "OutPortBuffer").
		Field("router", `Switch_\S+ OutPortBuffer`).
		Field("buffer", `OutPortBuffer \S+ Link`).
		Field("link", `Link \S+`)
)

// LoadPortMap reads a port/link identity log file.
func LoadPortMap(path string, f *Fabric) (*PortMap, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open port map: %w", err)
	}
	defer file.Close()

	return ParsePortMap(file, path, f)
}

// ParsePortMap reads port/link identity lines of the shapes
//
//	Switch_PerfectSwitch-<R> Inport_<N>: Link <LinkPath>
//	Switch_<RouterPath> OutPortBuffer <BufferPath> Link <LinkPath>
//
// Router paths are resolved to ids through the fabric. Other lines are
// ignored.
func ParsePortMap(r io.Reader, source string, f *Fabric) (*PortMap, error) {
	m := &PortMap{
		In:  make(map[Inport]string),
		Out: make(map[Outport]string),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if err := m.parseLine(source, lineNo, line, f); err != nil {
			return nil, err
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read port map %s: %w", source, err)
	}

	return m, nil
}

func (m *PortMap) parseLine(source string, lineNo int, line string, f *Fabric) error {
	if outportPattern.Attempts(line) {
		g, err := outportPattern.Match(source, lineNo, line)
		if err != nil {
			return err
		}

		router, ok := f.RouterByPath(g[1])
		if !ok {
			return errs.Mismatch(-1, "",
				"%s:%d: router %s is not in the fabric", source, lineNo, g[1])
		}

		m.Out[Outport{Router: router, Buffer: g[2]}] = g[3]

		return nil
	}

	g, err := inportPattern.Match(source, lineNo, line)
	if err != nil || g == nil {
		return err
	}

	router, _ := strconv.Atoi(g[1])
	port, _ := strconv.Atoi(g[2])

	if _, ok := f.Router(router); !ok {
		return errs.Mismatch(router, g[2],
			"%s:%d: router %d is not in the fabric", source, lineNo, router)
	}

	m.In[Inport{Router: router, Port: port}] = g[3]

	return nil
}

// InLink returns the link that feeds a router inport.
func (m *PortMap) InLink(router, port int) (string, error) {
	link, ok := m.In[Inport{Router: router, Port: port}]
	if !ok {
		return "", errs.Mismatch(router, fmt.Sprintf("in%d", port),
			"no link is attached to the inport")
	}

	return link, nil
}

// OutLink returns the link that a router outport buffer feeds.
func (m *PortMap) OutLink(router int, buffer string) (string, error) {
	link, ok := m.Out[Outport{Router: router, Buffer: buffer}]
	if !ok {
		return "", errs.Mismatch(router, buffer,
			"no link is attached to the outport buffer")
	}

	return link, nil
}

// Validate checks that every link referenced by the map is a link of the
// fabric or a queue of a controller that the fabric attaches.
func (m *PortMap) Validate(f *Fabric) error {
	ins := make([]Inport, 0, len(m.In))
	for k := range m.In {
		ins = append(ins, k)
	}

	sort.Slice(ins, func(i, j int) bool {
		if ins[i].Router != ins[j].Router {
			return ins[i].Router < ins[j].Router
		}

		return ins[i].Port < ins[j].Port
	})

	for _, k := range ins {
		if !knownLink(f, m.In[k]) {
			return errs.Mismatch(k.Router, fmt.Sprintf("in%d", k.Port),
				"link %s is not in the fabric", m.In[k])
		}
	}

	outs := make([]Outport, 0, len(m.Out))
	for k := range m.Out {
		outs = append(outs, k)
	}

	sort.Slice(outs, func(i, j int) bool {
		if outs[i].Router != outs[j].Router {
			return outs[i].Router < outs[j].Router
		}

		return outs[i].Buffer < outs[j].Buffer
	})

	for _, k := range outs {
		if !knownLink(f, m.Out[k]) {
			return errs.Mismatch(k.Router, k.Buffer,
				"link %s is not in the fabric", m.Out[k])
		}
	}

	return nil
}

func knownLink(f *Fabric, path string) bool {
	if f.IsLink(path) {
		return true
	}

	dot := strings.LastIndex(path, ".")
	if dot < 0 {
		return false
	}

	_, ok := f.ExtLinkOf(path[:dot])

	return ok
}
