// Package fabric describes the routers and links of a simulated network and
// maps router ports to the links attached to them.
package fabric

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/sarchlab/chifabric/errs"
)

// A Router is a switch of the network. Its id is its position in the router
// list, which is also the id the simulator reports in traces.
type Router struct {
	ID   int
	Path string
}

// An IntLink is a unidirectional link between two routers.
type IntLink struct {
	ID   int
	Name string
	Path string
	Src  string
	Dst  string
}

// An ExtLink is a bidirectional link between a router and a controller.
type ExtLink struct {
	ID      int
	Name    string
	Path    string
	IntNode string
	ExtNode string
}

// Fabric is a network description.
type Fabric struct {
	Routers  []Router
	IntLinks []IntLink
	ExtLinks []ExtLink

	routerByPath map[string]int
	intByPath    map[string]int
	extByPath    map[string]int
	extByNode    map[string]int
}

// nodeRef is a reference to a simulator object, written either as its path
// or as an object that carries a path field.
type nodeRef string

func (r *nodeRef) UnmarshalJSON(data []byte) error {
	var path string
	if err := json.Unmarshal(data, &path); err == nil {
		*r = nodeRef(path)
		return nil
	}

	var obj struct {
		Path string `json:"path"`
	}

	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	*r = nodeRef(obj.Path)

	return nil
}

type linkDoc struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	SrcNode *nodeRef `json:"src_node,omitempty"`
	DstNode *nodeRef `json:"dst_node,omitempty"`
	IntNode *nodeRef `json:"int_node,omitempty"`
	ExtNode *nodeRef `json:"ext_node,omitempty"`
}

type networkDoc struct {
	Routers  []nodeRef `json:"routers"`
	IntLinks []linkDoc `json:"int_links"`
	ExtLinks []linkDoc `json:"ext_links"`
}

type document struct {
	System struct {
		Ruby struct {
			Network networkDoc `json:"network"`
		} `json:"ruby"`
	} `json:"system"`
}

// Load reads a fabric description file.
func Load(path string) (*Fabric, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fabric: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode reads a fabric description in the simulator configuration layout,
// system.ruby.network.{routers,int_links,ext_links}.
func Decode(r io.Reader) (*Fabric, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errs.Config(errs.Invalid, "decode fabric: %v", err)
	}

	net := doc.System.Ruby.Network
	f := &Fabric{}

	for i, r := range net.Routers {
		f.Routers = append(f.Routers, Router{ID: i, Path: string(r)})
	}

	for i, l := range net.IntLinks {
		f.IntLinks = append(f.IntLinks, IntLink{
			ID:   i,
			Name: l.Name,
			Path: l.Path,
			Src:  deref(l.SrcNode),
			Dst:  deref(l.DstNode),
		})
	}

	for i, l := range net.ExtLinks {
		f.ExtLinks = append(f.ExtLinks, ExtLink{
			ID:      i,
			Name:    l.Name,
			Path:    l.Path,
			IntNode: deref(l.IntNode),
			ExtNode: deref(l.ExtNode),
		})
	}

	if err := f.index(); err != nil {
		return nil, err
	}

	return f, nil
}

func deref(r *nodeRef) string {
	if r == nil {
		return ""
	}

	return string(*r)
}

func ref(s string) *nodeRef {
	r := nodeRef(s)
	return &r
}

// Encode writes the fabric in the layout that Decode reads.
func (f *Fabric) Encode(w io.Writer) error {
	var doc document

	net := &doc.System.Ruby.Network
	net.Routers = make([]nodeRef, 0, len(f.Routers))
	net.IntLinks = make([]linkDoc, 0, len(f.IntLinks))
	net.ExtLinks = make([]linkDoc, 0, len(f.ExtLinks))

	for _, r := range f.Routers {
		net.Routers = append(net.Routers, nodeRef(r.Path))
	}

	for _, l := range f.IntLinks {
		net.IntLinks = append(net.IntLinks, linkDoc{
			Name: l.Name, Path: l.Path, SrcNode: ref(l.Src), DstNode: ref(l.Dst),
		})
	}

	for _, l := range f.ExtLinks {
		net.ExtLinks = append(net.ExtLinks, linkDoc{
			Name: l.Name, Path: l.Path, IntNode: ref(l.IntNode), ExtNode: ref(l.ExtNode),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(doc)
}

func (f *Fabric) index() error {
	f.routerByPath = make(map[string]int)
	f.intByPath = make(map[string]int)
	f.extByPath = make(map[string]int)
	f.extByNode = make(map[string]int)

	for i, r := range f.Routers {
		if r.Path == "" {
			return errs.Config(errs.Invalid, "fabric: router %d has no path", i)
		}

		if _, dup := f.routerByPath[r.Path]; dup {
			return errs.Config(errs.Invalid, "fabric: duplicated router %s", r.Path)
		}

		f.routerByPath[r.Path] = i
	}

	for i, l := range f.IntLinks {
		if _, dup := f.intByPath[l.Path]; dup {
			return errs.Config(errs.Invalid, "fabric: duplicated link %s", l.Path)
		}

		if !f.isRouter(l.Src) || !f.isRouter(l.Dst) {
			return errs.Config(errs.Invalid,
				"fabric: internal link %s does not connect two routers", l.Path)
		}

		f.intByPath[l.Path] = i
	}

	for i, l := range f.ExtLinks {
		if _, dup := f.extByPath[l.Path]; dup {
			return errs.Config(errs.Invalid, "fabric: duplicated link %s", l.Path)
		}

		if !f.isRouter(l.IntNode) {
			return errs.Config(errs.Invalid,
				"fabric: external link %s is not attached to a router", l.Path)
		}

		if l.ExtNode == "" {
			return errs.Config(errs.Invalid,
				"fabric: external link %s has no controller", l.Path)
		}

		f.extByPath[l.Path] = i
		f.extByNode[l.ExtNode] = i
	}

	return nil
}

func (f *Fabric) isRouter(path string) bool {
	_, ok := f.routerByPath[path]
	return ok
}

// RouterByPath finds the id of a router.
func (f *Fabric) RouterByPath(path string) (int, bool) {
	id, ok := f.routerByPath[path]
	return id, ok
}

// Router returns the router with the given id.
func (f *Fabric) Router(id int) (Router, bool) {
	if id < 0 || id >= len(f.Routers) {
		return Router{}, false
	}

	return f.Routers[id], true
}

// IntLinkByPath finds an internal link.
func (f *Fabric) IntLinkByPath(path string) (IntLink, bool) {
	i, ok := f.intByPath[path]
	if !ok {
		return IntLink{}, false
	}

	return f.IntLinks[i], true
}

// ExtLinkByPath finds an external link.
func (f *Fabric) ExtLinkByPath(path string) (ExtLink, bool) {
	i, ok := f.extByPath[path]
	if !ok {
		return ExtLink{}, false
	}

	return f.ExtLinks[i], true
}

// ExtLinkOf finds the external link that attaches a controller.
func (f *Fabric) ExtLinkOf(controllerPath string) (ExtLink, bool) {
	i, ok := f.extByNode[controllerPath]
	if !ok {
		return ExtLink{}, false
	}

	return f.ExtLinks[i], true
}

// Direction tells which way a link carries traffic relative to a router.
type Direction int

// Directions of a link.
const (
	Inbound Direction = iota
	Outbound
)

var linkNumber = regexp.MustCompile(`(\d+)$`)

// Alias returns the short name of a link buffer as seen from a router port.
// Internal links are named iN. External links are named eN.up when they feed
// a router and eN.down when a router feeds them. Other buffers, such as
// controller queues, keep their path.
func (f *Fabric) Alias(linkPath string, dir Direction) string {
	if l, ok := f.IntLinkByPath(linkPath); ok {
		return "i" + linkSuffix(l.Name, l.ID)
	}

	if l, ok := f.ExtLinkByPath(linkPath); ok {
		if dir == Inbound {
			return "e" + linkSuffix(l.Name, l.ID) + ".up"
		}

		return "e" + linkSuffix(l.Name, l.ID) + ".down"
	}

	return linkPath
}

func linkSuffix(name string, id int) string {
	if m := linkNumber.FindString(name); m != "" {
		return m
	}

	return fmt.Sprint(id)
}

// IsLink tells if the path names a link of the fabric.
func (f *Fabric) IsLink(path string) bool {
	_, isInt := f.intByPath[path]
	_, isExt := f.extByPath[path]

	return isInt || isExt
}

// OutportBuffer returns the path of the buffer that holds the messages of a
// virtual network waiting at a router outport.
func (f *Fabric) OutportBuffer(router, outport, vnet, numVnets int) (string, error) {
	r, ok := f.Router(router)
	if !ok {
		return "", errs.Mismatch(router, fmt.Sprint(outport),
			"router %d is not in the fabric", router)
	}

	return fmt.Sprintf("%s.port_buffers%02d", r.Path, numVnets*outport+vnet), nil
}
