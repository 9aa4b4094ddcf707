package catalog

import (
	"github.com/sarchlab/chifabric/addr"
)

// View is a pointer-free snapshot of a catalog. References are expressed by
// name, so that two catalogs can be compared structurally and the snapshot
// can be serialized.
type View struct {
	LineSize uint64     `json:"line_size"`
	Dies     []DieView  `json:"dies"`
	Pairs    []PairView `json:"pairs"`
}

// DieView is the snapshot of a die.
type DieView struct {
	ID     int          `json:"id"`
	Name   string       `json:"name"`
	Ranges []addr.Range `json:"ranges"`
	Nodes  []NodeView   `json:"nodes"`
}

// NodeView is the snapshot of a node.
type NodeView struct {
	Name        string           `json:"name"`
	Role        Role             `json:"role"`
	Die         int              `json:"die"`
	Index       int              `json:"index"`
	Router      int              `json:"router"`
	Controllers []ControllerView `json:"controllers"`
	Downstream  []string         `json:"downstream"`
}

// ControllerView is the snapshot of a controller.
type ControllerView struct {
	ID                  ControllerID `json:"id"`
	Name                string       `json:"name"`
	Path                string       `json:"path"`
	Role                Role         `json:"role"`
	Detail              string       `json:"detail,omitempty"`
	Ranges              []addr.Range `json:"ranges,omitempty"`
	RequestPoolSize     int          `json:"request_pool_size"`
	ReplacementPoolSize int          `json:"replacement_pool_size"`
	UnifiedPools        bool         `json:"unified_pools"`
	Queues              []Queue      `json:"queues"`
	Downstream          []string     `json:"downstream"`
	Partner             string       `json:"partner,omitempty"`
}

// PairView is the snapshot of a die bridge pair.
type PairView struct {
	A        int    `json:"a"`
	B        int    `json:"b"`
	Forward  string `json:"forward"`
	Backward string `json:"backward"`
}

// View takes a snapshot of the catalog.
func (c *Catalog) View() View {
	v := View{LineSize: c.LineSize}

	for _, d := range c.Dies {
		dv := DieView{ID: d.ID, Name: d.Name(), Ranges: d.Ranges}
		for _, n := range d.Nodes() {
			dv.Nodes = append(dv.Nodes, NodeViewOf(n))
		}

		v.Dies = append(v.Dies, dv)
	}

	for _, p := range c.BridgePairs() {
		v.Pairs = append(v.Pairs, PairView{
			A:        p.Pair.A,
			B:        p.Pair.B,
			Forward:  p.Forward.Name,
			Backward: p.Backward.Name,
		})
	}

	return v
}

// NodeViewOf takes a snapshot of a node.
func NodeViewOf(n *Node) NodeView {
	nv := NodeView{
		Name:       n.Name(),
		Role:       n.Role(),
		Die:        n.ID.Die,
		Index:      n.ID.Index,
		Router:     n.Router,
		Downstream: names(n.Downstream()),
	}

	for _, ctrl := range n.Controllers {
		nv.Controllers = append(nv.Controllers, ControllerViewOf(ctrl))
	}

	return nv
}

// ControllerViewOf takes a snapshot of a controller.
func ControllerViewOf(ctrl *Controller) ControllerView {
	cv := ControllerView{
		ID:                  ctrl.ID,
		Name:                ctrl.Name,
		Path:                ctrl.Path,
		Role:                ctrl.Role(),
		Detail:              variantDetail(ctrl.Variant),
		Ranges:              ctrl.OwnedRanges,
		RequestPoolSize:     ctrl.RequestPoolSize,
		ReplacementPoolSize: ctrl.ReplacementPoolSize,
		UnifiedPools:        ctrl.UnifiedPools,
		Downstream:          names(ctrl.Downstream),
	}

	for _, name := range ctrl.QueueNames() {
		cv.Queues = append(cv.Queues, *ctrl.Queues[name])
	}

	if b, ok := ctrl.Bridge(); ok && b.Partner != nil {
		cv.Partner = b.Partner.Name
	}

	return cv
}

func variantDetail(v Variant) string {
	switch v := v.(type) {
	case CacheInfo:
		return BuildNameWithIndex("", "Core", v.Core) + "." + v.Level.String()
	case HomeInfo:
		return BuildNameWithIndex("", "Home", v.Index)
	case MemoryInfo:
		return BuildNameWithIndex("", "Memory", v.Index)
	case *BridgeInfo:
		return DieName(v.SrcDie) + "->" + DieName(v.DstDie)
	}

	return ""
}

func names(ctrls []*Controller) []string {
	if len(ctrls) == 0 {
		return nil
	}

	s := make([]string, len(ctrls))
	for i, c := range ctrls {
		s[i] = c.Name
	}

	return s
}
