package deadlock

import (
	"sort"

	"github.com/sarchlab/chifabric/waitfor"
)

// components returns the strongly connected components of the graph that
// can hold a cycle, that is, those with more than one resource or with a
// resource waiting for itself. Resources are identified by their rank in
// name order.
func components(g *waitfor.Graph, names []string, rank map[string]int) [][]int {
	t := tarjan{
		g:       g,
		names:   names,
		rank:    rank,
		index:   make([]int, len(names)),
		low:     make([]int, len(names)),
		onStack: make([]bool, len(names)),
	}

	for i := range t.index {
		t.index[i] = -1
	}

	for v := range names {
		if t.index[v] < 0 {
			t.visit(v)
		}
	}

	return t.cyclic
}

type tarjan struct {
	g     *waitfor.Graph
	names []string
	rank  map[string]int

	next    int
	index   []int
	low     []int
	stack   []int
	onStack []bool

	cyclic [][]int
}

func (t *tarjan) visit(v int) {
	t.index[v] = t.next
	t.low[v] = t.next
	t.next++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, s := range t.g.Successors(t.names[v]) {
		w := t.rank[s]

		switch {
		case t.index[w] < 0:
			t.visit(w)
			t.low[v] = min(t.low[v], t.low[w])
		case t.onStack[w]:
			t.low[v] = min(t.low[v], t.index[w])
		}
	}

	if t.low[v] != t.index[v] {
		return
	}

	var comp []int
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[w] = false
		comp = append(comp, w)

		if w == v {
			break
		}
	}

	if len(comp) > 1 || t.g.HasEdge(t.names[v], t.names[v]) {
		t.cyclic = append(t.cyclic, comp)
	}
}

// cycleWalker enumerates the simple cycles of one component. Each cycle is
// reported once, starting at its lowest ranked resource.
type cycleWalker struct {
	g     *waitfor.Graph
	names []string
	rank  map[string]int

	member  map[int]bool
	onPath  map[int]bool
	path    []int
	limit   int
	found   int
	visitFn func(cycle []int)
}

func (w *cycleWalker) walk(comp []int) bool {
	w.member = make(map[int]bool, len(comp))
	for _, v := range comp {
		w.member[v] = true
	}

	starts := append([]int(nil), comp...)
	sort.Ints(starts)

	for _, s := range starts {
		w.onPath = make(map[int]bool)
		w.path = w.path[:0]

		if !w.extend(s, s) {
			return false
		}
	}

	return true
}

// extend grows the path from v, only through resources ranked above the
// start. It returns false once the cycle limit is reached.
func (w *cycleWalker) extend(start, v int) bool {
	w.path = append(w.path, v)
	w.onPath[v] = true

	defer func() {
		w.path = w.path[:len(w.path)-1]
		w.onPath[v] = false
	}()

	for _, s := range w.g.Successors(w.names[v]) {
		n := w.rank[s]

		if !w.member[n] || n < start {
			continue
		}

		if n == start {
			w.found++
			w.visitFn(append([]int(nil), w.path...))

			if w.limit > 0 && w.found >= w.limit {
				return false
			}

			continue
		}

		if w.onPath[n] {
			continue
		}

		if !w.extend(start, n) {
			return false
		}
	}

	return true
}
