// Package deadlock finds cycles in wait-for graphs and reports the
// canonical one.
package deadlock

import (
	"io"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/chifabric/waitfor"
)

// An Entry is a resource of a deadlock cycle.
type Entry struct {
	Name    string
	Kind    waitfor.Kind
	Message *waitfor.Message `json:",omitempty"`
	Inport  int
	Outport int
}

// Report is the result of a deadlock analysis of one snapshot.
//
// A report without a cycle only says that this snapshot is free of cycles.
// It does not prove that the system cannot deadlock.
type Report struct {
	Deadlocked bool
	Cycle      []Entry

	NumCycles    int
	Truncated    bool
	NumResources int
	NumEdges     int
	Unresolved   []string
}

// Detector searches wait-for graphs for cycles.
type Detector struct {
	log       logrus.FieldLogger
	maxCycles int
}

// MakeDetector creates a detector that gives up counting after 100000
// cycles.
func MakeDetector() Detector {
	l := logrus.New()
	l.SetOutput(io.Discard)

	return Detector{
		log:       l,
		maxCycles: 100000,
	}
}

// WithLogger sets the logger that reports the search.
func (d Detector) WithLogger(log logrus.FieldLogger) Detector {
	if log == nil {
		panic("logger must not be nil")
	}

	d.log = log
	return d
}

// WithMaxCycles bounds the number of cycles enumerated. Zero removes the
// bound. When the bound is reached, the witness is the smallest cycle seen
// so far.
func (d Detector) WithMaxCycles(n int) Detector {
	if n < 0 {
		panic("cycle limit must not be negative")
	}

	d.maxCycles = n
	return d
}

// Detect enumerates the simple cycles of the graph and reports the cycle
// whose sorted resource names form the lexicographically smallest tuple.
func (d Detector) Detect(g *waitfor.Graph) Report {
	names := g.Nodes()
	rank := make(map[string]int, len(names))
	for i, n := range names {
		rank[n] = i
	}

	report := Report{
		NumResources: len(names),
		NumEdges:     g.NumEdges(),
		Unresolved:   g.Unresolved(),
	}

	var best, bestKey []int

	w := &cycleWalker{
		g:     g,
		names: names,
		rank:  rank,
		limit: d.maxCycles,
		visitFn: func(cycle []int) {
			key := sortedCopy(cycle)
			if best == nil || lessTuple(key, bestKey) {
				best, bestKey = cycle, key
			}
		},
	}

	comps := components(g, names, rank)
	for _, c := range comps {
		if !w.walk(c) {
			report.Truncated = true
			break
		}
	}

	report.NumCycles = w.found

	if best != nil {
		report.Deadlocked = true
		report.Cycle = entries(g, names, best)
	}

	d.log.WithFields(logrus.Fields{
		"resources":  report.NumResources,
		"edges":      report.NumEdges,
		"components": len(comps),
		"cycles":     report.NumCycles,
		"truncated":  report.Truncated,
	}).Debug("cycle search done")

	return report
}

func entries(g *waitfor.Graph, names []string, cycle []int) []Entry {
	out := make([]Entry, 0, len(cycle))
	for _, v := range cycle {
		r, _ := g.Node(names[v])
		out = append(out, Entry{
			Name:    r.Name,
			Kind:    r.Kind,
			Message: r.Occupant,
			Inport:  r.Inport,
			Outport: r.Outport,
		})
	}

	return out
}

func sortedCopy(a []int) []int {
	c := append([]int(nil), a...)
	sort.Ints(c)

	return c
}

func lessTuple(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}

	return len(a) < len(b)
}
