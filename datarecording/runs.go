package datarecording

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sarchlab/chifabric/catalog"
	"github.com/sarchlab/chifabric/deadlock"
	"github.com/sarchlab/chifabric/waitfor"
)

// Names of the tables that hold runs.
const (
	RunTable        = "run"
	ControllerTable = "controller"
	ReportTable     = "report"
	CycleTable      = "cycle_entry"
)

// Kinds of runs.
const (
	SynthRun    = "synth"
	DeadlockRun = "deadlock"
)

// RunEntry describes one recorded synthesis or analysis.
type RunEntry struct {
	ID     string
	Kind   string
	Source string
	Time   string
}

// ControllerEntry is a controller of a recorded catalog.
type ControllerEntry struct {
	Run             string
	ID              int
	Name            string
	Path            string
	Role            string
	Node            string
	Die             int
	Router          int
	RequestPool     int
	ReplacementPool int
	UnifiedPools    bool
	Ranges          string
	Downstream      string
}

// ReportEntry is the verdict of a recorded analysis.
type ReportEntry struct {
	Run           string
	Deadlocked    bool
	NumCycles     int
	Truncated     bool
	NumResources  int
	NumEdges      int
	NumUnresolved int
}

// CycleEntry is a resource of a recorded witness cycle.
type CycleEntry struct {
	Run        string
	Position   int
	Resource   string
	Kind       string
	Resolved   bool
	Address    uint64
	Opcode     string
	Src        string
	Dst        string
	AllowRetry bool
	Inport     int
	Outport    int
}

// RunRecorder records catalogs and deadlock reports as runs.
type RunRecorder struct {
	recorder DataRecorder
	now      func() time.Time
}

// NewRunRecorder creates the run tables in the recorder.
func NewRunRecorder(recorder DataRecorder) *RunRecorder {
	recorder.CreateTable(RunTable, RunEntry{})
	recorder.CreateTable(ControllerTable, ControllerEntry{})
	recorder.CreateTable(ReportTable, ReportEntry{})
	recorder.CreateTable(CycleTable, CycleEntry{})

	return &RunRecorder{recorder: recorder, now: time.Now}
}

func (r *RunRecorder) startRun(kind, source string) string {
	id := xid.New().String()
	r.recorder.InsertData(RunTable, RunEntry{
		ID:     id,
		Kind:   kind,
		Source: source,
		Time:   r.now().Format(time.RFC3339),
	})

	return id
}

// RecordCatalog records every controller of a sealed catalog and returns
// the id of the run.
func (r *RunRecorder) RecordCatalog(source string, cat *catalog.Catalog) string {
	run := r.startRun(SynthRun, source)

	for _, n := range cat.Nodes() {
		for _, ctrl := range n.Controllers {
			r.recorder.InsertData(ControllerTable, controllerEntry(run, n, ctrl))
		}
	}

	r.recorder.Flush()

	return run
}

func controllerEntry(run string, n *catalog.Node, ctrl *catalog.Controller) ControllerEntry {
	ranges := make([]string, len(ctrl.OwnedRanges))
	for i, rg := range ctrl.OwnedRanges {
		ranges[i] = rg.String()
	}

	downstream := make([]string, len(ctrl.Downstream))
	for i, d := range ctrl.Downstream {
		downstream[i] = d.Name
	}

	return ControllerEntry{
		Run:             run,
		ID:              int(ctrl.ID),
		Name:            ctrl.Name,
		Path:            ctrl.Path,
		Role:            ctrl.Role().Short(),
		Node:            n.Name(),
		Die:             n.ID.Die,
		Router:          n.Router,
		RequestPool:     ctrl.RequestPoolSize,
		ReplacementPool: ctrl.ReplacementPoolSize,
		UnifiedPools:    ctrl.UnifiedPools,
		Ranges:          strings.Join(ranges, ";"),
		Downstream:      strings.Join(downstream, ";"),
	}
}

// RecordReport records the verdict and the witness cycle of an analysis and
// returns the id of the run. Agents are named through the resolver when it
// is not nil.
func (r *RunRecorder) RecordReport(
	source string,
	rep deadlock.Report,
	resolver waitfor.AgentResolver,
) string {
	run := r.startRun(DeadlockRun, source)

	r.recorder.InsertData(ReportTable, ReportEntry{
		Run:           run,
		Deadlocked:    rep.Deadlocked,
		NumCycles:     rep.NumCycles,
		Truncated:     rep.Truncated,
		NumResources:  rep.NumResources,
		NumEdges:      rep.NumEdges,
		NumUnresolved: len(rep.Unresolved),
	})

	for i, e := range rep.Cycle {
		entry := CycleEntry{
			Run:      run,
			Position: i,
			Resource: e.Name,
			Kind:     e.Kind.String(),
			Inport:   e.Inport,
			Outport:  e.Outport,
		}

		if m := e.Message; m != nil {
			entry.Resolved = true
			entry.Address = m.Address
			entry.Opcode = m.Opcode
			entry.AllowRetry = m.AllowRetry

			if !m.Placeholder() {
				entry.Src = agentName(resolver, m.Src)
				entry.Dst = agentName(resolver, m.Dst)
			}
		}

		r.recorder.InsertData(CycleTable, entry)
	}

	r.recorder.Flush()

	return run
}

func agentName(r waitfor.AgentResolver, id int) string {
	if r != nil {
		if name, ok := r.AgentName(id); ok {
			return name
		}
	}

	return fmt.Sprintf("Cache-%d", id)
}

// RunReader reads runs back from a recording.
type RunReader struct {
	reader DataReader
}

// NewRunReader maps the run tables of the reader.
func NewRunReader(reader DataReader) *RunReader {
	reader.MapTable(RunTable, RunEntry{})
	reader.MapTable(ControllerTable, ControllerEntry{})
	reader.MapTable(ReportTable, ReportEntry{})
	reader.MapTable(CycleTable, CycleEntry{})

	return &RunReader{reader: reader}
}

// Runs lists the recorded runs of a kind, or of every kind when kind is
// empty, oldest first.
func (r *RunReader) Runs(ctx context.Context, kind string) ([]RunEntry, error) {
	params := QueryParams{OrderBy: "rowid"}
	if kind != "" {
		params.Where = "Kind = ?"
		params.Args = []any{kind}
	}

	results, _, err := r.reader.Query(ctx, RunTable, params)
	if err != nil {
		return nil, err
	}

	return collect[RunEntry](results), nil
}

// Controllers returns the controllers recorded by a synthesis run.
func (r *RunReader) Controllers(ctx context.Context, run string) ([]ControllerEntry, error) {
	results, _, err := r.reader.Query(ctx, ControllerTable, QueryParams{
		Where:   "Run = ?",
		Args:    []any{run},
		OrderBy: "ID",
	})
	if err != nil {
		return nil, err
	}

	return collect[ControllerEntry](results), nil
}

// Report returns the verdict and the witness cycle of an analysis run.
func (r *RunReader) Report(ctx context.Context, run string) (ReportEntry, []CycleEntry, error) {
	results, _, err := r.reader.Query(ctx, ReportTable, QueryParams{
		Where: "Run = ?",
		Args:  []any{run},
	})
	if err != nil {
		return ReportEntry{}, nil, err
	}

	if len(results) == 0 {
		return ReportEntry{}, nil, fmt.Errorf("no report recorded for run %s", run)
	}

	cycle, _, err := r.reader.Query(ctx, CycleTable, QueryParams{
		Where:   "Run = ?",
		Args:    []any{run},
		OrderBy: "Position",
	})
	if err != nil {
		return ReportEntry{}, nil, err
	}

	return *results[0].(*ReportEntry), collect[CycleEntry](cycle), nil
}

// Close closes the underlying reader.
func (r *RunReader) Close() error {
	return r.reader.Close()
}

func collect[T any](results []any) []T {
	out := make([]T, 0, len(results))
	for _, res := range results {
		out = append(out, *res.(*T))
	}

	return out
}
