package deadlock

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sarchlab/chifabric/waitfor"
)

const noOccupant = "unresolved"

// MessageField renders the occupant of an entry as
// addr|opcode|src-->dst|retry|inport-->outport.
func (e Entry) MessageField(r waitfor.AgentResolver) string {
	if e.Message == nil {
		return noOccupant
	}

	return fmt.Sprintf("%s|%d-->%d", e.Message.Format(r), e.Inport, e.Outport)
}

// Summary returns a one-line verdict.
func (rep Report) Summary() string {
	if !rep.Deadlocked {
		return "no deadlock in this snapshot"
	}

	s := fmt.Sprintf("deadlock: %d resources in the witness cycle, %d cycles found",
		len(rep.Cycle), rep.NumCycles)
	if rep.Truncated {
		s += " (search truncated)"
	}

	return s
}

// WriteCSV writes the witness cycle with an Agent,Message header. A report
// without a cycle writes the header only.
func WriteCSV(w io.Writer, rep Report, r waitfor.AgentResolver) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"Agent", "Message"}); err != nil {
		return err
	}

	for _, e := range rep.Cycle {
		if err := cw.Write([]string{e.Name, e.MessageField(r)}); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}

// WriteTable writes the verdict followed by an aligned table of the
// witness cycle.
func WriteTable(w io.Writer, rep Report, r waitfor.AgentResolver) error {
	if _, err := fmt.Fprintln(w, rep.Summary()); err != nil {
		return err
	}

	if !rep.Deadlocked {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tRESOURCE\tKIND\tMESSAGE")

	for i, e := range rep.Cycle {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, e.Name, e.Kind, e.MessageField(r))
	}

	if len(rep.Unresolved) > 0 {
		fmt.Fprintf(tw, "\nunresolved: %s\n", strings.Join(rep.Unresolved, ", "))
	}

	return tw.Flush()
}

var kindColors = map[waitfor.Kind]string{
	waitfor.RouterPort:      "red",
	waitfor.LinkBuffer:      "blue",
	waitfor.ControllerQueue: "green",
}

// WriteDOT writes the witness cycle as a Graphviz digraph.
func WriteDOT(w io.Writer, rep Report, r waitfor.AgentResolver) error {
	var b strings.Builder

	b.WriteString("digraph deadlock {\n")
	b.WriteString("  node [shape=box, style=rounded];\n")

	for _, e := range rep.Cycle {
		label := e.Name
		if e.Message != nil {
			label += "\n" + e.Message.Format(r)
		}

		fmt.Fprintf(&b, "  %q [label=%q, color=%s];\n",
			e.Name, label, kindColors[e.Kind])
	}

	for i, e := range rep.Cycle {
		next := rep.Cycle[(i+1)%len(rep.Cycle)]
		fmt.Fprintf(&b, "  %q -> %q;\n", e.Name, next.Name)
	}

	b.WriteString("}\n")

	_, err := io.WriteString(w, b.String())

	return err
}
