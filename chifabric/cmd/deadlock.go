package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/chifabric/catalog"
	"github.com/sarchlab/chifabric/deadlock"
	"github.com/sarchlab/chifabric/fabric"
	"github.com/sarchlab/chifabric/monitoring"
	"github.com/sarchlab/chifabric/waitfor"
)

type deadlockOptions struct {
	trace     string
	fabric    string
	portMap   string
	vnets     int
	maxTick   uint64
	maxCycles int
	csv       string
	dot       string
	record    string
	inspect   bool
	port      int
}

func newDeadlockCmd(log *logrus.Logger) *cobra.Command {
	o := &deadlockOptions{}

	deadlockCmd := &cobra.Command{
		Use:   "deadlock",
		Short: "Look for a protocol deadlock in a runtime trace.",
		Long: `Rebuild the wait-for graph of the blocked messages in a ` +
			`runtime trace and report the canonical witness cycle. ` +
			`Synthesis flags or --config name the catalog that resolves ` +
			`agent ids and stalled controllers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, log)
		},
	}

	addConfigFlags(deadlockCmd)

	f := deadlockCmd.Flags()
	f.StringVar(&o.trace, "trace", "", "Runtime trace to analyze.")
	f.StringVar(&o.fabric, "fabric", "", "Fabric description (config.json).")
	f.StringVar(&o.portMap, "port-map", "", "Port/link identity log.")
	f.IntVar(&o.vnets, "vnets", 4, "Number of virtual networks.")
	f.Uint64Var(&o.maxTick, "max-tick", 0,
		"Ignore the trace events after this tick.")
	f.IntVar(&o.maxCycles, "max-cycles", 100000,
		"Stop enumerating cycles after this many, 0 for no limit.")
	f.StringVar(&o.csv, "csv", "", "Write the witness cycle as CSV.")
	f.StringVar(&o.dot, "dot", "", "Write the witness cycle as Graphviz DOT.")
	f.StringVar(&o.record, "record", envOr(envRecord, ""),
		"Record the report into this SQLite database or clickhouse:// DSN.")
	f.BoolVar(&o.inspect, "inspect", false,
		"Serve the inspection page during and after the analysis.")
	f.IntVar(&o.port, "port", envIntOr(envInspectPort, 0),
		"Port of the inspection page, 0 for a random port.")

	for _, name := range []string{"trace", "fabric", "port-map"} {
		if err := deadlockCmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}

	return deadlockCmd
}

func (o *deadlockOptions) run(cmd *cobra.Command, log logrus.FieldLogger) error {
	if o.vnets < 1 {
		return fmt.Errorf("virtual network count must be at least 1, got %d", o.vnets)
	}

	if o.maxCycles < 0 {
		return fmt.Errorf("max cycles must not be negative, got %d", o.maxCycles)
	}

	var cat *catalog.Catalog
	if wantsCatalog(cmd) {
		var err error

		cat, _, err = catalogFromFlags(cmd, log)
		if err != nil {
			return err
		}
	}

	fab, err := fabric.Load(o.fabric)
	if err != nil {
		return err
	}

	ports, err := fabric.LoadPortMap(o.portMap, fab)
	if err != nil {
		return err
	}

	if err := ports.Validate(fab); err != nil {
		return err
	}

	var monitor *monitoring.Monitor
	if o.inspect {
		monitor, err = o.startMonitor(cmd, log, cat)
		if err != nil {
			return err
		}
	}

	snapshot, err := o.readTrace(log, monitor, cmd.Flags().Changed("max-tick"))
	if err != nil {
		return err
	}

	builder := waitfor.MakeBuilder().
		WithLogger(log).
		WithFabric(fab).
		WithPortMap(ports).
		WithVnets(o.vnets)
	if cat != nil {
		builder = builder.WithCatalog(cat)
	}

	g, err := builder.Build(snapshot)
	if err != nil {
		return err
	}

	rep := deadlock.MakeDetector().
		WithLogger(log).
		WithMaxCycles(o.maxCycles).
		Detect(g)

	var resolver waitfor.AgentResolver
	if cat != nil {
		resolver = cat
	}

	if snapshot.Empty() {
		log.WithField("trace", o.trace).Info("no blocked message in the trace")
	}

	if err := o.writeReport(cmd, rep, resolver); err != nil {
		return err
	}

	if o.record != "" {
		rec, runs, err := openRecorder(o.record)
		if err != nil {
			return err
		}
		defer rec.Close()

		run := runs.RecordReport(o.trace, rep, resolver)
		log.WithField("run", run).Info("report recorded")
	}

	if monitor != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop the inspection server.")
		waitForInterrupt(cmd.Context())
	}

	return nil
}

func (o *deadlockOptions) startMonitor(
	cmd *cobra.Command,
	log logrus.FieldLogger,
	cat *catalog.Catalog,
) (*monitoring.Monitor, error) {
	monitor := monitoring.NewMonitor().
		WithPortNumber(o.port).
		WithLogger(log)
	if cat != nil {
		monitor.RegisterCatalog(cat)
	}

	url, err := monitor.StartServer()
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Inspecting the analysis at %s\n", url)

	return monitor, nil
}

func (o *deadlockOptions) readTrace(
	log logrus.FieldLogger,
	monitor *monitoring.Monitor,
	limited bool,
) (*waitfor.Snapshot, error) {
	reader := waitfor.MakeReader().WithLogger(log)
	if limited {
		reader = reader.WithMaxTick(o.maxTick)
	}

	if monitor != nil {
		info, err := os.Stat(o.trace)
		if err != nil {
			return nil, fmt.Errorf("open trace: %w", err)
		}

		bar := monitor.CreateProgressBar("read "+o.trace, uint64(info.Size()))
		defer monitor.CompleteProgressBar(bar)

		reader = reader.WithProgress(bar)
	}

	return reader.ReadFile(o.trace)
}

func (o *deadlockOptions) writeReport(
	cmd *cobra.Command,
	rep deadlock.Report,
	resolver waitfor.AgentResolver,
) error {
	if err := deadlock.WriteTable(cmd.OutOrStdout(), rep, resolver); err != nil {
		return err
	}

	if o.csv != "" {
		err := writeFile(o.csv, func(w io.Writer) error {
			return deadlock.WriteCSV(w, rep, resolver)
		})
		if err != nil {
			return err
		}
	}

	if o.dot != "" {
		err := writeFile(o.dot, func(w io.Writer) error {
			return deadlock.WriteDOT(w, rep, resolver)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func writeFile(path string, write func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}

	return f.Close()
}
