package cmd

import (
	"fmt"

	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/chifabric/datarecording"
	"github.com/sarchlab/chifabric/monitoring"
)

type inspectOptions struct {
	db   string
	port int
	open bool
}

func newInspectCmd(log *logrus.Logger) *cobra.Command {
	o := &inspectOptions{}

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Serve a catalog and recorded runs over HTTP.",
		Long: `Synthesize the catalog described by the configuration flags ` +
			`and serve it, with the runs of a recorded database, on a local ` +
			`inspection page.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, log)
		},
	}

	addConfigFlags(inspectCmd)

	f := inspectCmd.Flags()
	f.StringVar(&o.db, "db", "", "Recorded SQLite database to serve.")
	f.IntVar(&o.port, "port", envIntOr(envInspectPort, 0),
		"Port of the inspection page, 0 for a random port.")
	f.BoolVar(&o.open, "open", false, "Open the page in a browser.")

	return inspectCmd
}

func (o *inspectOptions) run(cmd *cobra.Command, log logrus.FieldLogger) error {
	cat, _, err := catalogFromFlags(cmd, log)
	if err != nil {
		return err
	}

	monitor := monitoring.NewMonitor().
		WithPortNumber(o.port).
		WithLogger(log)
	monitor.RegisterCatalog(cat)

	if o.db != "" {
		reader, err := datarecording.NewReader(o.db)
		if err != nil {
			return err
		}

		runs := datarecording.NewRunReader(reader)
		defer runs.Close()

		monitor.RegisterRuns(runs)
	}

	url, err := monitor.StartServer()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Inspecting at %s, press Ctrl-C to stop.\n", url)

	if o.open {
		if err := browser.OpenURL(url); err != nil {
			log.WithError(err).Warn("cannot open a browser")
		}
	}

	waitForInterrupt(cmd.Context())

	return nil
}
