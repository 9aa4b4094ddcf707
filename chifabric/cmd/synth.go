package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/chifabric/catalog"
	"github.com/sarchlab/chifabric/fabric"
)

// Names of the files written by synth --fabric-out.
const (
	fabricFileName  = "config.json"
	portLogFileName = "ports.log"
)

type synthOptions struct {
	out       string
	fabricOut string
	vnets     int
	record    string
}

func newSynthCmd(log *logrus.Logger) *cobra.Command {
	o := &synthOptions{}

	synthCmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize the node catalog of a multi-die fabric.",
		Long: `Synthesize the node catalog of a multi-die CHI fabric from a ` +
			`YAML configuration and flag overrides. The catalog can be ` +
			`written as JSON, together with a fabric description and port ` +
			`log that the deadlock command can read.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd, log)
		},
	}

	addConfigFlags(synthCmd)

	f := synthCmd.Flags()
	f.StringVarP(&o.out, "out", "o", "",
		"Write the catalog as JSON to this file, - for standard output.")
	f.StringVar(&o.fabricOut, "fabric-out", "",
		"Write a mesh fabric description and its port log into this directory.")
	f.IntVar(&o.vnets, "vnets", 4, "Virtual networks of the generated fabric.")
	f.StringVar(&o.record, "record", envOr(envRecord, ""),
		"Record the catalog into this SQLite database or clickhouse:// DSN.")

	return synthCmd
}

func (o *synthOptions) run(cmd *cobra.Command, log logrus.FieldLogger) error {
	cat, cfg, err := catalogFromFlags(cmd, log)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"synthesized %d dies, %d nodes, %d controllers\n",
		len(cat.Dies), len(cat.Nodes()), len(cat.Controllers()))

	if o.out != "" {
		if err := o.writeCatalog(cmd, cat); err != nil {
			return err
		}
	}

	if o.fabricOut != "" {
		mesh := fabric.Mesh{Rows: cfg.MeshRows, Cols: cfg.MeshCols}
		if err := o.writeFabric(cat, mesh); err != nil {
			return err
		}
	}

	if o.record != "" {
		rec, runs, err := openRecorder(o.record)
		if err != nil {
			return err
		}
		defer rec.Close()

		source, _ := cmd.Flags().GetString("config")
		if source == "" {
			source = "flags"
		}

		run := runs.RecordCatalog(source, cat)
		log.WithField("run", run).Info("catalog recorded")
	}

	return nil
}

func (o *synthOptions) writeCatalog(cmd *cobra.Command, cat *catalog.Catalog) error {
	data, err := json.MarshalIndent(cat.View(), "", "  ")
	if err != nil {
		return err
	}

	data = append(data, '\n')

	if o.out == "-" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	if err := os.WriteFile(o.out, data, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}

	return nil
}

func (o *synthOptions) writeFabric(cat *catalog.Catalog, mesh fabric.Mesh) error {
	gen, err := fabric.FromCatalog(cat, mesh, o.vnets)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(o.fabricOut, 0o755); err != nil {
		return fmt.Errorf("create fabric directory: %w", err)
	}

	fabricFile, err := os.Create(filepath.Join(o.fabricOut, fabricFileName))
	if err != nil {
		return fmt.Errorf("write fabric: %w", err)
	}
	defer fabricFile.Close()

	if err := gen.Fabric.Encode(fabricFile); err != nil {
		return fmt.Errorf("write fabric: %w", err)
	}

	portFile, err := os.Create(filepath.Join(o.fabricOut, portLogFileName))
	if err != nil {
		return fmt.Errorf("write port log: %w", err)
	}
	defer portFile.Close()

	if err := gen.WritePortLog(portFile); err != nil {
		return fmt.Errorf("write port log: %w", err)
	}

	return nil
}
