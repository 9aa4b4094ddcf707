package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/chifabric/catalog"
	"github.com/sarchlab/chifabric/topology"
)

var configFlagNames = []string{
	"config", "dies", "cores", "homes", "mems", "line-size", "mem-size",
	"scramble-width", "hnf-tbe", "tbe-ratio", "unify-tbe", "rnf-tbe",
	"snf-tbe", "private-l2", "misc-node", "mesh-rows", "mesh-cols",
}

// addConfigFlags registers the synthesis parameters that may override the
// configuration file.
func addConfigFlags(cmd *cobra.Command) {
	d := topology.DefaultConfig()
	f := cmd.Flags()

	f.String("config", "", "YAML synthesis configuration file.")
	f.Int("dies", d.Dies, "Number of dies.")
	f.Int("cores", d.CoresPerDie, "Number of cores per die.")
	f.Int("homes", d.HomesPerDie, "Number of home nodes per die.")
	f.Int("mems", d.MemoriesPerDie, "Number of memory nodes per die.")
	f.Uint64("line-size", d.LineSize, "Cache line size in bytes.")
	f.Uint64("mem-size", d.MemSize,
		"Physical memory size used for die selection, 0 to derive it from "+
			"the regions.")
	f.Int("scramble-width", d.ScrambleWidth,
		"Address bits folded into each home selection bit, 0 or 1 to disable.")
	f.Int("hnf-tbe", d.HomeTBE, "Transaction buffer budget of a home node.")
	f.String("tbe-ratio", d.TBERatio,
		"Request-to-replacement split of the home node budget, such as 3-1.")
	f.Bool("unify-tbe", d.UnifyTBE,
		"Let home node request and replacement pools share entries.")
	f.Int("rnf-tbe", d.RequestTBE, "Transaction buffers of a private L2.")
	f.Int("snf-tbe", d.MemoryTBE, "Transaction buffers of a memory node.")
	f.Bool("private-l2", d.PrivateL2, "Give every core a private L2.")
	f.Bool("misc-node", d.MiscNode, "Add a misc node to every die.")
	f.Int("mesh-rows", d.MeshRows, "Rows of the mesh of a die.")
	f.Int("mesh-cols", d.MeshCols, "Columns of the mesh of a die.")
}

// configFromFlags loads the configuration file, if any, and applies the
// flags that the user set explicitly.
func configFromFlags(cmd *cobra.Command) (topology.Config, error) {
	f := cmd.Flags()

	cfg := topology.DefaultConfig()

	path, _ := f.GetString("config")
	if path != "" {
		var err error

		cfg, err = topology.LoadConfig(path)
		if err != nil {
			return topology.Config{}, err
		}
	}

	ints := map[string]*int{
		"dies":           &cfg.Dies,
		"cores":          &cfg.CoresPerDie,
		"homes":          &cfg.HomesPerDie,
		"mems":           &cfg.MemoriesPerDie,
		"scramble-width": &cfg.ScrambleWidth,
		"hnf-tbe":        &cfg.HomeTBE,
		"rnf-tbe":        &cfg.RequestTBE,
		"snf-tbe":        &cfg.MemoryTBE,
		"mesh-rows":      &cfg.MeshRows,
		"mesh-cols":      &cfg.MeshCols,
	}
	for name, dst := range ints {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}

	uints := map[string]*uint64{
		"line-size": &cfg.LineSize,
		"mem-size":  &cfg.MemSize,
	}
	for name, dst := range uints {
		if f.Changed(name) {
			*dst, _ = f.GetUint64(name)
		}
	}

	bools := map[string]*bool{
		"unify-tbe":  &cfg.UnifyTBE,
		"private-l2": &cfg.PrivateL2,
		"misc-node":  &cfg.MiscNode,
	}
	for name, dst := range bools {
		if f.Changed(name) {
			*dst, _ = f.GetBool(name)
		}
	}

	if f.Changed("tbe-ratio") {
		cfg.TBERatio, _ = f.GetString("tbe-ratio")
	}

	return cfg, nil
}

// catalogFromFlags synthesizes the catalog described by the configuration
// flags.
func catalogFromFlags(
	cmd *cobra.Command,
	log logrus.FieldLogger,
) (*catalog.Catalog, topology.Config, error) {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return nil, topology.Config{}, err
	}

	b, err := cfg.Builder()
	if err != nil {
		return nil, topology.Config{}, err
	}

	cat, err := b.WithLogger(log).Build()
	if err != nil {
		return nil, topology.Config{}, err
	}

	return cat, cfg, nil
}

// wantsCatalog tells if the user gave any synthesis parameter.
func wantsCatalog(cmd *cobra.Command) bool {
	for _, name := range configFlagNames {
		if cmd.Flags().Changed(name) {
			return true
		}
	}

	return false
}
