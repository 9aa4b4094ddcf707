package topology

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/chifabric/addr"
	"github.com/sarchlab/chifabric/catalog"
	"github.com/sarchlab/chifabric/errs"
)

// RegionConfig is a memory region in a configuration file.
type RegionConfig struct {
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
}

// Config is the file form of the synthesis parameters.
type Config struct {
	Dies           int `yaml:"dies"`
	CoresPerDie    int `yaml:"cores_per_die"`
	HomesPerDie    int `yaml:"homes_per_die"`
	MemoriesPerDie int `yaml:"memories_per_die"`

	LineSize      uint64         `yaml:"line_size"`
	MemSize       uint64         `yaml:"mem_size"`
	Regions       []RegionConfig `yaml:"regions"`
	ScrambleWidth int            `yaml:"scramble_width"`

	HomeTBE    int    `yaml:"hnf_tbe"`
	TBERatio   string `yaml:"tbe_ratio"`
	UnifyTBE   bool   `yaml:"unify_tbe"`
	RequestTBE int    `yaml:"rnf_tbe"`
	MemoryTBE  int    `yaml:"snf_tbe"`

	PrivateL2 bool `yaml:"private_l2"`
	MiscNode  bool `yaml:"misc_node"`

	BufferDepth       int `yaml:"buffer_depth"`
	BufferDeqRate     int `yaml:"buffer_deq_rate"`
	BridgeBufferDepth int `yaml:"bridge_buffer_depth"`
	BridgeDeqRate     int `yaml:"bridge_deq_rate"`

	MeshRows int `yaml:"mesh_rows"`
	MeshCols int `yaml:"mesh_cols"`

	// Placement maps a role name to die ids and their router lists. The die
	// id -1 applies to every die.
	Placement map[string]map[int][]int `yaml:"placement"`

	// Bridges lists directed bridges as [src, dst]. Empty means every
	// ordered pair of dies.
	Bridges [][2]int `yaml:"bridges"`
}

// DefaultConfig returns the configuration of the default builder.
func DefaultConfig() Config {
	return Config{
		Dies:              1,
		CoresPerDie:       1,
		HomesPerDie:       1,
		MemoriesPerDie:    1,
		LineSize:          64,
		Regions:           []RegionConfig{{Base: 0, Size: 1 << 30}},
		HomeTBE:           16,
		TBERatio:          "1-1",
		RequestTBE:        32,
		MemoryTBE:         32,
		PrivateL2:         true,
		BufferDepth:       16,
		BufferDeqRate:     1,
		BridgeBufferDepth: 2,
		BridgeDeqRate:     1,
		MeshRows:          4,
		MeshCols:          4,
	}
}

// LoadConfig reads a YAML configuration file. Absent fields keep their
// default values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes a YAML configuration document.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errs.Config(errs.Invalid, "decode config: %v", err)
	}

	return cfg, nil
}

// Builder converts the configuration into a topology builder.
func (c Config) Builder() (Builder, error) {
	b := MakeBuilder().
		WithNumDies(c.Dies).
		WithCoresPerDie(c.CoresPerDie).
		WithHomesPerDie(c.HomesPerDie).
		WithMemoriesPerDie(c.MemoriesPerDie).
		WithLineSize(c.LineSize).
		WithMemSize(c.MemSize).
		WithScrambleWidth(c.ScrambleWidth).
		WithHomeTBE(c.HomeTBE, c.TBERatio, c.UnifyTBE).
		WithRequestTBE(c.RequestTBE).
		WithMemoryTBE(c.MemoryTBE).
		WithPrivateL2(c.PrivateL2).
		WithMiscNode(c.MiscNode).
		WithBuffer(c.BufferDepth, c.BufferDeqRate).
		WithBridgeBuffer(c.BridgeBufferDepth, c.BridgeDeqRate).
		WithMesh(c.MeshRows, c.MeshCols)

	regions := make([]addr.Region, len(c.Regions))
	for i, r := range c.Regions {
		regions[i] = addr.Region{Base: r.Base, Size: r.Size}
	}

	b = b.WithRegions(regions...)

	if len(c.Placement) > 0 {
		p, err := c.placement(b.NumRouters())
		if err != nil {
			return Builder{}, err
		}

		b = b.WithPlacement(p)
	}

	if len(c.Bridges) > 0 {
		links := make([]BridgeLink, len(c.Bridges))
		for i, l := range c.Bridges {
			links[i] = BridgeLink{Src: l[0], Dst: l[1]}
		}

		b = b.WithBridges(links...)
	}

	return b, nil
}

// placement overlays the configured router lists on the default placement.
func (c Config) placement(numRouters int) (Placement, error) {
	p := DefaultPlacement(numRouters)

	for roleName, byDie := range c.Placement {
		role, err := catalog.ParseRole(roleName)
		if err != nil {
			return nil, errs.Config(errs.Invalid, "placement: %v", err)
		}

		p[role] = byDie
		if _, ok := byDie[AnyDie]; !ok {
			p[role] = make(map[int][]int, len(byDie)+1)
			for d, list := range byDie {
				p[role][d] = list
			}

			p[role][AnyDie] = DefaultPlacement(numRouters)[role][AnyDie]
		}
	}

	return p, nil
}
