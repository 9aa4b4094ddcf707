package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/chifabric/catalog"
	"github.com/sarchlab/chifabric/datarecording"
	"github.com/sarchlab/chifabric/errs"
	"github.com/sarchlab/chifabric/fabric"
	"github.com/sarchlab/chifabric/topology"
)

func execute(args ...string) (string, error) {
	var out, errOut bytes.Buffer

	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&errOut)

	err := root.ExecuteContext(context.Background())

	return out.String(), err
}

var _ = Describe("Synth", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("should print the catalog size", func() {
		out, err := execute("synth", "--homes", "2", "--cores", "2")
		Expect(err).NotTo(HaveOccurred())

		cat, err := topology.MakeBuilder().
			WithHomesPerDie(2).
			WithCoresPerDie(2).
			Build()
		Expect(err).NotTo(HaveOccurred())

		Expect(out).To(Equal(fmt.Sprintf(
			"synthesized 1 dies, %d nodes, %d controllers\n",
			len(cat.Nodes()), len(cat.Controllers()))))
	})

	It("should write the catalog as JSON", func() {
		path := filepath.Join(dir, "catalog.json")

		_, err := execute("synth", "--homes", "2", "--out", path)
		Expect(err).NotTo(HaveOccurred())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())

		var view catalog.View
		Expect(json.Unmarshal(data, &view)).To(Succeed())
		Expect(view.LineSize).To(Equal(uint64(64)))
		Expect(view.Dies).To(HaveLen(1))
	})

	It("should let flags override the configuration file", func() {
		cfgPath := filepath.Join(dir, "cfg.yaml")
		Expect(os.WriteFile(cfgPath,
			[]byte("dies: 2\nhomes_per_die: 4\n"), 0o644)).To(Succeed())

		path := filepath.Join(dir, "catalog.json")
		_, err := execute("synth", "--config", cfgPath, "--homes", "2",
			"--out", path)
		Expect(err).NotTo(HaveOccurred())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())

		var view catalog.View
		Expect(json.Unmarshal(data, &view)).To(Succeed())
		Expect(view.Dies).To(HaveLen(2))
		Expect(view.Pairs).To(HaveLen(1))

		homes := 0
		for _, n := range view.Dies[0].Nodes {
			if n.Role == catalog.HomeDirectory {
				homes++
			}
		}

		Expect(homes).To(Equal(2))
	})

	It("should write a fabric and its port log", func() {
		_, err := execute("synth", "--mesh-rows", "1", "--mesh-cols", "2",
			"--fabric-out", dir)
		Expect(err).NotTo(HaveOccurred())

		f, err := fabric.Load(filepath.Join(dir, fabricFileName))
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Routers).To(HaveLen(2))

		ports, err := fabric.LoadPortMap(filepath.Join(dir, portLogFileName), f)
		Expect(err).NotTo(HaveOccurred())
		Expect(ports.Validate(f)).To(Succeed())
	})

	It("should record the catalog", func() {
		_, err := execute("synth", "--record", filepath.Join(dir, "rec"))
		Expect(err).NotTo(HaveOccurred())

		reader, err := datarecording.NewReader(filepath.Join(dir, "rec.sqlite3"))
		Expect(err).NotTo(HaveOccurred())

		runs := datarecording.NewRunReader(reader)
		defer runs.Close()

		entries, err := runs.Runs(context.Background(), datarecording.SynthRun)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Source).To(Equal("flags"))
	})

	It("should fail on a malformed ClickHouse target", func() {
		_, err := execute("synth", "--record", "clickhouse://[::1")

		Expect(err).To(MatchError(ContainSubstring("open recording")))
	})

	It("should fail on an invalid configuration", func() {
		_, err := execute("synth", "--homes", "3")

		Expect(errs.IsConfiguration(err)).To(BeTrue())
	})

	It("should fail on an unknown log level", func() {
		_, err := execute("--log-level", "loud", "synth")

		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Deadlock", func() {
	var (
		dir       string
		fabricArg []string
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()

		_, err := execute("synth", "--mesh-rows", "1", "--mesh-cols", "2",
			"--fabric-out", dir)
		Expect(err).NotTo(HaveOccurred())

		fabricArg = []string{
			"--fabric", filepath.Join(dir, fabricFileName),
			"--port-map", filepath.Join(dir, portLogFileName),
		}
	})

	writeTrace := func(content string) string {
		path := filepath.Join(dir, "debug.trace")
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())

		return path
	}

	deadlockArgs := func(extra ...string) []string {
		args := append([]string{"deadlock"}, fabricArg...)
		return append(args, extra...)
	}

	It("should require a trace", func() {
		_, err := execute(deadlockArgs()...)

		Expect(err).To(HaveOccurred())
	})

	It("should report an empty trace as deadlock free", func() {
		trace := writeTrace("")
		csvPath := filepath.Join(dir, "cycle.csv")

		out, err := execute(deadlockArgs("--trace", trace, "--csv", csvPath)...)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("no deadlock in this snapshot\n"))

		data, err := os.ReadFile(csvPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("Agent,Message\n"))
	})

	It("should fail on a malformed trace", func() {
		trace := writeTrace("1: PerfectSwitch-0: VNET_0 Incoming_x Outgoing_0 " +
			"Msg_[addr: 0x40|ReadShared|Cache-3-->4,|0] blocked\n")

		_, err := execute(deadlockArgs("--trace", trace)...)

		Expect(errs.IsParse(err)).To(BeTrue())
	})

	It("should fail on a trace from another fabric", func() {
		trace := writeTrace("1: PerfectSwitch-7: VNET_0 Incoming_0 Outgoing_0 " +
			"Msg_[addr: 0x40|ReadShared|Cache-3-->4,|0] blocked\n")

		_, err := execute(deadlockArgs("--trace", trace)...)

		Expect(errs.IsMismatch(err)).To(BeTrue())
	})

	It("should reject a bad virtual network count", func() {
		trace := writeTrace("")

		_, err := execute(deadlockArgs("--trace", trace, "--vnets", "0")...)

		Expect(err).To(HaveOccurred())
	})

	It("should find and record a deadlock at a home node", func() {
		cat, err := topology.MakeBuilder().WithMesh(1, 2).Build()
		Expect(err).NotTo(HaveOccurred())

		gen, err := fabric.FromCatalog(cat, fabric.Mesh{Rows: 1, Cols: 2}, 4)
		Expect(err).NotTo(HaveOccurred())

		ports, err := gen.PortMap()
		Expect(err).NotTo(HaveOccurred())

		hnf := cat.Dies[0].HomeNodes[0]
		ctrl := hnf.Controllers[0]

		in, out := -1, -1
		for k, link := range ports.In {
			if k.Router == hnf.Router && link == ctrl.Path+".reqOut" {
				in = k.Port
			}
		}

		for o := 0; o < 8; o++ {
			buf, err := gen.Fabric.OutportBuffer(hnf.Router, o, 0, 4)
			Expect(err).NotTo(HaveOccurred())

			key := fabric.Outport{Router: hnf.Router, Buffer: buf}
			if ports.Out[key] == ctrl.Path+".reqIn" {
				out = o
			}
		}

		Expect(in).To(BeNumerically(">=", 0))
		Expect(out).To(BeNumerically(">=", 0))

		trace := writeTrace(fmt.Sprintf(
			"1: PerfectSwitch-%d: VNET_0 Incoming_%d Outgoing_%d "+
				"Msg_[addr: 0x40|ReadShared|Cache-0-->1,|0] blocked\n"+
				"2: %s: addr: 0x40, Resource Stall "+
				"(is:BUSY_BLKD,e:AllocRequest,fs:BUSY_BLKD)\n",
			hnf.Router, in, out, ctrl.Path))

		dotPath := filepath.Join(dir, "cycle.dot")
		recPath := filepath.Join(dir, "rec")

		stdout, err := execute(deadlockArgs(
			"--trace", trace,
			"--mesh-rows", "1", "--mesh-cols", "2",
			"--dot", dotPath,
			"--record", recPath,
		)...)
		Expect(err).NotTo(HaveOccurred())
		Expect(stdout).To(HavePrefix(
			"deadlock: 5 resources in the witness cycle"))
		Expect(stdout).To(ContainSubstring(ctrl.Path))

		dot, err := os.ReadFile(dotPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(dot)).To(HavePrefix("digraph deadlock {"))

		reader, err := datarecording.NewReader(recPath + ".sqlite3")
		Expect(err).NotTo(HaveOccurred())

		runs := datarecording.NewRunReader(reader)
		defer runs.Close()

		entries, err := runs.Runs(context.Background(), datarecording.DeadlockRun)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))

		rep, cycle, err := runs.Report(context.Background(), entries[0].ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(rep.Deadlocked).To(BeTrue())
		Expect(cycle).To(HaveLen(5))
	})

	It("should reject a stalled controller the catalog does not know", func() {
		trace := writeTrace("2: system.ruby.hnfs9.cntrl: addr: 0x40, " +
			"Resource Stall (is:BUSY_BLKD,e:AllocRequest,fs:BUSY_BLKD)\n")

		_, err := execute(deadlockArgs(
			"--trace", trace,
			"--mesh-rows", "1", "--mesh-cols", "2",
		)...)

		Expect(errs.IsMismatch(err)).To(BeTrue())
	})
})

var _ = Describe("Environment", func() {
	It("should read flag defaults from the environment", func() {
		GinkgoT().Setenv(envInspectPort, "8123")
		GinkgoT().Setenv(envLogLevel, "debug")

		Expect(envIntOr(envInspectPort, 0)).To(Equal(8123))
		Expect(envOr(envLogLevel, "info")).To(Equal("debug"))
		Expect(envOr("CHIFABRIC_UNSET_FOR_TEST", "x")).To(Equal("x"))
	})

	It("should ignore a malformed port", func() {
		GinkgoT().Setenv(envInspectPort, "eighty")

		Expect(envIntOr(envInspectPort, 0)).To(Equal(0))
	})
})
