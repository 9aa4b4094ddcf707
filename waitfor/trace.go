package waitfor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/chifabric/errs"
	"github.com/sarchlab/chifabric/fabric"
	"github.com/sarchlab/chifabric/internal/linepat"
)

// A Block is a message held at a router inport because it cannot move to
// its outport.
type Block struct {
	Tick    uint64
	Router  int
	Vnet    int
	Inport  int
	Outport int
	Msg     Message
}

// A Stall is a controller that cannot allocate an internal resource for an
// address.
type Stall struct {
	Tick       uint64
	Controller string
	Address    uint64
	State      string
	Event      string
	NextState  string
}

// Snapshot is the latest state of every blocked resource in a trace.
type Snapshot struct {
	Blocks  map[fabric.Inport]Block
	Buffers map[string]*Message
	Stalls  map[string]Stall

	LastTick uint64
	Lines    int
	Ignored  int
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Blocks:  make(map[fabric.Inport]Block),
		Buffers: make(map[string]*Message),
		Stalls:  make(map[string]Stall),
	}
}

// Empty tells if the trace recorded no blocked resource.
func (s *Snapshot) Empty() bool {
	return len(s.Blocks) == 0 && len(s.Stalls) == 0
}

// BlockKeys returns the blocked inports in router and port order.
func (s *Snapshot) BlockKeys() []fabric.Inport {
	keys := make([]fabric.Inport, 0, len(s.Blocks))
	for k := range s.Blocks {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Router != keys[j].Router {
			return keys[i].Router < keys[j].Router
		}

		return keys[i].Port < keys[j].Port
	})

	return keys
}

// StalledControllers returns the stalled controller paths in order.
func (s *Snapshot) StalledControllers() []string {
	names := make([]string, 0, len(s.Stalls))
	for k := range s.Stalls {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}

// Buffer returns the latest occupant of a named buffer. A buffer that was
// never dumped or was last dumped empty has no occupant.
func (s *Snapshot) Buffer(name string) (Message, bool) {
	m, ok := s.Buffers[name]
	if !ok || m == nil {
		return Message{}, false
	}

	return *m, true
}

const msgExpr = `\[addr: (0x[0-9a-fA-F]+)\|(\w+)\|Cache-(\d+)-->(\d+),\|([01])\]`

var (
	blockPattern = linepat.MustCompile("block",
		`(\d+): PerfectSwitch-(\d+): VNET_(\d+) Incoming_(\d+) Outgoing_(\d+) Msg_`+
			msgExpr+` blocked`,
		"PerfectSwitch-", "Msg_[", "blocked").
		Field("tick", `\d+: PerfectSwitch-`).
		Field("router", `PerfectSwitch-\d+:`).
		Field("vnet", `VNET_\d+ `).
		Field("inport", `Incoming_\d+ `).
		Field("outport", `Outgoing_\d+ `).
		Field("address", `addr: 0x[0-9a-fA-F]+\|`).
		Field("opcode", `\|\w+\|Cache-`).
		Field("source", `Cache-\d+-->`).
		Field("destination", `-->\d+,`).
		Field("retry", `,\|[01]\]`)

	emptyBufferPattern = linepat.MustCompile("empty buffer",
		`(\d+): (\S+): MessageBufferContents:\s*(\[\])?\s*$`,
		"MessageBufferContents:")

	contentsPattern = linepat.MustCompile("buffer contents",
		`(\d+): (\S+): MessageBufferContents: `+msgExpr,
		"MessageBufferContents:").
		Field("tick", `\d+: \S+: MessageBufferContents`).
		Field("address", `addr: 0x[0-9a-fA-F]+\|`).
		Field("opcode", `\|\w+\|Cache-`).
		Field("source", `Cache-\d+-->`).
		Field("destination", `-->\d+,`).
		Field("retry", `,\|[01]\]`)

	stallPattern = linepat.MustCompile("resource stall",
		`(\d+): (\S+): addr: (0x[0-9a-fA-F]+), Resource Stall \(is:(\w+),e:(\w+),fs:(\w+)\)`,
		"Resource Stall").
		Field("tick", `\d+: \S+: addr`).
		Field("address", `addr: 0x[0-9a-fA-F]+,`).
		Field("state", `is:\w+`).
		Field("event", `e:\w+`).
		Field("next state", `fs:\w+`)
)

// allocationEvent prefixes the stall events of a request that cannot get a
// transaction buffer. Other stalls do not hold the request channel.
const allocationEvent = "AllocRequest"

// Progress receives the number of trace bytes consumed.
type Progress interface {
	IncrementFinished(amount uint64)
}

// Reader consumes runtime traces.
type Reader struct {
	log      logrus.FieldLogger
	maxTick  uint64
	limited  bool
	progress Progress
}

// MakeReader creates a reader that consumes whole traces.
func MakeReader() Reader {
	return Reader{log: discardLogger()}
}

// WithLogger sets the logger that reports the reading statistics.
func (r Reader) WithLogger(log logrus.FieldLogger) Reader {
	if log == nil {
		panic("logger must not be nil")
	}

	r.log = log
	return r
}

// WithMaxTick ignores the events that happen after the given tick, so that
// the snapshot reflects the state at that tick.
func (r Reader) WithMaxTick(tick uint64) Reader {
	r.maxTick = tick
	r.limited = true

	return r
}

// WithProgress reports every consumed line, newline included, to p.
func (r Reader) WithProgress(p Progress) Reader {
	r.progress = p
	return r
}

// ReadFile reads a trace file.
func (r Reader) ReadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	return r.Read(f, path)
}

// Read consumes a trace in a single pass. Lines that match no known shape
// are ignored. Lines that partially match a shape abort the reading.
func (r Reader) Read(in io.Reader, source string) (*Snapshot, error) {
	s := newSnapshot()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		s.Lines++

		if r.progress != nil {
			r.progress.IncrementFinished(uint64(len(scanner.Bytes()) + 1))
		}

		consumed, err := r.consume(s, source, s.Lines, scanner.Text())
		if err != nil {
			return nil, err
		}

		if !consumed {
			s.Ignored++
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace %s: %w", source, err)
	}

	r.log.WithFields(logrus.Fields{
		"source":  source,
		"lines":   s.Lines,
		"ignored": s.Ignored,
		"blocks":  len(s.Blocks),
		"buffers": len(s.Buffers),
		"stalls":  len(s.Stalls),
	}).Debug("trace read")

	return s, nil
}

func (r Reader) consume(s *Snapshot, source string, lineNo int, line string) (bool, error) {
	g, err := blockPattern.Match(source, lineNo, line)
	if err != nil {
		return false, err
	}

	if g != nil {
		return r.consumeBlock(s, g, source, lineNo)
	}

	if g, _ := emptyBufferPattern.Match(source, lineNo, line); g != nil {
		tick, err := parseTick(g[1], source, lineNo)
		if err != nil {
			return false, err
		}

		if r.skip(tick) {
			return false, nil
		}

		s.observe(tick)
		s.Buffers[g[2]] = nil

		return true, nil
	}

	g, err = contentsPattern.Match(source, lineNo, line)
	if err != nil {
		return false, err
	}

	if g != nil {
		return r.consumeContents(s, g, source, lineNo)
	}

	g, err = stallPattern.Match(source, lineNo, line)
	if err != nil {
		return false, err
	}

	if g != nil {
		return r.consumeStall(s, g, source, lineNo)
	}

	return false, nil
}

func (r Reader) skip(tick uint64) bool {
	return r.limited && tick > r.maxTick
}

func (s *Snapshot) observe(tick uint64) {
	if tick > s.LastTick {
		s.LastTick = tick
	}
}

func (r Reader) consumeBlock(
	s *Snapshot,
	g []string,
	source string,
	lineNo int,
) (bool, error) {
	tick, err := parseTick(g[1], source, lineNo)
	if err != nil {
		return false, err
	}

	if r.skip(tick) {
		return false, nil
	}

	msg, err := parseMessage(g[6:11], source, lineNo)
	if err != nil {
		return false, err
	}

	var ids [4]int
	for i, field := range []string{"router", "vnet", "inport", "outport"} {
		ids[i], err = parseInt(g[2+i], field, source, lineNo)
		if err != nil {
			return false, err
		}
	}

	b := Block{
		Tick:    tick,
		Router:  ids[0],
		Vnet:    ids[1],
		Inport:  ids[2],
		Outport: ids[3],
		Msg:     msg,
	}

	s.observe(tick)
	s.Blocks[fabric.Inport{Router: b.Router, Port: b.Inport}] = b

	return true, nil
}

func (r Reader) consumeContents(
	s *Snapshot,
	g []string,
	source string,
	lineNo int,
) (bool, error) {
	tick, err := parseTick(g[1], source, lineNo)
	if err != nil {
		return false, err
	}

	if r.skip(tick) {
		return false, nil
	}

	msg, err := parseMessage(g[3:8], source, lineNo)
	if err != nil {
		return false, err
	}

	s.observe(tick)
	s.Buffers[g[2]] = &msg

	return true, nil
}

func (r Reader) consumeStall(
	s *Snapshot,
	g []string,
	source string,
	lineNo int,
) (bool, error) {
	tick, err := parseTick(g[1], source, lineNo)
	if err != nil {
		return false, err
	}

	if r.skip(tick) {
		return false, nil
	}

	address, err := strconv.ParseUint(g[3], 0, 64)
	if err != nil {
		return false, &errs.ParseError{
			Source: source, Line: lineNo, Text: g[0], Field: "resource stall address",
		}
	}

	if !strings.HasPrefix(g[5], allocationEvent) {
		return false, nil
	}

	s.observe(tick)
	s.Stalls[g[2]] = Stall{
		Tick:       tick,
		Controller: g[2],
		Address:    address,
		State:      g[4],
		Event:      g[5],
		NextState:  g[6],
	}

	return true, nil
}

// parseMessage decodes the address, opcode, source, destination and retry
// submatches of a message.
func parseMessage(g []string, source string, lineNo int) (Message, error) {
	address, err := strconv.ParseUint(g[0], 0, 64)
	if err != nil {
		return Message{}, &errs.ParseError{
			Source: source, Line: lineNo, Text: g[0], Field: "message address",
		}
	}

	src, err := parseInt(g[2], "message source", source, lineNo)
	if err != nil {
		return Message{}, err
	}

	dst, err := parseInt(g[3], "message destination", source, lineNo)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Address:    address,
		Opcode:     g[1],
		Src:        src,
		Dst:        dst,
		AllowRetry: g[4] == "1",
	}, nil
}

// parseInt converts a submatch that the patterns restrict to digits. Only
// values out of range fail.
func parseInt(s, field, source string, lineNo int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &errs.ParseError{
			Source: source, Line: lineNo, Text: s, Field: field,
		}
	}

	return n, nil
}

func parseTick(s, source string, lineNo int) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &errs.ParseError{
			Source: source, Line: lineNo, Text: s, Field: "tick",
		}
	}

	return n, nil
}
