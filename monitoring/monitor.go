// Package monitoring serves a synthesized catalog, the recorded runs and the
// progress of long analyses over HTTP.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"reflect"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"

	"github.com/sarchlab/chifabric/catalog"
	"github.com/sarchlab/chifabric/datarecording"
	"github.com/sarchlab/chifabric/monitoring/web"
)

// RunSource provides the runs recorded in a database.
type RunSource interface {
	Runs(ctx context.Context, kind string) ([]datarecording.RunEntry, error)
	Controllers(
		ctx context.Context,
		run string,
	) ([]datarecording.ControllerEntry, error)
	Report(
		ctx context.Context,
		run string,
	) (datarecording.ReportEntry, []datarecording.CycleEntry, error)
}

// Monitor turns a catalog and a run database into a web server that can be
// inspected from a browser.
type Monitor struct {
	log        logrus.FieldLogger
	catalog    *catalog.Catalog
	runs       RunSource
	portNumber int

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	l := logrus.New()
	l.SetOutput(io.Discard)

	return &Monitor{log: l}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogger sets the logger that reports serving failures.
func (m *Monitor) WithLogger(log logrus.FieldLogger) *Monitor {
	if log == nil {
		panic("logger must not be nil")
	}

	m.log = log

	return m
}

// RegisterCatalog sets the sealed catalog to be served.
func (m *Monitor) RegisterCatalog(cat *catalog.Catalog) {
	if !cat.Sealed() {
		panic("catalog must be sealed before it is monitored")
	}

	m.catalog = cat
}

// RegisterRuns sets the source of the recorded runs.
func (m *Monitor) RegisterRuns(runs RunSource) {
	m.runs = runs
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler that serves the API and the web page.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	fs := web.GetAssets()
	fServer := http.FileServer(fs)
	r.HandleFunc("/api/nodes", m.listNodes)
	r.HandleFunc("/api/node/{name}", m.listNodeDetails)
	r.HandleFunc("/api/controller/{name}", m.listControllerDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/lookup/{addr}", m.lookupAddress)
	r.HandleFunc("/api/queues", m.listQueues)
	r.HandleFunc("/api/runs", m.listRuns)
	r.HandleFunc("/api/run/{run}/controllers", m.listRunControllers)
	r.HandleFunc("/api/run/{run}/report", m.showReport)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(fServer)

	return r
}

// StartServer starts the monitor as a web server with a custom port if
// wanted. It returns the URL that the server listens on.
func (m *Monitor) StartServer() (string, error) {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", actualPort, err)
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	m.log.WithField("url", url).Info("monitoring server started")

	go func() {
		err := http.Serve(listener, m.Router())
		if err != nil && !errors.Is(err, net.ErrClosed) {
			m.log.WithError(err).Error("monitoring server stopped")
		}
	}()

	return url, nil
}

func (m *Monitor) listNodes(w http.ResponseWriter, _ *http.Request) {
	if !m.catalogOr404(w) {
		return
	}

	views := make([]catalog.NodeView, 0)
	for _, n := range m.catalog.Nodes() {
		views = append(views, catalog.NodeViewOf(n))
	}

	writeJSON(w, views)
}

func (m *Monitor) listNodeDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	node := m.findNodeOr404(w, name)
	if node == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(node)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

func (m *Monitor) listControllerDetails(w http.ResponseWriter, r *http.Request) {
	if !m.catalogOr404(w) {
		return
	}

	name := mux.Vars(r)["name"]

	ctrl, ok := m.catalog.ControllerByName(name)
	if !ok {
		ctrl, ok = m.catalog.ControllerByPath(name)
	}

	if !ok {
		http.Error(w, "Controller not found", http.StatusNotFound)
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(ctrl)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	NodeName  string `json:"node_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		http.Error(w, "Error: "+err.Error(), http.StatusBadRequest)
		return
	}

	node := m.findNodeOr404(w, req.NodeName)
	if node == nil {
		return
	}

	elem, err := m.walkFields(node, req.FieldName)
	if err != nil {
		http.Error(w, "Error: "+err.Error(), http.StatusBadRequest)
		return
	}

	switch elem.Kind() {
	case reflect.Struct, reflect.Slice, reflect.Array, reflect.Map,
		reflect.Ptr, reflect.Interface:
		root := elem.Interface()
		if elem.CanAddr() {
			root = elem.Addr().Interface()
		}

		serializer := goseth.NewSerializer()
		serializer.SetRoot(root)
		serializer.SetMaxDepth(1)
		err = serializer.Serialize(w)

		dieOnErr(err)
	default:
		writeJSON(w, elem.Interface())
	}
}

type lookupRsp struct {
	Address     string   `json:"address"`
	Die         string   `json:"die"`
	Home        string   `json:"home"`
	Controllers []string `json:"controllers"`
}

func (m *Monitor) lookupAddress(w http.ResponseWriter, r *http.Request) {
	if !m.catalogOr404(w) {
		return
	}

	address, err := strconv.ParseUint(mux.Vars(r)["addr"], 0, 64)
	if err != nil {
		http.Error(w, "Error: "+err.Error(), http.StatusBadRequest)
		return
	}

	home, ok := m.catalog.HomeFor(address)
	if !ok {
		http.Error(w, "Address not owned", http.StatusNotFound)
		return
	}

	rsp := lookupRsp{
		Address: fmt.Sprintf("%#x", address),
		Home:    home.Name(),
	}

	if die, ok := m.catalog.DieFor(address); ok {
		rsp.Die = die.Name()
	}

	for _, ctrl := range m.catalog.Controllers() {
		if ctrl.Owns(address) {
			rsp.Controllers = append(rsp.Controllers, ctrl.Name)
		}
	}

	writeJSON(w, rsp)
}

type queueRsp struct {
	Queue          string `json:"queue"`
	Capacity       int    `json:"cap"`
	MaxDequeueRate int    `json:"max_dequeue_rate"`
}

func (m *Monitor) listQueues(w http.ResponseWriter, r *http.Request) {
	if !m.catalogOr404(w) {
		return
	}

	sortMethod, limit, offset, err := m.queuesParseParams(r, w)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	writeJSON(w, m.sortAndSelectQueues(sortMethod, limit, offset))
}

func (*Monitor) queuesParseParams(
	r *http.Request,
	_ http.ResponseWriter,
) (sort string, limit, offset int, err error) {
	sortMethod := r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "capacity"
	}
	if sortMethod != "capacity" && sortMethod != "name" {
		errStr := fmt.Sprintf(
			"Invalid sort method: %s. Allowed values are `capacity` and `name`",
			sortMethod)
		return "", 0, 0, errors.New(errStr)
	}

	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "0"
	}
	limitNumber, err := strconv.Atoi(limitStr)
	if err != nil || limitNumber < 0 {
		return sortMethod, 0, 0, fmt.Errorf("invalid limit %q", limitStr)
	}

	offsetStr := r.URL.Query().Get("offset")
	if offsetStr == "" {
		offsetStr = "0"
	}
	offsetNumber, err := strconv.Atoi(offsetStr)
	if err != nil || offsetNumber < 0 {
		return sortMethod, limitNumber, 0, fmt.Errorf("invalid offset %q", offsetStr)
	}

	return sortMethod, limitNumber, offsetNumber, nil
}

// sortAndSelectQueues returns a page of the controller queues. A zero limit
// selects every queue after the offset.
func (m *Monitor) sortAndSelectQueues(
	sortMethod string,
	limit, offset int,
) []queueRsp {
	queues := make([]queueRsp, 0)
	for _, ctrl := range m.catalog.Controllers() {
		for _, name := range ctrl.QueueNames() {
			q := ctrl.Queues[name]
			queues = append(queues, queueRsp{
				Queue:          ctrl.Path + "." + q.Name,
				Capacity:       q.Capacity,
				MaxDequeueRate: q.MaxDequeueRate,
			})
		}
	}

	switch sortMethod {
	case "capacity":
		sort.SliceStable(queues, func(i, j int) bool {
			if queues[i].Capacity != queues[j].Capacity {
				return queues[i].Capacity > queues[j].Capacity
			}

			return queues[i].Queue < queues[j].Queue
		})
	case "name":
		sort.SliceStable(queues, func(i, j int) bool {
			return queues[i].Queue < queues[j].Queue
		})
	default:
		panic("Invalid sort method " + sortMethod)
	}

	if offset > len(queues) {
		offset = len(queues)
	}

	end := len(queues)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return queues[offset:end]
}

func (m *Monitor) listRuns(w http.ResponseWriter, r *http.Request) {
	if !m.runsOr404(w) {
		return
	}

	runs, err := m.runs.Runs(r.Context(), r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, "Error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, runs)
}

func (m *Monitor) listRunControllers(w http.ResponseWriter, r *http.Request) {
	if !m.runsOr404(w) {
		return
	}

	ctrls, err := m.runs.Controllers(r.Context(), mux.Vars(r)["run"])
	if err != nil {
		http.Error(w, "Error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, ctrls)
}

type reportRsp struct {
	Report datarecording.ReportEntry  `json:"report"`
	Cycle  []datarecording.CycleEntry `json:"cycle"`
}

func (m *Monitor) showReport(w http.ResponseWriter, r *http.Request) {
	if !m.runsOr404(w) {
		return
	}

	report, cycle, err := m.runs.Report(r.Context(), mux.Vars(r)["run"])
	if err != nil {
		http.Error(w, "Error: "+err.Error(), http.StatusNotFound)
		return
	}

	writeJSON(w, reportRsp{Report: report, Cycle: cycle})
}

type fieldFormatError struct {
	field  string
	reason string
}

func (e fieldFormatError) Error() string {
	return fmt.Sprintf("field %q: %s", e.field, e.reason)
}

// walkFields follows a dot-separated path of struct fields, slice indices
// and map keys from root.
func (m *Monitor) walkFields(
	root any,
	fields string,
) (reflect.Value, error) {
	elem := reflect.ValueOf(root)

	fieldNames := strings.Split(fields, ".")
	if fields == "" {
		fieldNames = nil
	}

	for len(fieldNames) > 0 {
		switch elem.Kind() {
		case reflect.Ptr, reflect.Interface:
			if elem.IsNil() {
				return elem, fieldFormatError{fieldNames[0], "nil reference"}
			}

			elem = elem.Elem()
		case reflect.Struct:
			f, ok := elem.Type().FieldByName(fieldNames[0])
			if !ok || !f.IsExported() {
				return elem, fieldFormatError{fieldNames[0], "no such field"}
			}

			elem = elem.FieldByIndex(f.Index)
			fieldNames = fieldNames[1:]
		case reflect.Slice, reflect.Array:
			index, err := strconv.Atoi(fieldNames[0])
			if err != nil || index < 0 || index >= elem.Len() {
				return elem, fieldFormatError{fieldNames[0], "bad index"}
			}

			elem = elem.Index(index)
			fieldNames = fieldNames[1:]
		case reflect.Map:
			if elem.Type().Key().Kind() != reflect.String {
				return elem, fieldFormatError{fieldNames[0], "unsupported key"}
			}

			key := reflect.ValueOf(fieldNames[0]).Convert(elem.Type().Key())
			elem = elem.MapIndex(key)
			if !elem.IsValid() {
				return elem, fieldFormatError{fieldNames[0], "no such key"}
			}

			fieldNames = fieldNames[1:]
		default:
			return elem, fieldFormatError{
				fieldNames[0],
				fmt.Sprintf("kind %s has no fields", elem.Kind()),
			}
		}
	}

	if elem.Kind() == reflect.Ptr && !elem.IsNil() {
		elem = elem.Elem()
	}

	return elem, nil
}

func (m *Monitor) catalogOr404(w http.ResponseWriter) bool {
	if m.catalog == nil {
		http.Error(w, "No catalog registered", http.StatusNotFound)
		return false
	}

	return true
}

func (m *Monitor) runsOr404(w http.ResponseWriter) bool {
	if m.runs == nil {
		http.Error(w, "No run database registered", http.StatusNotFound)
		return false
	}

	return true
}

func (m *Monitor) findNodeOr404(
	w http.ResponseWriter,
	name string,
) *catalog.Node {
	if !m.catalogOr404(w) {
		return nil
	}

	for _, n := range m.catalog.Nodes() {
		if n.Name() == name {
			return n
		}
	}

	http.Error(w, "Node not found", http.StatusNotFound)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	bars := make([]progressRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	writeJSON(w, rsp)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, "Error: "+err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
