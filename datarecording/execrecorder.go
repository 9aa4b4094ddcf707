package datarecording

import (
	"os"
	"strings"
	"time"
)

// ExecInfoTable is the table that describes the program execution.
const ExecInfoTable = "exec_info"

// ExecInfo is a property of the program execution.
type ExecInfo struct {
	Property string
	Value    string
}

// Records program execution
type execRecorder struct {
	tablename string
	recorder  DataRecorder
	entries   []ExecInfo
}

// Start log current execution.
func (e *execRecorder) Start() {
	currentTime := time.Now()
	startTime := currentTime.Format("2006-01-02 15:04:05.000000000")
	e.entries = append(e.entries, ExecInfo{"Start Time", startTime})

	cmd := strings.Join(os.Args, " ")
	e.entries = append(e.entries, ExecInfo{"Command", cmd})

	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}

	e.entries = append(e.entries, ExecInfo{"Working Directory", cwd})
}

// End writes the buffered entries along with program exit time.
func (e *execRecorder) End() {
	for _, entry := range e.entries {
		e.recorder.InsertData(e.tablename, entry)
	}

	endTime := time.Now()
	endValue := endTime.Format("2006-01-02 15:04:05.000000000")
	e.recorder.InsertData(e.tablename, ExecInfo{"End Time", endValue})

	e.entries = nil
}

// newExecRecorderWithWriter creates a new ExecRecorder with given writer
func newExecRecorderWithWriter(writer DataRecorder) *execRecorder {
	e := &execRecorder{
		tablename: ExecInfoTable,
		recorder:  writer,
	}

	e.recorder.CreateTable(e.tablename, ExecInfo{})

	return e
}
