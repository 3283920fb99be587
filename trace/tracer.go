// Package trace provides tracers that can record the loads and stores
// performed through the MMU.
package trace

import (
	"log"

	"github.com/rs/xid"

	"github.com/sarchlab/ptsim/datarecording"
	"github.com/sarchlab/ptsim/vm"
)

// Op distinguishes loads from stores.
type Op string

// The two access operations.
const (
	OpLoad  Op = "load"
	OpStore Op = "store"
)

// An Access describes one load or store that completed through the MMU.
type Access struct {
	Op    Op
	PID   vm.PID
	VAddr uint64
	PAddr uint64
	Value byte
}

// A Tracer receives every access that completes.
type Tracer interface {
	Trace(access Access)
}

// A logTracer writes one diagnostic line per access.
type logTracer struct {
	logger *log.Logger
}

// NewLogTracer creates a Tracer that writes one line per access to the given
// logger.
func NewLogTracer(logger *log.Logger) Tracer {
	return &logTracer{logger: logger}
}

func (t *logTracer) Trace(a Access) {
	switch a.Op {
	case OpStore:
		t.logger.Printf("Store proc %d: %d => %d, value=%d\n",
			a.PID, a.VAddr, a.PAddr, a.Value)
	case OpLoad:
		t.logger.Printf("Load proc %d: %d => %d, value=%d\n",
			a.PID, a.VAddr, a.PAddr, a.Value)
	}
}

// accessEntry represents a memory access in the database.
type accessEntry struct {
	ID    string
	Op    string
	PID   uint32
	VAddr uint64
	PAddr uint64
	Value uint8
}

// accessTableName is the table DB tracers record into.
const accessTableName = "memory_access"

// A dbTracer records accesses with a DataRecorder.
type dbTracer struct {
	recorder datarecording.DataRecorder
}

// NewDBTracer creates a Tracer that records every access into the given data
// recorder.
func NewDBTracer(recorder datarecording.DataRecorder) Tracer {
	recorder.CreateTable(accessTableName, accessEntry{})

	return &dbTracer{recorder: recorder}
}

func (t *dbTracer) Trace(a Access) {
	t.recorder.InsertData(accessTableName, accessEntry{
		ID:    xid.New().String(),
		Op:    string(a.Op),
		PID:   uint32(a.PID),
		VAddr: a.VAddr,
		PAddr: a.PAddr,
		Value: a.Value,
	})
}
