// Package monitoring turns a running simulation into a server that allows
// external inspection of the memory state.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/ptsim/vm"
	"github.com/sarchlab/ptsim/vm/mmu"
)

// Monitor can serve the state of an MMU over HTTP.
type Monitor struct {
	mmu        *mmu.Comp
	portNumber int
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n",
			portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterMMU registers the MMU to be monitored.
func (m *Monitor) RegisterMMU(c *mmu.Comp) {
	m.mmu = c
}

func (m *Monitor) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/freemap", m.freeMap)
	r.HandleFunc("/api/process", m.listProcesses)
	r.HandleFunc("/api/pagetable/{pid}", m.pageTable)
	r.HandleFunc("/api/component", m.componentDetails)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	return r
}

// StartServer starts the monitor as a web server, on the configured port or
// a random one.
func (m *Monitor) StartServer() {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	fmt.Fprintf(os.Stderr,
		"Monitoring simulation with http://localhost:%d\n",
		listener.Addr().(*net.TCPAddr).Port)

	go func() {
		dieOnErr(http.Serve(listener, m.router()))
	}()
}

type freeMapRsp struct {
	FreePageCount uint64 `json:"free_page_count"`
	Used          []bool `json:"used"`
}

func (m *Monitor) freeMap(w http.ResponseWriter, _ *http.Request) {
	rsp := freeMapRsp{
		FreePageCount: m.mmu.FreePageCount(),
		Used:          m.mmu.FreeMap(),
	}

	m.writeJSON(w, rsp)
}

func (m *Monitor) listProcesses(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, m.mmu.Processes())
}

func (m *Monitor) pageTable(w http.ResponseWriter, r *http.Request) {
	pidArg := mux.Vars(r)["pid"]

	pid, err := strconv.ParseUint(pidArg, 10, 32)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "invalid pid %q", pidArg)
		return
	}

	entries, err := m.mmu.PageTableOf(vm.PID(pid))
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, err.Error())
		return
	}

	m.writeJSON(w, entries)
}

func (m *Monitor) componentDetails(w http.ResponseWriter, _ *http.Request) {
	serializer := goseth.NewSerializer()
	serializer.SetRoot(m.mmu)
	serializer.SetMaxDepth(1)

	dieOnErr(serializer.Serialize(w))
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	proc, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memorySize, err := proc.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	}

	m.writeJSON(w, rsp)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	m.writeJSON(w, prof)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
