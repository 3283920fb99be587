// Package mmu provides the memory management unit of the simulated machine.
// It owns the physical page pool and the per-process page tables, and it
// performs virtual-to-physical address translation for loads and stores.
package mmu

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/ptsim/mem"
	"github.com/sarchlab/ptsim/trace"
	"github.com/sarchlab/ptsim/vm"
)

// MMU errors. ErrInsufficientMemory is the only failure a well-behaved
// caller is expected to handle; the rest report caller contract violations
// explicitly instead of corrupting state.
var (
	ErrInsufficientMemory = errors.New("insufficient free pages")
	ErrProcessNotFound    = errors.New("process not found")
	ErrProcessExists      = errors.New("process already exists")
	ErrPIDOutOfRange      = errors.New("process id out of range")
	ErrPageNotMapped      = errors.New("virtual page not mapped")
	ErrVAddrOutOfRange    = errors.New("virtual address out of range")
)

// Comp simulates a memory management unit over a fixed pool of physical
// pages.
//
// Creating a process allocates one page for its page table plus one page per
// requested virtual page. Destroying a process returns all of them to the
// pool. Every operation takes the component lock, so concurrent callers are
// serialized; there is no finer-grained ownership boundary in the model.
type Comp struct {
	sync.Mutex

	name string

	storage   *mem.Storage
	allocator *mem.PageAllocator

	log2PageSize uint64
	pageSize     uint64
	pageCount    uint64
	maxProcesses uint64

	pageTables map[vm.PID]*vm.PageTable

	tracers []trace.Tracer
}

// Name returns the name of the component.
func (c *Comp) Name() string {
	return c.name
}

// Storage returns the simulated physical memory the MMU manages.
func (c *Comp) Storage() *mem.Storage {
	return c.storage
}

// AcceptTracer registers a tracer to be notified of every load and store.
func (c *Comp) AcceptTracer(t trace.Tracer) {
	c.Lock()
	defer c.Unlock()

	c.tracers = append(c.tracers, t)
}

func (c *Comp) pidInRange(pid vm.PID) error {
	if uint64(pid) >= c.maxProcesses {
		return fmt.Errorf("pid %d: %w", pid, ErrPIDOutOfRange)
	}

	return nil
}

// CreateProcess builds the address space of a new process: one page-table
// page plus numPages data pages, mapped at virtual pages 0..numPages-1.
//
// The free-page pre-check compares against numPages only, not counting the
// page-table page itself. A request that exactly matches the free capacity
// therefore passes the pre-check and starves mid-creation. When that
// happens, no rollback is performed: the process keeps the mappings
// established so far and the error reports the exhaustion.
func (c *Comp) CreateProcess(pid vm.PID, numPages uint64) error {
	c.Lock()
	defer c.Unlock()

	if err := c.pidInRange(pid); err != nil {
		return err
	}

	if _, ok := c.pageTables[pid]; ok {
		return fmt.Errorf("pid %d: %w", pid, ErrProcessExists)
	}

	if numPages > c.pageCount || c.allocator.FreePageCount() < numPages {
		return fmt.Errorf("process %d needs %d pages: %w",
			pid, numPages, ErrInsufficientMemory)
	}

	tablePage, err := c.allocator.AllocatePage()
	if err != nil {
		return fmt.Errorf("process %d page table: %w", pid, err)
	}

	table := vm.NewPageTable(c.storage, tablePage, c.log2PageSize, c.pageCount)
	if err := table.Reset(); err != nil {
		return err
	}

	c.pageTables[pid] = table

	for vPage := uint64(0); vPage < numPages; vPage++ {
		dataPage, err := c.allocator.AllocatePage()
		if err != nil {
			return fmt.Errorf("process %d virtual page %d: %w",
				pid, vPage, err)
		}

		if err := table.Map(vPage, dataPage); err != nil {
			return err
		}
	}

	return nil
}

// DestroyProcess tears down the address space of a process, returning its
// data pages and its page-table page to the pool. Destroying a process that
// does not exist, including destroying the same process twice, is an error.
func (c *Comp) DestroyProcess(pid vm.PID) error {
	c.Lock()
	defer c.Unlock()

	if err := c.pidInRange(pid); err != nil {
		return err
	}

	table, ok := c.pageTables[pid]
	if !ok {
		return fmt.Errorf("pid %d: %w", pid, ErrProcessNotFound)
	}

	for vPage := uint64(0); vPage < c.pageCount; vPage++ {
		dataPage, found := table.Find(vPage)
		if !found {
			continue
		}

		if err := c.allocator.FreePage(dataPage); err != nil {
			return fmt.Errorf("process %d virtual page %d: %w",
				pid, vPage, err)
		}

		if err := table.Unmap(vPage); err != nil {
			return err
		}
	}

	if err := c.allocator.FreePage(table.PageNum()); err != nil {
		return fmt.Errorf("process %d page table: %w", pid, err)
	}

	delete(c.pageTables, pid)

	return nil
}

// Translate resolves a virtual address of a process into a physical address
// by walking the process's page table. Translating through an unmapped
// virtual page is an error rather than a silent walk into the reserved
// page.
func (c *Comp) Translate(pid vm.PID, vAddr uint64) (uint64, error) {
	c.Lock()
	defer c.Unlock()

	return c.translate(pid, vAddr)
}

func (c *Comp) translate(pid vm.PID, vAddr uint64) (uint64, error) {
	if err := c.pidInRange(pid); err != nil {
		return 0, err
	}

	table, ok := c.pageTables[pid]
	if !ok {
		return 0, fmt.Errorf("pid %d: %w", pid, ErrProcessNotFound)
	}

	vPage := vAddr >> c.log2PageSize
	offset := vAddr & (c.pageSize - 1)

	if vPage >= c.pageCount {
		return 0, fmt.Errorf("process %d vaddr %d: %w",
			pid, vAddr, ErrVAddrOutOfRange)
	}

	pPage, found := table.Find(vPage)
	if !found {
		return 0, fmt.Errorf("process %d vaddr %d: %w",
			pid, vAddr, ErrPageNotMapped)
	}

	return pPage<<c.log2PageSize | offset, nil
}

// Load returns the byte at a virtual address of a process.
func (c *Comp) Load(pid vm.PID, vAddr uint64) (byte, error) {
	c.Lock()
	defer c.Unlock()

	pAddr, err := c.translate(pid, vAddr)
	if err != nil {
		return 0, err
	}

	value, err := c.storage.ReadByte(pAddr)
	if err != nil {
		return 0, err
	}

	c.invokeTracers(trace.Access{
		Op:    trace.OpLoad,
		PID:   pid,
		VAddr: vAddr,
		PAddr: pAddr,
		Value: value,
	})

	return value, nil
}

// Store writes one byte at a virtual address of a process.
func (c *Comp) Store(pid vm.PID, vAddr uint64, value byte) error {
	c.Lock()
	defer c.Unlock()

	pAddr, err := c.translate(pid, vAddr)
	if err != nil {
		return err
	}

	if err := c.storage.WriteByte(pAddr, value); err != nil {
		return err
	}

	c.invokeTracers(trace.Access{
		Op:    trace.OpStore,
		PID:   pid,
		VAddr: vAddr,
		PAddr: pAddr,
		Value: value,
	})

	return nil
}

func (c *Comp) invokeTracers(access trace.Access) {
	for _, t := range c.tracers {
		t.Trace(access)
	}
}

// FreeMap returns a snapshot of the physical page bitmap. Entry i is true if
// page i is in use. Entry 0, the reserved page, is always true.
func (c *Comp) FreeMap() []bool {
	c.Lock()
	defer c.Unlock()

	return c.allocator.FreeMap()
}

// FreePageCount returns the number of physical pages that can still be
// allocated.
func (c *Comp) FreePageCount() uint64 {
	c.Lock()
	defer c.Unlock()

	return c.allocator.FreePageCount()
}

// PageTableOf returns the non-zero page-table entries of a process, keyed by
// virtual page number.
func (c *Comp) PageTableOf(pid vm.PID) (map[uint64]uint64, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.pidInRange(pid); err != nil {
		return nil, err
	}

	table, ok := c.pageTables[pid]
	if !ok {
		return nil, fmt.Errorf("pid %d: %w", pid, ErrProcessNotFound)
	}

	return table.Entries(), nil
}

// Processes returns the IDs of all active processes in ascending order.
func (c *Comp) Processes() []vm.PID {
	c.Lock()
	defer c.Unlock()

	pids := make([]vm.PID, 0, len(c.pageTables))
	for pid := range c.pageTables {
		pids = append(pids, pid)
	}

	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	return pids
}
