package mmu

import (
	"fmt"

	"github.com/sarchlab/ptsim/mem"
	"github.com/sarchlab/ptsim/vm"
)

// A Builder can build MMU components.
type Builder struct {
	log2PageSize uint64
	pageCount    uint64
	maxProcesses uint64
	storage      *mem.Storage
}

// MakeBuilder creates a builder with the default configuration: 64 pages of
// 256 bytes and room for 192 processes.
func MakeBuilder() Builder {
	return Builder{
		log2PageSize: 8,
		pageCount:    64,
		maxProcesses: 192,
	}
}

// WithLog2PageSize sets the page size, as log2 of the number of bytes.
func (b Builder) WithLog2PageSize(log2PageSize uint64) Builder {
	b.log2PageSize = log2PageSize
	return b
}

// WithPageCount sets the number of physical pages in the pool, including
// the reserved page 0.
func (b Builder) WithPageCount(pageCount uint64) Builder {
	b.pageCount = pageCount
	return b
}

// WithMaxProcesses sets the highest number of process IDs the MMU accepts.
func (b Builder) WithMaxProcesses(maxProcesses uint64) Builder {
	b.maxProcesses = maxProcesses
	return b
}

// WithStorage sets the backing storage. By default a storage covering
// exactly pageCount pages is created.
func (b Builder) WithStorage(storage *mem.Storage) Builder {
	b.storage = storage
	return b
}

// Build returns a newly created MMU component.
func (b Builder) Build(name string) *Comp {
	b.mustBeValid()

	c := &Comp{
		name:         name,
		log2PageSize: b.log2PageSize,
		pageSize:     1 << b.log2PageSize,
		pageCount:    b.pageCount,
		maxProcesses: b.maxProcesses,
		storage:      b.storage,
		allocator:    mem.NewPageAllocator(b.pageCount),
		pageTables:   make(map[vm.PID]*vm.PageTable),
	}

	if c.storage == nil {
		c.storage = mem.NewStorage(c.pageCount << c.log2PageSize)
	}

	return c
}

func (b Builder) mustBeValid() {
	pageSize := uint64(1) << b.log2PageSize

	if b.pageCount < 2 {
		panic(fmt.Errorf(
			"page count %d leaves no allocatable page", b.pageCount))
	}

	if b.pageCount > 256 {
		panic(fmt.Errorf(
			"page count %d does not fit byte-wide page-table entries",
			b.pageCount))
	}

	if b.pageCount > pageSize {
		panic(fmt.Errorf(
			"page table with %d slots does not fit in a %d-byte page",
			b.pageCount, pageSize))
	}

	if b.maxProcesses < 1 {
		panic("max processes must be at least 1")
	}

	if b.storage != nil && b.storage.Capacity() < b.pageCount<<b.log2PageSize {
		panic(fmt.Errorf("storage capacity %d is below %d pages of %d bytes",
			b.storage.Capacity(), b.pageCount, pageSize))
	}
}
