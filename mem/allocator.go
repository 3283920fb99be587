package mem

import (
	"errors"
	"fmt"
)

// Allocation errors. ErrPagesExhausted is the only condition a well-behaved
// caller can run into; the others indicate a caller contract violation that
// is surfaced instead of corrupting the free map.
var (
	ErrPagesExhausted   = errors.New("no free physical page available")
	ErrPageOutOfRange   = errors.New("physical page number out of range")
	ErrPageReserved     = errors.New("page 0 is reserved")
	ErrPageNotAllocated = errors.New("physical page is not allocated")
)

// A PageAllocator hands out physical pages from a fixed pool.
//
// Page 0 is permanently reserved and is never handed out. Allocation is
// first-fit from the lowest index, which makes the allocation order
// deterministic: AllocatePage always returns the lowest-indexed free page.
type PageAllocator struct {
	pageCount uint64
	freeCount uint64
	bitmap    []uint64
}

// NewPageAllocator creates an allocator managing pageCount physical pages,
// with page 0 already reserved.
func NewPageAllocator(pageCount uint64) *PageAllocator {
	a := &PageAllocator{
		pageCount: pageCount,
		freeCount: pageCount - 1,
		bitmap:    make([]uint64, (pageCount+63)/64),
	}
	a.set(0)

	return a
}

func (a *PageAllocator) set(page uint64) {
	a.bitmap[page/64] |= 1 << (page % 64)
}

func (a *PageAllocator) clear(page uint64) {
	a.bitmap[page/64] &^= 1 << (page % 64)
}

func (a *PageAllocator) isSet(page uint64) bool {
	return a.bitmap[page/64]&(1<<(page%64)) != 0
}

// AllocatePage marks the lowest-indexed free page as used and returns its
// page number. It returns ErrPagesExhausted when every page is in use.
func (a *PageAllocator) AllocatePage() (uint64, error) {
	for page := uint64(1); page < a.pageCount; page++ {
		if a.isSet(page) {
			continue
		}

		a.set(page)
		a.freeCount--

		return page, nil
	}

	return 0, ErrPagesExhausted
}

// FreePage returns the given page to the pool. Freeing the reserved page, a
// page outside the pool, or a page that is not allocated is an error.
func (a *PageAllocator) FreePage(page uint64) error {
	if page >= a.pageCount {
		return fmt.Errorf("page %d: %w", page, ErrPageOutOfRange)
	}

	if page == 0 {
		return ErrPageReserved
	}

	if !a.isSet(page) {
		return fmt.Errorf("page %d: %w", page, ErrPageNotAllocated)
	}

	a.clear(page)
	a.freeCount++

	return nil
}

// FreePageCount returns the number of pages that can still be allocated.
func (a *PageAllocator) FreePageCount() uint64 {
	return a.freeCount
}

// PageCount returns the total number of pages in the pool, including the
// reserved page.
func (a *PageAllocator) PageCount() uint64 {
	return a.pageCount
}

// FreeMap returns a snapshot of the allocation bitmap. Entry i is true if
// page i is in use. Entry 0 is always true.
func (a *PageAllocator) FreeMap() []bool {
	m := make([]bool, a.pageCount)
	for page := uint64(0); page < a.pageCount; page++ {
		m[page] = a.isSet(page)
	}

	return m
}
