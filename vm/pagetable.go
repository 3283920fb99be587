package vm

import (
	"errors"
	"fmt"

	"github.com/sarchlab/ptsim/mem"
)

// Page-table errors.
var (
	ErrVirtualPageOutOfRange = errors.New("virtual page number out of range")
	ErrPhysicalPageTooLarge  = errors.New(
		"physical page number does not fit in a page-table entry")
)

// A PageTable is a single-level page table stored inside one physical page
// of the simulated memory.
//
// The byte at offset v of the page-table page holds the physical page number
// mapped to virtual page v, or 0 if virtual page v is unmapped. Since page 0
// can never be mapped to a process, the zero byte is unambiguous. The
// byte-wide entries cap the physical pool at 256 pages.
type PageTable struct {
	storage *mem.Storage
	pageNum uint64
	base    uint64
	slots   uint64
}

// NewPageTable creates a view of the page table stored in physical page
// pageNum. The table has one byte-wide slot per virtual page.
func NewPageTable(
	storage *mem.Storage,
	pageNum, log2PageSize, slots uint64,
) *PageTable {
	return &PageTable{
		storage: storage,
		pageNum: pageNum,
		base:    pageNum << log2PageSize,
		slots:   slots,
	}
}

// PageNum returns the physical page number that holds the table itself.
func (t *PageTable) PageNum() uint64 {
	return t.pageNum
}

// Slots returns the number of virtual pages the table can map.
func (t *PageTable) Slots() uint64 {
	return t.slots
}

// Map records that virtual page vPage is backed by physical page pPage.
func (t *PageTable) Map(vPage, pPage uint64) error {
	if vPage >= t.slots {
		return fmt.Errorf("virtual page %d: %w", vPage, ErrVirtualPageOutOfRange)
	}

	if pPage > 0xff {
		return fmt.Errorf("physical page %d: %w", pPage, ErrPhysicalPageTooLarge)
	}

	return t.storage.WriteByte(t.base+vPage, byte(pPage))
}

// Unmap clears the entry for virtual page vPage.
func (t *PageTable) Unmap(vPage uint64) error {
	if vPage >= t.slots {
		return fmt.Errorf("virtual page %d: %w", vPage, ErrVirtualPageOutOfRange)
	}

	return t.storage.WriteByte(t.base+vPage, 0)
}

// Find returns the physical page backing virtual page vPage. The bool
// return value indicates if the virtual page is mapped.
func (t *PageTable) Find(vPage uint64) (uint64, bool) {
	if vPage >= t.slots {
		return 0, false
	}

	entry, err := t.storage.ReadByte(t.base + vPage)
	if err != nil {
		panic(err)
	}

	if entry == 0 {
		return 0, false
	}

	return uint64(entry), true
}

// Entries returns the non-zero mappings of the table, keyed by virtual page
// number.
func (t *PageTable) Entries() map[uint64]uint64 {
	entries := make(map[uint64]uint64)
	for vPage := uint64(0); vPage < t.slots; vPage++ {
		if pPage, found := t.Find(vPage); found {
			entries[vPage] = pPage
		}
	}

	return entries
}

// Reset clears every slot of the table. A page reclaimed from an earlier
// process may carry stale bytes, so a new table must be reset before use.
func (t *PageTable) Reset() error {
	return t.storage.Write(t.base, make([]byte, t.slots))
}
