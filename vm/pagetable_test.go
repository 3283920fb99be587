package vm_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/ptsim/mem"
	"github.com/sarchlab/ptsim/vm"
)

var _ = Describe("PageTable", func() {
	var (
		storage *mem.Storage
		table   *vm.PageTable
	)

	BeforeEach(func() {
		storage = mem.NewStorage(64 * 256)
		table = vm.NewPageTable(storage, 3, 8, 64)
	})

	It("should know its own page", func() {
		Expect(table.PageNum()).To(Equal(uint64(3)))
		Expect(table.Slots()).To(Equal(uint64(64)))
	})

	It("should map and find entries", func() {
		Expect(table.Map(0, 5)).To(Succeed())
		Expect(table.Map(1, 9)).To(Succeed())

		pPage, found := table.Find(0)
		Expect(found).To(BeTrue())
		Expect(pPage).To(Equal(uint64(5)))

		pPage, found = table.Find(1)
		Expect(found).To(BeTrue())
		Expect(pPage).To(Equal(uint64(9)))
	})

	It("should store entries as bytes inside the page-table page", func() {
		Expect(table.Map(2, 7)).To(Succeed())

		entry, err := storage.ReadByte(3<<8 + 2)
		Expect(err).ToNot(HaveOccurred())
		Expect(entry).To(Equal(byte(7)))
	})

	It("should report unmapped virtual pages as not found", func() {
		_, found := table.Find(4)
		Expect(found).To(BeFalse())
	})

	It("should unmap entries", func() {
		Expect(table.Map(0, 5)).To(Succeed())
		Expect(table.Unmap(0)).To(Succeed())

		_, found := table.Find(0)
		Expect(found).To(BeFalse())
	})

	It("should reject virtual pages beyond the table", func() {
		Expect(table.Map(64, 5)).
			To(MatchError(vm.ErrVirtualPageOutOfRange))
		Expect(table.Unmap(64)).
			To(MatchError(vm.ErrVirtualPageOutOfRange))

		_, found := table.Find(64)
		Expect(found).To(BeFalse())
	})

	It("should reject physical pages that do not fit in a byte", func() {
		Expect(table.Map(0, 256)).
			To(MatchError(vm.ErrPhysicalPageTooLarge))
	})

	It("should list only the non-zero entries", func() {
		Expect(table.Map(0, 5)).To(Succeed())
		Expect(table.Map(63, 6)).To(Succeed())

		Expect(table.Entries()).To(Equal(map[uint64]uint64{
			0:  5,
			63: 6,
		}))
	})

	It("should drop stale entries on reset", func() {
		Expect(storage.WriteByte(3<<8+10, 42)).To(Succeed())

		Expect(table.Reset()).To(Succeed())

		Expect(table.Entries()).To(BeEmpty())
	})
})
