package mmu

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/ptsim/mem"
	"github.com/sarchlab/ptsim/trace"
)

func usedPages(c *Comp) int {
	count := 0
	for _, used := range c.FreeMap() {
		if used {
			count++
		}
	}

	return count
}

var _ = Describe("MMU", func() {
	var c *Comp

	BeforeEach(func() {
		c = MakeBuilder().Build("MMU")
	})

	Context("creating processes", func() {
		It("should allocate the page table and data pages in order", func() {
			Expect(c.CreateProcess(1, 3)).To(Succeed())

			entries, err := c.PageTableOf(1)
			Expect(err).ToNot(HaveOccurred())
			Expect(entries).To(Equal(map[uint64]uint64{
				0: 2,
				1: 3,
				2: 4,
			}))

			m := c.FreeMap()
			Expect(m[1]).To(BeTrue())
			Expect(m[4]).To(BeTrue())
			Expect(m[5]).To(BeFalse())
		})

		It("should charge one page per data page plus the page table", func() {
			Expect(c.CreateProcess(1, 3)).To(Succeed())
			Expect(c.CreateProcess(2, 2)).To(Succeed())

			Expect(usedPages(c)).To(Equal(1 + 4 + 3))
			Expect(c.FreePageCount()).To(Equal(uint64(63 - 4 - 3)))
		})

		It("should allow a process with no data pages", func() {
			Expect(c.CreateProcess(1, 0)).To(Succeed())

			entries, err := c.PageTableOf(1)
			Expect(err).ToNot(HaveOccurred())
			Expect(entries).To(BeEmpty())
			Expect(usedPages(c)).To(Equal(2))
		})

		It("should fail without allocating when the pre-check fails", func() {
			err := c.CreateProcess(1, 64)
			Expect(err).To(MatchError(ErrInsufficientMemory))

			Expect(c.FreePageCount()).To(Equal(uint64(63)))
			Expect(usedPages(c)).To(Equal(1))

			_, err = c.PageTableOf(1)
			Expect(err).To(MatchError(ErrProcessNotFound))
		})

		It("should starve mid-creation when the request matches the free "+
			"capacity exactly", func() {
			// The pre-check does not count the page-table page, so 63
			// requested pages pass against 63 free pages and the last
			// data-page allocation fails. No rollback happens.
			err := c.CreateProcess(1, 63)
			Expect(err).To(MatchError(mem.ErrPagesExhausted))

			Expect(c.FreePageCount()).To(Equal(uint64(0)))

			entries, err := c.PageTableOf(1)
			Expect(err).ToNot(HaveOccurred())
			Expect(entries).To(HaveLen(62))
		})

		It("should reject a process id that is already in use", func() {
			Expect(c.CreateProcess(1, 1)).To(Succeed())

			Expect(c.CreateProcess(1, 1)).To(MatchError(ErrProcessExists))
		})

		It("should reject a process id beyond the process table", func() {
			Expect(c.CreateProcess(192, 1)).To(MatchError(ErrPIDOutOfRange))
		})
	})

	Context("destroying processes", func() {
		It("should reclaim every page of the process", func() {
			before := c.FreePageCount()

			Expect(c.CreateProcess(5, 3)).To(Succeed())
			Expect(c.DestroyProcess(5)).To(Succeed())

			Expect(c.FreePageCount()).To(Equal(before))
			Expect(usedPages(c)).To(Equal(1))
		})

		It("should reject destroying a process twice", func() {
			Expect(c.CreateProcess(5, 1)).To(Succeed())
			Expect(c.DestroyProcess(5)).To(Succeed())

			Expect(c.DestroyProcess(5)).To(MatchError(ErrProcessNotFound))
		})

		It("should reject destroying a process that never existed", func() {
			Expect(c.DestroyProcess(7)).To(MatchError(ErrProcessNotFound))
		})

		It("should make the reclaimed pages allocatable again", func() {
			Expect(c.CreateProcess(1, 2)).To(Succeed())
			Expect(c.CreateProcess(2, 1)).To(Succeed())

			Expect(c.DestroyProcess(1)).To(Succeed())

			// Process 1 held pages 1-3; the next process reuses them
			// lowest-first.
			Expect(c.CreateProcess(3, 2)).To(Succeed())
			entries, err := c.PageTableOf(3)
			Expect(err).ToNot(HaveOccurred())
			Expect(entries).To(Equal(map[uint64]uint64{
				0: 2,
				1: 3,
			}))
		})

		It("should not leak mappings into a process that reuses a freed "+
			"page table page", func() {
			Expect(c.CreateProcess(1, 2)).To(Succeed())
			Expect(c.Store(1, 0, 42)).To(Succeed())
			Expect(c.DestroyProcess(1)).To(Succeed())

			Expect(c.CreateProcess(2, 0)).To(Succeed())

			entries, err := c.PageTableOf(2)
			Expect(err).ToNot(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})

	Context("translating addresses", func() {
		BeforeEach(func() {
			Expect(c.CreateProcess(1, 2)).To(Succeed())
		})

		It("should combine the mapped page with the offset", func() {
			// Page table at page 1, data pages 2 and 3.
			pAddr, err := c.Translate(1, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(pAddr).To(Equal(uint64(2 << 8)))

			pAddr, err = c.Translate(1, 258)
			Expect(err).ToNot(HaveOccurred())
			Expect(pAddr).To(Equal(uint64(3<<8 | 2)))
		})

		It("should reject an unmapped virtual page", func() {
			_, err := c.Translate(1, 2<<8)
			Expect(err).To(MatchError(ErrPageNotMapped))
		})

		It("should reject a virtual address beyond the address space", func() {
			_, err := c.Translate(1, 64<<8)
			Expect(err).To(MatchError(ErrVAddrOutOfRange))
		})

		It("should reject an unknown process", func() {
			_, err := c.Translate(9, 0)
			Expect(err).To(MatchError(ErrProcessNotFound))
		})
	})

	Context("loading and storing", func() {
		It("should round-trip stored values", func() {
			Expect(c.CreateProcess(2, 1)).To(Succeed())

			Expect(c.Store(2, 0, 99)).To(Succeed())

			value, err := c.Load(2, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(value).To(Equal(byte(99)))
		})

		It("should round-trip values on every requested page", func() {
			Expect(c.CreateProcess(1, 4)).To(Succeed())

			for vPage := uint64(0); vPage < 4; vPage++ {
				vAddr := vPage<<8 + 17
				Expect(c.Store(1, vAddr, byte(vPage+1))).To(Succeed())
			}

			for vPage := uint64(0); vPage < 4; vPage++ {
				vAddr := vPage<<8 + 17
				value, err := c.Load(1, vAddr)
				Expect(err).ToNot(HaveOccurred())
				Expect(value).To(Equal(byte(vPage + 1)))
			}
		})

		It("should isolate processes from each other", func() {
			Expect(c.CreateProcess(1, 1)).To(Succeed())
			Expect(c.CreateProcess(2, 1)).To(Succeed())

			Expect(c.Store(1, 5, 11)).To(Succeed())
			Expect(c.Store(2, 5, 22)).To(Succeed())

			value, err := c.Load(1, 5)
			Expect(err).ToNot(HaveOccurred())
			Expect(value).To(Equal(byte(11)))

			value, err = c.Load(2, 5)
			Expect(err).ToNot(HaveOccurred())
			Expect(value).To(Equal(byte(22)))
		})

		It("should reject access through an unmapped page", func() {
			Expect(c.CreateProcess(2, 1)).To(Succeed())

			_, err := c.Load(2, 256)
			Expect(err).To(MatchError(ErrPageNotMapped))

			Expect(c.Store(2, 256, 1)).To(MatchError(ErrPageNotMapped))
		})
	})

	Context("tracing", func() {
		var (
			mockCtrl *gomock.Controller
			tracer   *MockTracer
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			tracer = NewMockTracer(mockCtrl)
			c.AcceptTracer(tracer)

			Expect(c.CreateProcess(2, 1)).To(Succeed())
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should report completed stores and loads", func() {
			tracer.EXPECT().Trace(trace.Access{
				Op:    trace.OpStore,
				PID:   2,
				VAddr: 0,
				PAddr: 2 << 8,
				Value: 99,
			})
			tracer.EXPECT().Trace(trace.Access{
				Op:    trace.OpLoad,
				PID:   2,
				VAddr: 0,
				PAddr: 2 << 8,
				Value: 99,
			})

			Expect(c.Store(2, 0, 99)).To(Succeed())

			_, err := c.Load(2, 0)
			Expect(err).ToNot(HaveOccurred())
		})

		It("should not report failed accesses", func() {
			_, err := c.Load(2, 256)
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("Builder", func() {
	It("should reject a pool without allocatable pages", func() {
		Expect(func() {
			MakeBuilder().WithPageCount(1).Build("MMU")
		}).To(Panic())
	})

	It("should reject a pool beyond byte-wide page-table entries", func() {
		Expect(func() {
			MakeBuilder().WithPageCount(257).Build("MMU")
		}).To(Panic())
	})

	It("should reject a page table that does not fit in one page", func() {
		Expect(func() {
			MakeBuilder().WithLog2PageSize(5).WithPageCount(64).Build("MMU")
		}).To(Panic())
	})

	It("should reject a storage smaller than the pool", func() {
		Expect(func() {
			MakeBuilder().WithStorage(mem.NewStorage(256)).Build("MMU")
		}).To(Panic())
	})

	It("should build a pool with a custom geometry", func() {
		c := MakeBuilder().
			WithLog2PageSize(6).
			WithPageCount(32).
			WithMaxProcesses(8).
			Build("MMU")

		Expect(c.FreePageCount()).To(Equal(uint64(31)))
		Expect(c.CreateProcess(7, 2)).To(Succeed())
		Expect(c.CreateProcess(8, 1)).To(MatchError(ErrPIDOutOfRange))

		Expect(c.Store(7, 64+3, 5)).To(Succeed())
		pAddr, err := c.Translate(7, 64+3)
		Expect(err).ToNot(HaveOccurred())
		Expect(pAddr).To(Equal(uint64(3<<6 | 3)))
	})
})
