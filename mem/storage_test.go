package mem_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/ptsim/mem"
)

var _ = Describe("Storage", func() {
	It("should read and write in a single unit", func() {
		storage := mem.NewStorage(4096)

		err := storage.Write(0, []byte{1, 2, 3, 4})
		Expect(err).ToNot(HaveOccurred())

		res, err := storage.Read(0, 2)
		Expect(err).ToNot(HaveOccurred())
		Expect(res).To(Equal([]byte{1, 2}))

		res, _ = storage.Read(1, 2)
		Expect(res).To(Equal([]byte{2, 3}))
	})

	It("should read and write across units", func() {
		storage := mem.NewStorage(4096)

		err := storage.Write(254, []byte{1, 2, 3, 4})
		Expect(err).ToNot(HaveOccurred())

		res, err := storage.Read(254, 4)
		Expect(err).ToNot(HaveOccurred())
		Expect(res).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("should read zeros from untouched memory", func() {
		storage := mem.NewStorage(4096)

		res, err := storage.Read(100, 4)
		Expect(err).ToNot(HaveOccurred())
		Expect(res).To(Equal([]byte{0, 0, 0, 0}))
	})

	It("should read and write single bytes", func() {
		storage := mem.NewStorage(4096)

		err := storage.WriteByte(511, 99)
		Expect(err).ToNot(HaveOccurred())

		value, err := storage.ReadByte(511)
		Expect(err).ToNot(HaveOccurred())
		Expect(value).To(Equal(byte(99)))
	})

	It("should return an error when accessing beyond the capacity", func() {
		storage := mem.NewStorage(4096)

		err := storage.Write(4095, []byte{1, 2})
		Expect(err).To(MatchError(mem.ErrBeyondCapacity))

		_, err = storage.Read(4096, 1)
		Expect(err).To(MatchError(mem.ErrBeyondCapacity))

		_, err = storage.ReadByte(4096)
		Expect(err).To(MatchError(mem.ErrBeyondCapacity))

		err = storage.WriteByte(4096, 1)
		Expect(err).To(MatchError(mem.ErrBeyondCapacity))
	})
})
