package memory_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mesisim/memory"
)

var _ = Describe("Memory", func() {
	var m *memory.Memory

	BeforeEach(func() {
		m = memory.NewMemory(memory.DefaultCapacity, memory.DefaultBlockSize)
	})

	It("should start zero-filled", func() {
		block, err := m.ReadBlock(0x40)
		Expect(err).NotTo(HaveOccurred())
		Expect(block).To(Equal(make([]byte, 32)))
	})

	It("should round capacity down to whole blocks", func() {
		small := memory.NewMemory(100, 32)
		Expect(small.Capacity()).To(Equal(96))
	})

	It("should align block accesses down", func() {
		data := make([]byte, 32)
		for i := range data {
			data[i] = byte(i + 1)
		}

		Expect(m.WriteBlock(0x47, data)).To(Succeed())

		block, err := m.ReadBlock(0x40)
		Expect(err).NotTo(HaveOccurred())
		Expect(block).To(Equal(data))

		block, err = m.ReadBlock(0x5F)
		Expect(err).NotTo(HaveOccurred())
		Expect(block).To(Equal(data))
	})

	It("should return a copy on read", func() {
		block, _ := m.ReadBlock(0)
		block[0] = 0xFF

		again, _ := m.ReadBlock(0)
		Expect(again[0]).To(Equal(byte(0)))
	})

	It("should reject blocks beyond capacity", func() {
		_, err := m.ReadBlock(uint64(m.Capacity()))
		Expect(err).To(MatchError(memory.ErrOutOfRange))

		err = m.WriteBlock(uint64(m.Capacity())+5, make([]byte, 32))
		Expect(err).To(MatchError(memory.ErrOutOfRange))
	})

	It("should not corrupt neighbours on a failed write", func() {
		Expect(m.Write64(uint64(m.Capacity())-8, 0xABCD)).To(Succeed())

		err := m.WriteBlock(uint64(m.Capacity()), make([]byte, 32))
		Expect(err).To(HaveOccurred())

		v, err := m.Read64(uint64(m.Capacity()) - 8)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint64(0xABCD)))
	})

	It("should reject writes of the wrong length", func() {
		err := m.WriteBlock(0, make([]byte, 8))
		Expect(err).To(MatchError(memory.ErrBlockSize))
	})

	It("should read back written words little-endian", func() {
		Expect(m.Write64(8, 0x1122334455667788)).To(Succeed())

		block, err := m.ReadBlock(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(block[8]).To(Equal(byte(0x88)))
		Expect(block[15]).To(Equal(byte(0x11)))

		v, err := m.Read64(8)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint64(0x1122334455667788)))
	})

	It("should bound word accesses", func() {
		_, err := m.Read64(uint64(m.Capacity()) - 4)
		Expect(err).To(MatchError(memory.ErrOutOfRange))
		Expect(m.Write64(uint64(m.Capacity()), 1)).
			To(MatchError(memory.ErrOutOfRange))
	})
})
