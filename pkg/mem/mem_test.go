package mem

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Mem test Suite")
}

var _ = Describe("Mem tests", func() {
	var m *Sparse

	BeforeEach(func() {
		m = NewSparse(1 << 24)
	})

	Describe("Sparse", func() {
		It("Reads zeroes from untouched memory", func() {
			buf := []byte{1, 2, 3}
			Expect(m.Read(0x1000, buf)).To(Succeed())
			Expect(buf).To(Equal([]byte{0, 0, 0}))
		})
		It("Round trips writes across page boundaries", func() {
			data := make([]byte, 3*pageSize)
			for i := range data {
				data[i] = byte(i)
			}
			Expect(m.Write(0x1ff0, data)).To(Succeed())

			out := make([]byte, len(data))
			Expect(m.Read(0x1ff0, out)).To(Succeed())
			Expect(out).To(Equal(data))
		})
		It("Zeroes a range without touching its neighbours", func() {
			Expect(m.Write(0x2000, []byte{0xaa, 0xbb, 0xcc, 0xdd})).To(Succeed())
			Expect(m.Zero(0x2001, 2)).To(Succeed())

			out := make([]byte, 4)
			Expect(m.Read(0x2000, out)).To(Succeed())
			Expect(out).To(Equal([]byte{0xaa, 0, 0, 0xdd}))
		})
		It("Rejects accesses beyond the limit", func() {
			Expect(m.Write(1<<24-2, []byte{1, 2, 3})).To(MatchError(ErrOutOfRange))
		})
		It("Reads and writes little-endian words", func() {
			Expect(WriteUint32(m, 0x100, 0x11223344)).To(Succeed())
			b := make([]byte, 4)
			Expect(m.Read(0x100, b)).To(Succeed())
			Expect(b).To(Equal([]byte{0x44, 0x33, 0x22, 0x11}))

			v, err := ReadUint32(m, 0x100)
			Expect(err).ToNot(HaveOccurred())
			Expect(v).To(Equal(uint32(0x11223344)))
		})
	})

	Describe("View", func() {
		It("Reads fields inside the window", func() {
			Expect(m.Write(0x4000, []byte{0x7f, 'E', 'L', 'F', 1, 1})).To(Succeed())
			v, err := NewView(m, 0x4000, 6)
			Expect(err).ToNot(HaveOccurred())

			w, err := v.Uint32(0)
			Expect(err).ToNot(HaveOccurred())
			Expect(w).To(Equal(uint32(0x464c457f)))

			h, err := v.Uint16(4)
			Expect(err).ToNot(HaveOccurred())
			Expect(h).To(Equal(uint16(0x0101)))
		})
		It("Refuses reads that cross the end of the window", func() {
			v, err := NewView(m, 0x4000, 6)
			Expect(err).ToNot(HaveOccurred())

			_, err = v.Uint32(4)
			Expect(err).To(MatchError(ErrOutOfRange))
			_, err = v.Bytes(0xffffffff, 2)
			Expect(err).To(MatchError(ErrOutOfRange))
		})
		It("Refuses windows wrapping the address space", func() {
			_, err := NewView(m, 0xfffffff0, 0x20)
			Expect(err).To(MatchError(ErrOutOfRange))
		})
	})
})
