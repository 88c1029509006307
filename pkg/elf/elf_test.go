package elf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/kairos-io/go-oslo/pkg/mem"
	"github.com/kairos-io/go-oslo/pkg/multiboot"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ELF test Suite")
}

const (
	entry    = 0x00101000
	paddr    = 0x00100000
	memsz    = 0x2000
	dataOff  = 0x100
	phdrOff  = 0x34
	recAddr  = 0x9000
	modsAddr = 0xa000
	dataAddr = 0x200000
)

var payload = []byte("\x90\x90\x90\xf4 measured kernel")

// image builds an ELF32 executable with one PT_LOAD segment and a PT_NOTE.
func image() []byte {
	img := make([]byte, dataOff+len(payload))
	copy(img, "\x7fELF\x01\x01\x01")

	le := binary.LittleEndian
	le.PutUint16(img[0x10:], 2)
	le.PutUint16(img[0x12:], 3)
	le.PutUint32(img[0x14:], 1)
	le.PutUint32(img[0x18:], entry)
	le.PutUint32(img[0x1c:], phdrOff)
	le.PutUint16(img[0x28:], 0x34)
	le.PutUint16(img[0x2a:], 32)
	le.PutUint16(img[0x2c:], 2)

	ph := img[phdrOff:]
	le.PutUint32(ph[0x00:], 1)
	le.PutUint32(ph[0x04:], dataOff)
	le.PutUint32(ph[0x08:], paddr)
	le.PutUint32(ph[0x0c:], paddr)
	le.PutUint32(ph[0x10:], uint32(len(payload)))
	le.PutUint32(ph[0x14:], memsz)

	note := img[phdrOff+32:]
	le.PutUint32(note[0x00:], 4)
	le.PutUint32(note[0x04:], 0xffffff00)
	le.PutUint32(note[0x10:], 0xffffffff)

	copy(img[dataOff:], payload)

	return img
}

var _ = Describe("ELF tests", func() {
	var m *mem.Sparse
	var img []byte

	BeforeEach(func() {
		m = mem.NewSparse(1 << 24)
		img = image()
	})

	build := func(images ...[]byte) *multiboot.Record {
		b := &multiboot.Builder{Mem: m, RecordAddr: recAddr, ModsAddr: modsAddr, DataAddr: dataAddr}
		strs := make([]string, len(images))
		for i := range strs {
			strs[i] = "module"
		}
		strs[0] = "kernel console=ttyS0"
		r, err := b.Build(images, strs)
		Expect(err).ToNot(HaveOccurred())
		return r
	}

	view := func(data []byte) *mem.View {
		Expect(m.Write(dataAddr, data)).To(Succeed())
		v, err := mem.NewView(m, dataAddr, uint32(len(data)))
		Expect(err).ToNot(HaveOccurred())
		return v
	}

	Describe("Parse", func() {
		It("Returns the entry point and the loadable segments only", func() {
			parsed, err := Parse(view(img))
			Expect(err).ToNot(HaveOccurred())
			Expect(parsed.Entry).To(Equal(uint32(entry)))
			Expect(parsed.Segments).To(Equal([]Segment{{
				Offset: dataOff,
				Vaddr:  paddr,
				Paddr:  paddr,
				Filesz: uint32(len(payload)),
				Memsz:  memsz,
			}}))
		})
		It("Rejects a flipped magic byte", func() {
			img[1] ^= 0xff
			_, err := Parse(view(img))
			Expect(err).To(MatchError(ErrHeader))
			Expect(Code(err)).To(Equal(0x31))
		})
		It("Rejects 64-bit images", func() {
			img[4] = 2
			_, err := Parse(view(img))
			Expect(err).To(MatchError(ErrHeader))
		})
		It("Rejects truncated modules", func() {
			_, err := Parse(view(img[:0x20]))
			Expect(err).To(MatchError(ErrHeader))
			Expect(err).To(MatchError(mem.ErrOutOfRange))
		})
		It("Rejects images for other machines", func() {
			binary.LittleEndian.PutUint16(img[0x12:], 62)
			_, err := Parse(view(img))
			Expect(err).To(MatchError(ErrType))
			Expect(Code(err)).To(Equal(0x32))
		})
		It("Rejects relocatable objects", func() {
			binary.LittleEndian.PutUint16(img[0x10:], 1)
			_, err := Parse(view(img))
			Expect(err).To(MatchError(ErrType))
		})
		It("Rejects an oversized program header entry size", func() {
			binary.LittleEndian.PutUint16(img[0x2a:], 56)
			_, err := Parse(view(img))
			Expect(err).To(MatchError(ErrPhentsize))
			Expect(Code(err)).To(Equal(0x33))
		})
		It("Rejects an undersized program header entry size", func() {
			binary.LittleEndian.PutUint16(img[0x2a:], 16)
			_, err := Parse(view(img))
			Expect(err).To(MatchError(ErrPhentsize))
		})
		It("Rejects segments whose file size exceeds the memory size", func() {
			binary.LittleEndian.PutUint32(img[phdrOff+0x14:], 4)
			_, err := Parse(view(img))
			Expect(err).To(MatchError(ErrSegment))
			Expect(Code(err)).To(Equal(0x34))
		})
		It("Rejects segments reaching past the module", func() {
			binary.LittleEndian.PutUint32(img[phdrOff+0x10:], uint32(len(payload))+1)
			_, err := Parse(view(img))
			Expect(err).To(MatchError(ErrSegment))
		})
		It("Rejects program headers outside the module", func() {
			binary.LittleEndian.PutUint16(img[0x2c:], 100)
			_, err := Parse(view(img))
			Expect(err).To(MatchError(ErrSegment))
		})
		It("Rejects segments wrapping the address space", func() {
			binary.LittleEndian.PutUint32(img[phdrOff+0x0c:], 0xfffff000)
			_, err := Parse(view(img))
			Expect(err).To(MatchError(ErrSegment))
		})
	})

	Describe("LoadAndConsume", func() {
		It("Loads the kernel and consumes the first module", func() {
			Expect(m.Write(paddr, bytes.Repeat([]byte{0xcc}, memsz))).To(Succeed())
			r := build(img, []byte("initrd"))

			ep, parsed, err := LoadAndConsume(r, m)
			Expect(err).ToNot(HaveOccurred())
			Expect(ep).To(Equal(uint32(entry)))
			Expect(parsed.Segments).To(HaveLen(1))

			loaded := make([]byte, memsz)
			Expect(m.Read(paddr, loaded)).To(Succeed())
			Expect(loaded[:len(payload)]).To(Equal(payload))
			Expect(loaded[len(payload):]).To(Equal(make([]byte, memsz-len(payload))))

			count, err := r.ModsCount()
			Expect(err).ToNot(HaveOccurred())
			Expect(count).To(Equal(uint32(1)))
			addr, err := r.ModsAddr()
			Expect(err).ToNot(HaveOccurred())
			Expect(addr).To(Equal(uint32(modsAddr + multiboot.ModuleSize)))

			flags, err := r.Flags()
			Expect(err).ToNot(HaveOccurred())
			Expect(flags & multiboot.FlagCmdline).ToNot(BeZero())
			cmdline, err := r.Cmdline()
			Expect(err).ToNot(HaveOccurred())
			s, err := multiboot.String(m, cmdline, 64)
			Expect(err).ToNot(HaveOccurred())
			Expect(s).To(Equal("kernel console=ttyS0"))
		})
		It("Produces the same memory when loaded twice at disjoint addresses", func() {
			const moved = 0x400000

			parsed, err := Parse(view(img))
			Expect(err).ToNot(HaveOccurred())
			Expect(parsed.Load(m)).To(Succeed())

			relocated := bytes.Clone(img)
			binary.LittleEndian.PutUint32(relocated[phdrOff+0x0c:], moved)
			Expect(m.Write(moved, bytes.Repeat([]byte{0xcc}, memsz))).To(Succeed())

			again, err := Parse(view(relocated))
			Expect(err).ToNot(HaveOccurred())
			Expect(again.Load(m)).To(Succeed())

			first := make([]byte, memsz)
			Expect(m.Read(paddr, first)).To(Succeed())
			second := make([]byte, memsz)
			Expect(m.Read(moved, second)).To(Succeed())
			Expect(second).To(Equal(first))
			Expect(first[:len(payload)]).To(Equal(payload))
		})
		It("Copies only the file bytes when memsz equals filesz", func() {
			binary.LittleEndian.PutUint32(img[phdrOff+0x14:], uint32(len(payload)))
			Expect(m.Write(paddr+uint32(len(payload)), []byte{0xaa})).To(Succeed())

			parsed, err := Parse(view(img))
			Expect(err).ToNot(HaveOccurred())
			Expect(parsed.Load(m)).To(Succeed())

			after := make([]byte, 1)
			Expect(m.Read(paddr+uint32(len(payload)), after)).To(Succeed())
			Expect(after).To(Equal([]byte{0xaa}))
		})
		It("Does not touch memory when validation fails", func() {
			binary.LittleEndian.PutUint16(img[0x2a:], 64)
			Expect(m.Write(paddr, []byte{0xcc})).To(Succeed())
			r := build(img)

			_, _, err := LoadAndConsume(r, m)
			Expect(err).To(MatchError(ErrPhentsize))

			b := make([]byte, 1)
			Expect(m.Read(paddr, b)).To(Succeed())
			Expect(b).To(Equal([]byte{0xcc}))
		})
		It("Fails without modules", func() {
			r := build(img)
			_, _, err := LoadAndConsume(r, m)
			Expect(err).ToNot(HaveOccurred())
			_, _, err = LoadAndConsume(r, m)
			Expect(err).To(MatchError(multiboot.ErrNoModules))
		})
	})
})
