// Package elf loads the first boot module as a 32-bit i386 ELF kernel.
//
// Headers are read field by field through a bounds-checked mem.View over the
// module, the whole image is validated before the first segment is copied.
package elf

import (
	stdelf "debug/elf"
	"errors"
	"fmt"

	"github.com/kairos-io/go-oslo/pkg/fault"
	"github.com/kairos-io/go-oslo/pkg/mem"
	"github.com/kairos-io/go-oslo/pkg/multiboot"
)

// ELF32 header and program header field offsets.
const (
	offIdent     = 0x00
	offType      = 0x10
	offMachine   = 0x12
	offVersion   = 0x14
	offEntry     = 0x18
	offPhoff     = 0x1c
	offPhentsize = 0x2a
	offPhnum     = 0x2c

	phType   = 0x00
	phOffset = 0x04
	phVaddr  = 0x08
	phPaddr  = 0x0c
	phFilesz = 0x10
	phMemsz  = 0x14

	// ProgHeaderSize is the size of an ELF32 program header.
	ProgHeaderSize = 32
)

var (
	// ErrHeader means the ELF magic, class or data encoding is wrong.
	ErrHeader = errors.New("ELF header incorrect")
	// ErrType means the image is not an i386 executable.
	ErrType = errors.New("ELF type incorrect")
	// ErrPhentsize means the program header entry size is not the ELF32 one.
	ErrPhentsize = errors.New("e_phentsize incorrect")
	// ErrSegment means a loadable segment does not fit the module or memory.
	ErrSegment = errors.New("segment out of bounds")
)

// Code returns the status code of a validation error, or 0.
func Code(err error) int {
	switch {
	case errors.Is(err, ErrHeader):
		return fault.CodeELFHeader
	case errors.Is(err, ErrType):
		return fault.CodeELFType
	case errors.Is(err, ErrPhentsize):
		return fault.CodeELFPhentsize
	case errors.Is(err, ErrSegment):
		return fault.CodeELFSegment
	default:
		return 0
	}
}

// Segment is a PT_LOAD program header.
type Segment struct {
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
}

// Image is a validated kernel image.
type Image struct {
	Entry    uint32
	Segments []Segment

	view *mem.View
}

// Parse validates the ELF image in v.
func Parse(v *mem.View) (*Image, error) {
	ident, err := v.Bytes(offIdent, stdelf.EI_NIDENT)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHeader, err)
	}

	if string(ident[:4]) != stdelf.ELFMAG ||
		stdelf.Class(ident[stdelf.EI_CLASS]) != stdelf.ELFCLASS32 ||
		stdelf.Data(ident[stdelf.EI_DATA]) != stdelf.ELFDATA2LSB {
		return nil, ErrHeader
	}

	typ, err := v.Uint16(offType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHeader, err)
	}

	machine, err := v.Uint16(offMachine)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHeader, err)
	}

	version, err := v.Uint32(offVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHeader, err)
	}

	if stdelf.Type(typ) != stdelf.ET_EXEC || stdelf.Machine(machine) != stdelf.EM_386 || version != uint32(stdelf.EV_CURRENT) {
		return nil, fmt.Errorf("%w: type %d machine %d version %d", ErrType, typ, machine, version)
	}

	img := &Image{view: v}

	if img.Entry, err = v.Uint32(offEntry); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHeader, err)
	}

	phoff, err := v.Uint32(offPhoff)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHeader, err)
	}

	phentsize, err := v.Uint16(offPhentsize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHeader, err)
	}

	phnum, err := v.Uint16(offPhnum)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHeader, err)
	}

	if phentsize != ProgHeaderSize {
		return nil, fmt.Errorf("%w: %d", ErrPhentsize, phentsize)
	}

	if !v.Contains(phoff, uint32(phnum)*ProgHeaderSize) {
		return nil, fmt.Errorf("%w: program headers at %#x outside the module", ErrSegment, phoff)
	}

	for i := uint32(0); i < uint32(phnum); i++ {
		seg, load, err := segment(v, phoff+i*ProgHeaderSize)
		if err != nil {
			return nil, fmt.Errorf("%w: program header %d: %w", ErrSegment, i, err)
		}

		if !load {
			continue
		}

		if seg.Filesz > seg.Memsz {
			return nil, fmt.Errorf("%w: program header %d: filesz %#x exceeds memsz %#x", ErrSegment, i, seg.Filesz, seg.Memsz)
		}

		if !v.Contains(seg.Offset, seg.Filesz) {
			return nil, fmt.Errorf("%w: program header %d: file bytes outside the module", ErrSegment, i)
		}

		if err := mem.Span(seg.Paddr, uint64(seg.Memsz)); err != nil {
			return nil, fmt.Errorf("%w: program header %d: %w", ErrSegment, i, err)
		}

		img.Segments = append(img.Segments, seg)
	}

	return img, nil
}

func segment(v *mem.View, off uint32) (Segment, bool, error) {
	typ, err := v.Uint32(off + phType)
	if err != nil {
		return Segment{}, false, err
	}

	if stdelf.ProgType(typ) != stdelf.PT_LOAD {
		return Segment{}, false, nil
	}

	var seg Segment

	for _, f := range []struct {
		off uint32
		dst *uint32
	}{
		{phOffset, &seg.Offset},
		{phVaddr, &seg.Vaddr},
		{phPaddr, &seg.Paddr},
		{phFilesz, &seg.Filesz},
		{phMemsz, &seg.Memsz},
	} {
		if *f.dst, err = v.Uint32(off + f.off); err != nil {
			return Segment{}, false, err
		}
	}

	return seg, true, nil
}

// Load copies the file bytes of every segment to its physical address and
// zero fills the rest of its memory size.
func (img *Image) Load(m mem.Memory) error {
	for _, seg := range img.Segments {
		data, err := img.view.Bytes(seg.Offset, seg.Filesz)
		if err != nil {
			return err
		}

		if err := m.Write(seg.Paddr, data); err != nil {
			return fmt.Errorf("loading segment at %#x: %w", seg.Paddr, err)
		}

		if err := m.Zero(seg.Paddr+seg.Filesz, seg.Memsz-seg.Filesz); err != nil {
			return fmt.Errorf("clearing segment at %#x: %w", seg.Paddr, err)
		}
	}

	return nil
}

// LoadAndConsume removes the first module from the boot record, handing its
// string over as the kernel command line, then validates and loads it. It
// returns the kernel entry point.
func LoadAndConsume(r *multiboot.Record, m mem.Memory) (uint32, *Image, error) {
	mod, err := r.PopModule()
	if err != nil {
		return 0, nil, err
	}

	size, err := mod.Size()
	if err != nil {
		return 0, nil, err
	}

	v, err := mem.NewView(m, mod.Start, size)
	if err != nil {
		return 0, nil, err
	}

	img, err := Parse(v)
	if err != nil {
		return 0, nil, err
	}

	if err := img.Load(m); err != nil {
		return 0, nil, err
	}

	return img.Entry, img, nil
}
