package mem

import (
	"encoding/binary"
	"fmt"
)

// View is a bounds-checked window over a memory range. Every field read is
// validated against the window size before memory is touched.
type View struct {
	mem  Memory
	base uint32
	size uint32
}

// NewView returns a view of size bytes starting at base.
func NewView(m Memory, base, size uint32) (*View, error) {
	if err := Span(base, uint64(size)); err != nil {
		return nil, err
	}

	return &View{mem: m, base: base, size: size}, nil
}

// Base returns the physical address of offset 0.
func (v *View) Base() uint32 {
	return v.base
}

// Size returns the window length in bytes.
func (v *View) Size() uint32 {
	return v.size
}

// Contains reports whether [off, off+n) lies inside the window.
func (v *View) Contains(off, n uint32) bool {
	return uint64(off)+uint64(n) <= uint64(v.size)
}

func (v *View) check(off, n uint32) error {
	if !v.Contains(off, n) {
		return fmt.Errorf("%w: offset %#x length %d exceeds window of %d bytes", ErrOutOfRange, off, n, v.size)
	}

	return nil
}

// Bytes copies n bytes at off.
func (v *View) Bytes(off, n uint32) ([]byte, error) {
	if err := v.check(off, n); err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	if err := v.mem.Read(v.base+off, buf); err != nil {
		return nil, err
	}

	return buf, nil
}

// Uint8 reads the byte at off.
func (v *View) Uint8(off uint32) (uint8, error) {
	b, err := v.Bytes(off, 1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

// Uint16 reads a little-endian half word at off.
func (v *View) Uint16(off uint32) (uint16, error) {
	b, err := v.Bytes(off, 2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 reads a little-endian word at off.
func (v *View) Uint32(off uint32) (uint32, error) {
	b, err := v.Bytes(off, 4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}
