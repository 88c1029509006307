// Package mem abstracts physical memory and memory-mapped registers.
//
// Memory is RAM holding boot modules, the boot record and the loaded kernel.
// Bus is the register side, every access on it is a single device access and
// must never be cached or merged by the caller.
package mem

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfRange is returned for accesses outside the addressable range.
var ErrOutOfRange = errors.New("address out of range")

// Memory is byte addressable physical RAM.
type Memory interface {
	Read(addr uint32, p []byte) error
	Write(addr uint32, p []byte) error
	Zero(addr uint32, size uint32) error
}

// Bus gives access to memory-mapped device registers.
type Bus interface {
	Read8(addr uint32) uint8
	Write8(addr uint32, val uint8)
	Read32(addr uint32) uint32
	Write32(addr uint32, val uint32)
}

// ReadUint32 reads a little-endian word from m.
func ReadUint32(m Memory, addr uint32) (uint32, error) {
	var buf [4]byte

	if err := m.Read(addr, buf[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteUint32 writes a little-endian word to m.
func WriteUint32(m Memory, addr uint32, val uint32) error {
	var buf [4]byte

	binary.LittleEndian.PutUint32(buf[:], val)

	return m.Write(addr, buf[:])
}

// Span checks that [addr, addr+size) does not wrap the 32-bit address space.
func Span(addr uint32, size uint64) error {
	if uint64(addr)+size > 1<<32 {
		return fmt.Errorf("%w: %#x+%#x", ErrOutOfRange, addr, size)
	}

	return nil
}
