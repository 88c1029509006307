// Package multiboot reads and updates the multiboot information structure
// handed over by firmware, directly in physical memory.
package multiboot

import (
	"errors"
	"fmt"

	"github.com/kairos-io/go-oslo/pkg/mem"
)

const (
	FlagMem        = 1 << 0
	FlagCmdline    = 1 << 2
	FlagMods       = 1 << 3
	FlagLoaderName = 1 << 9
)

// field offsets inside the boot record
const (
	offFlags      = 0
	offCmdline    = 16
	offModsCount  = 20
	offModsAddr   = 24
	offLoaderName = 64

	// RecordSize covers every field up to and including boot_loader_name.
	RecordSize = 68
	// ModuleSize is the size of one module list entry.
	ModuleSize = 16
)

var (
	ErrNoModules   = errors.New("no boot modules")
	ErrModuleRange = errors.New("bad module range")
)

// Module is one entry of the module list.
type Module struct {
	Start  uint32
	End    uint32
	String uint32
}

// Size returns the module length, or an error if End < Start.
func (m Module) Size() (uint32, error) {
	if m.End < m.Start {
		return 0, fmt.Errorf("%w: end %#x below start %#x", ErrModuleRange, m.End, m.Start)
	}

	return m.End - m.Start, nil
}

// Record is a boot record located at Addr.
type Record struct {
	mem  mem.Memory
	Addr uint32
}

// At returns the record at addr.
func At(m mem.Memory, addr uint32) *Record {
	return &Record{mem: m, Addr: addr}
}

func (r *Record) get(off uint32) (uint32, error) {
	return mem.ReadUint32(r.mem, r.Addr+off)
}

func (r *Record) set(off, val uint32) error {
	return mem.WriteUint32(r.mem, r.Addr+off, val)
}

func (r *Record) Flags() (uint32, error) {
	return r.get(offFlags)
}

func (r *Record) SetFlags(flags uint32) error {
	return r.set(offFlags, flags)
}

func (r *Record) Cmdline() (uint32, error) {
	return r.get(offCmdline)
}

func (r *Record) ModsCount() (uint32, error) {
	return r.get(offModsCount)
}

func (r *Record) ModsAddr() (uint32, error) {
	return r.get(offModsAddr)
}

func (r *Record) LoaderName() (uint32, error) {
	return r.get(offLoaderName)
}

func (r *Record) addFlags(bits uint32) error {
	flags, err := r.Flags()
	if err != nil {
		return err
	}

	return r.SetFlags(flags | bits)
}

// Modules returns the module list. The modules flag must be set and at least
// one module must be present.
func (r *Record) Modules() ([]Module, error) {
	flags, err := r.Flags()
	if err != nil {
		return nil, err
	}

	if flags&FlagMods == 0 {
		return nil, fmt.Errorf("%w: module flag missing", ErrNoModules)
	}

	count, err := r.ModsCount()
	if err != nil {
		return nil, err
	}

	if count == 0 {
		return nil, ErrNoModules
	}

	addr, err := r.ModsAddr()
	if err != nil {
		return nil, err
	}

	if err = mem.Span(addr, uint64(count)*ModuleSize); err != nil {
		return nil, err
	}

	mods := make([]Module, 0, count)

	for i := uint32(0); i < count; i++ {
		m, err := r.module(addr + i*ModuleSize)
		if err != nil {
			return nil, err
		}

		mods = append(mods, m)
	}

	return mods, nil
}

func (r *Record) module(addr uint32) (m Module, err error) {
	if m.Start, err = mem.ReadUint32(r.mem, addr); err != nil {
		return
	}

	if m.End, err = mem.ReadUint32(r.mem, addr+4); err != nil {
		return
	}

	m.String, err = mem.ReadUint32(r.mem, addr+8)

	return
}

// PopModule removes the first module from the list and hands its string
// over as the kernel command line. The command line flag is set
// unconditionally, firmware always initializes the module string.
func (r *Record) PopModule() (Module, error) {
	count, err := r.ModsCount()
	if err != nil {
		return Module{}, err
	}

	if count == 0 {
		return Module{}, ErrNoModules
	}

	addr, err := r.ModsAddr()
	if err != nil {
		return Module{}, err
	}

	m, err := r.module(addr)
	if err != nil {
		return Module{}, err
	}

	for _, f := range []struct {
		off uint32
		val uint32
	}{
		{offModsAddr, addr + ModuleSize},
		{offModsCount, count - 1},
		{offCmdline, m.String},
	} {
		if err = r.set(f.off, f.val); err != nil {
			return Module{}, err
		}
	}

	return m, r.addFlags(FlagCmdline)
}

// SetLoaderName stores name as a NUL terminated string at addr and points
// the boot record to it.
func (r *Record) SetLoaderName(addr uint32, name string) error {
	if err := r.mem.Write(addr, append([]byte(name), 0)); err != nil {
		return err
	}

	if err := r.set(offLoaderName, addr); err != nil {
		return err
	}

	return r.addFlags(FlagLoaderName)
}

// String reads the NUL terminated string at addr, up to limit bytes. Reading
// stops at the terminator, so a string close to the end of memory is read
// in full. On a read error the bytes before it are returned with the error.
func String(m mem.Memory, addr uint32, limit int) (string, error) {
	buf := make([]byte, 0, limit)

	var c [1]byte

	for len(buf) < limit {
		if err := mem.Span(addr, uint64(len(buf))+1); err != nil {
			return string(buf), err
		}

		if err := m.Read(addr+uint32(len(buf)), c[:]); err != nil {
			return string(buf), err
		}

		if c[0] == 0 {
			break
		}

		buf = append(buf, c[0])
	}

	return string(buf), nil
}

// Builder lays out a boot record and its modules in memory, as firmware
// would before handing over.
type Builder struct {
	Mem        mem.Memory
	RecordAddr uint32
	ModsAddr   uint32
	// DataAddr is where module contents and strings are placed, page aligned.
	DataAddr uint32
}

// Build writes the record with one module per entry of images, each module
// string set to the matching entry of strings.
func (b *Builder) Build(images [][]byte, strings []string) (*Record, error) {
	r := At(b.Mem, b.RecordAddr)

	if err := b.Mem.Zero(b.RecordAddr, RecordSize); err != nil {
		return nil, err
	}

	next := b.DataAddr

	for i, img := range images {
		start := align(next)
		if err := b.Mem.Write(start, img); err != nil {
			return nil, err
		}

		next = start + uint32(len(img))

		var str uint32
		if i < len(strings) {
			str = next
			if err := b.Mem.Write(str, append([]byte(strings[i]), 0)); err != nil {
				return nil, err
			}

			next += uint32(len(strings[i])) + 1
		}

		entry := b.ModsAddr + uint32(i)*ModuleSize
		for j, val := range []uint32{start, start + uint32(len(img)), str, 0} {
			if err := mem.WriteUint32(b.Mem, entry+uint32(j)*4, val); err != nil {
				return nil, err
			}
		}
	}

	for _, f := range []struct {
		off uint32
		val uint32
	}{
		{offFlags, FlagMem | FlagMods},
		{offModsCount, uint32(len(images))},
		{offModsAddr, b.ModsAddr},
	} {
		if err := r.set(f.off, f.val); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func align(addr uint32) uint32 {
	return (addr + 0xfff) &^ 0xfff
}
