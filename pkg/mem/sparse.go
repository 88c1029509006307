package mem

import "fmt"

const pageSize = 4096

// Sparse is a simulated physical memory backed by lazily allocated pages.
// Unwritten memory reads as zero.
type Sparse struct {
	limit uint64
	pages map[uint32]*[pageSize]byte
}

// NewSparse returns a memory of limit bytes, 0 selects the full 4 GiB space.
func NewSparse(limit uint64) *Sparse {
	if limit == 0 || limit > 1<<32 {
		limit = 1 << 32
	}

	return &Sparse{
		limit: limit,
		pages: make(map[uint32]*[pageSize]byte),
	}
}

func (s *Sparse) check(addr uint32, n int) error {
	if uint64(addr)+uint64(n) > s.limit {
		return fmt.Errorf("%w: %#x+%#x beyond %#x", ErrOutOfRange, addr, n, s.limit)
	}

	return nil
}

func (s *Sparse) page(addr uint32, alloc bool) *[pageSize]byte {
	p := s.pages[addr/pageSize]
	if p == nil && alloc {
		p = new([pageSize]byte)
		s.pages[addr/pageSize] = p
	}

	return p
}

// Read implements Memory.
func (s *Sparse) Read(addr uint32, p []byte) error {
	if err := s.check(addr, len(p)); err != nil {
		return err
	}

	for done := 0; done < len(p); {
		a := addr + uint32(done)
		off := int(a % pageSize)
		n := min(pageSize-off, len(p)-done)

		if pg := s.page(a, false); pg != nil {
			copy(p[done:done+n], pg[off:off+n])
		} else {
			clear(p[done : done+n])
		}

		done += n
	}

	return nil
}

// Write implements Memory.
func (s *Sparse) Write(addr uint32, p []byte) error {
	if err := s.check(addr, len(p)); err != nil {
		return err
	}

	for done := 0; done < len(p); {
		a := addr + uint32(done)
		off := int(a % pageSize)
		n := min(pageSize-off, len(p)-done)

		copy(s.page(a, true)[off:off+n], p[done:done+n])
		done += n
	}

	return nil
}

// Zero implements Memory.
func (s *Sparse) Zero(addr uint32, size uint32) error {
	if err := s.check(addr, int(size)); err != nil {
		return err
	}

	for done := uint64(0); done < uint64(size); {
		a := addr + uint32(done)
		off := uint64(a % pageSize)
		n := min(pageSize-off, uint64(size)-done)

		if pg := s.page(a, false); pg != nil {
			clear(pg[off : off+n])
		}

		done += n
	}

	return nil
}
