package sim

import "time"

// Jump is a recorded kernel entry.
type Jump struct {
	Entry  uint32
	Record uint32
}

// Platform records the transitions that never return on hardware.
type Platform struct {
	Skinits int
	Jumps   []Jump
	Resets  int

	// OnSkinit runs when the secure loader is started.
	OnSkinit func()
}

func (p *Platform) Skinit() {
	p.Skinits++

	if p.OnSkinit != nil {
		p.OnSkinit()
	}
}

func (p *Platform) Jump(entry, record uint32) {
	p.Jumps = append(p.Jumps, Jump{Entry: entry, Record: record})
}

func (p *Platform) Reset() {
	p.Resets++
}

// Clock advances virtual time without blocking.
type Clock struct {
	Waits   int
	Elapsed time.Duration
}

func (c *Clock) Wait(d time.Duration) {
	c.Waits++
	c.Elapsed += d
}
