package sim

const (
	apicPage        = 0x1000
	apicICRLow      = 0x300
	icrPending      = 1 << 12
	icrModeShift    = 8
	icrModeMask     = 0x7
	icrModeINIT     = 0x5
	defaultAPICBase = 0xfee00000
)

// APIC models the interrupt command register of the boot processor's local
// APIC.
type APIC struct {
	Base uint32

	// PendingReads is how many ICR reads report a pending delivery after
	// each write.
	PendingReads int
	// StuckPending makes every delivery stay pending.
	StuckPending bool

	// Writes holds every value written to the ICR.
	Writes []uint32
	// INITs counts INIT IPIs sent.
	INITs int

	icr     uint32
	pending int
}

// NewAPIC returns an APIC at the architectural default base.
func NewAPIC() *APIC {
	return &APIC{Base: defaultAPICBase}
}

// Contains reports whether addr is in the APIC register page.
func (a *APIC) Contains(addr uint32) bool {
	return addr >= a.Base && addr < a.Base+apicPage
}

func (a *APIC) read32(addr uint32) uint32 {
	if addr-a.Base != apicICRLow {
		return 0
	}

	if a.StuckPending {
		return a.icr | icrPending
	}

	if a.pending > 0 {
		a.pending--

		return a.icr | icrPending
	}

	return a.icr
}

func (a *APIC) write32(addr uint32, val uint32) {
	if addr-a.Base != apicICRLow {
		return
	}

	a.Writes = append(a.Writes, val)
	a.icr = val &^ icrPending
	a.pending = a.PendingReads

	if (val>>icrModeShift)&icrModeMask == icrModeINIT {
		a.INITs++
	}
}

// Bus routes register accesses to the TIS device and the APIC. Unmapped
// addresses float high.
type Bus struct {
	TIS  *TIS
	APIC *APIC
}

func (b *Bus) Read8(addr uint32) uint8 {
	if b.TIS != nil && b.TIS.Contains(addr) {
		return b.TIS.Read8(addr)
	}

	return 0xff
}

func (b *Bus) Write8(addr uint32, val uint8) {
	if b.TIS != nil && b.TIS.Contains(addr) {
		b.TIS.Write8(addr, val)
	}
}

func (b *Bus) Read32(addr uint32) uint32 {
	switch {
	case b.TIS != nil && b.TIS.Contains(addr):
		return b.TIS.Read32(addr)
	case b.APIC != nil && b.APIC.Contains(addr):
		return b.APIC.read32(addr)
	default:
		return 0xffffffff
	}
}

func (b *Bus) Write32(addr uint32, val uint32) {
	switch {
	case b.TIS != nil && b.TIS.Contains(addr):
		b.TIS.Write32(addr, val)
	case b.APIC != nil && b.APIC.Contains(addr):
		b.APIC.write32(addr, val)
	}
}
