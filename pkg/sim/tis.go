package sim

import (
	"encoding/binary"

	"github.com/kairos-io/go-oslo/pkg/constants"
)

const (
	tisPage      = 0x1000
	tisAccess    = 0x00
	tisStatus    = 0x18
	tisBurst     = 0x19
	tisFIFO      = 0x24
	tisDIDVID    = 0xf00
	tisRID       = 0xf04
	tisAccValid  = 0x80
	tisAccActive = 0x20
	tisAccSeize  = 0x08
	tisAccReq    = 0x02
	tisStValid   = 0x80
	tisStReady   = 0x40
	tisStGo      = 0x20
	tisStAvail   = 0x10
	tisStExpect  = 0x08
	tisBurstSize = 0x40

	// VendorSTMicro is the DID/VID register value of an STMicro TPM.
	VendorSTMicro = 0x2e4d5453
	// VendorInfineon is the DID/VID register value of an Infineon TPM.
	VendorInfineon = 0x000b15d1
)

type tisState int

const (
	tisIdle tisState = iota
	tisReady
	tisReception
	tisCompletion
)

// TIS models the register pages of a TIS attached TPM. Commands are passed
// to Handler once the go bit is written.
type TIS struct {
	Base       uint32
	VendorID   uint32
	RevisionID uint8
	Handler    func(cmd []byte) []byte

	// InvalidAccess clears the valid bit of every access register.
	InvalidAccess bool
	// DenyClaims ignores seize and request writes.
	DenyClaims bool
	// StickyActive ignores deactivation.
	StickyActive bool
	// NeverReady ignores command ready writes.
	NeverReady bool
	// ExpectMore keeps the expect bit set whatever was written.
	ExpectMore bool
	// NeverValid keeps the valid bit clear once a command was written.
	NeverValid bool
	// NoResponse keeps the valid bit clear once a command was started.
	NoResponse bool

	// Commands holds every command that was executed.
	Commands [][]byte

	active int
	state  tisState
	cmd    []byte
	rsp    []byte
}

// NewTIS returns an STMicro TIS device executing commands with handler.
func NewTIS(handler func([]byte) []byte) *TIS {
	return &TIS{
		Base:       constants.TISBase,
		VendorID:   VendorSTMicro,
		RevisionID: 0x4e,
		Handler:    handler,
		active:     -1,
	}
}

// Active returns the active locality or -1.
func (t *TIS) Active() int {
	return t.active
}

// Contains reports whether addr is in one of the locality pages.
func (t *TIS) Contains(addr uint32) bool {
	return addr >= t.Base && addr < t.Base+constants.Localities*tisPage
}

func (t *TIS) split(addr uint32) (int, uint32) {
	return int((addr - t.Base) / tisPage), (addr - t.Base) % tisPage
}

func (t *TIS) expecting() bool {
	if t.ExpectMore || len(t.cmd) < headerSize {
		return true
	}

	return len(t.cmd) < int(binary.BigEndian.Uint32(t.cmd[2:6]))
}

func (t *TIS) status() uint8 {
	switch t.state {
	case tisReady:
		return tisStValid | tisStReady
	case tisReception:
		if t.NeverValid {
			return 0
		}

		if t.expecting() {
			return tisStValid | tisStExpect
		}

		return tisStValid
	case tisCompletion:
		if t.NeverValid || t.NoResponse {
			return 0
		}

		if len(t.rsp) > 0 {
			return tisStValid | tisStAvail
		}

		return tisStValid
	default:
		return 0
	}
}

func (t *TIS) reset() {
	t.state = tisIdle
	t.cmd = nil
	t.rsp = nil
}

// Read8 implements the byte wide register reads.
func (t *TIS) Read8(addr uint32) uint8 {
	l, off := t.split(addr)

	switch off {
	case tisAccess:
		if t.InvalidAccess {
			return 0
		}

		if t.active == l {
			return tisAccValid | tisAccActive
		}

		return tisAccValid
	case tisStatus:
		if t.active != l {
			return 0xff
		}

		return t.status()
	case tisBurst:
		if t.active == l && (t.state == tisReady || t.state == tisReception) {
			return tisBurstSize
		}

		return 0
	case tisFIFO:
		if t.active != l || t.state != tisCompletion || len(t.rsp) == 0 {
			return 0xff
		}

		b := t.rsp[0]
		t.rsp = t.rsp[1:]

		return b
	case tisRID:
		if l == 0 {
			return t.RevisionID
		}
	}

	return 0
}

// Write8 implements the byte wide register writes.
func (t *TIS) Write8(addr uint32, val uint8) {
	l, off := t.split(addr)

	switch off {
	case tisAccess:
		t.writeAccess(l, val)
	case tisStatus:
		if t.active != l {
			return
		}

		if val&tisStReady != 0 && !t.NeverReady {
			t.reset()
			t.state = tisReady
		}

		if val&tisStGo != 0 && t.state == tisReception && !t.expecting() {
			t.Commands = append(t.Commands, t.cmd)
			t.rsp = t.Handler(t.cmd)
			t.cmd = nil
			t.state = tisCompletion
		}
	case tisFIFO:
		if t.active != l || (t.state != tisReady && t.state != tisReception) {
			return
		}

		t.state = tisReception
		t.cmd = append(t.cmd, val)
	}
}

func (t *TIS) writeAccess(l int, val uint8) {
	switch {
	case val&tisAccSeize != 0:
		if !t.DenyClaims && t.active != l {
			t.active = l
			t.reset()
		}
	case val&tisAccReq != 0:
		if !t.DenyClaims && t.active < 0 {
			t.active = l
			t.reset()
		}
	case val&tisAccActive != 0:
		if t.active == l && !t.StickyActive {
			t.active = -1
			t.reset()
		}
	}
}

// Read32 implements the word wide register reads.
func (t *TIS) Read32(addr uint32) uint32 {
	l, off := t.split(addr)
	if l == 0 && off == tisDIDVID {
		return t.VendorID
	}

	return uint32(t.Read8(addr))
}

// Write32 is ignored, the driver only writes bytes.
func (t *TIS) Write32(uint32, uint32) {}
