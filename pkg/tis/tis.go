// Package tis drives a TPM through the TCG TIS memory-mapped register
// interface.
//
// Every locality has a 4 KiB register page. A Locality handle is obtained
// with Claim and must be released, ReleaseAll deactivates every locality
// regardless of who holds it.
package tis

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kairos-io/go-oslo/pkg/constants"
	"github.com/kairos-io/go-oslo/pkg/mem"
	"github.com/kairos-io/go-oslo/pkg/poll"
)

// Register offsets inside a locality page.
const (
	RegAccess         = 0x00
	RegIntEnable      = 0x08
	RegIntVector      = 0x0c
	RegIntStatus      = 0x10
	RegIntfCapability = 0x14
	RegStatus         = 0x18
	RegBurstCount     = 0x19
	RegDataFIFO       = 0x24
	RegDIDVID         = 0xf00
	RegRID            = 0xf04
)

const (
	localityPageShift = 12

	defaultPollAttempts = 750
	defaultPollInterval = time.Millisecond
	defaultClaimDelay   = 10 * time.Millisecond

	idSTMicro  = 0x2e4d5453
	idInfineon = 0x000b15d1
	idAllOnes  = 0xffffffff
)

// Access register bits.
const (
	AccessValid   = 1 << 7
	AccessActive  = 1 << 5
	AccessSeized  = 1 << 4
	AccessToSeize = 1 << 3
	AccessPending = 1 << 2
	AccessRequest = 1 << 1
)

// Status register bits.
const (
	StatusValid     = 1 << 7
	StatusCmdReady  = 1 << 6
	StatusGo        = 1 << 5
	StatusDataAvail = 1 << 4
	StatusExpect    = 1 << 3
	StatusRetry     = 1 << 1
)

var (
	// ErrBadLocality is returned for localities outside 0-4.
	ErrBadLocality = errors.New("locality out of range")
	// ErrAccessNotValid means the access register does not report valid.
	ErrAccessNotValid = errors.New("access register not valid")
	// ErrLocalityActive means the locality is held and seizing was not requested.
	ErrLocalityActive = errors.New("locality already active")
	// ErrNotActivated means the locality did not become active after the request.
	ErrNotActivated = errors.New("locality not activated")
	// ErrStillActive means a locality did not deactivate.
	ErrStillActive = errors.New("locality still active")
)

// Vendor identifies the TPM manufacturer.
type Vendor int

const (
	VendorNone Vendor = iota
	VendorSTMicro
	VendorInfineon
	VendorUnknown
)

func (v Vendor) String() string {
	switch v {
	case VendorNone:
		return "none"
	case VendorSTMicro:
		return "STM"
	case VendorInfineon:
		return "Infineon"
	default:
		return "unknown"
	}
}

// Present reports whether a device answered at all.
func (v Vendor) Present() bool {
	return v != VendorNone
}

// Driver accesses the TIS register pages through a Bus.
type Driver struct {
	Bus          mem.Bus
	Clock        poll.Clock
	Base         uint32
	PollAttempts int
	PollInterval time.Duration
	ClaimDelay   time.Duration
	Logger       *slog.Logger
}

// New returns a Driver with the PC client defaults.
func New(bus mem.Bus, clock poll.Clock, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{
		Bus:          bus,
		Clock:        clock,
		Base:         constants.TISBase,
		PollAttempts: defaultPollAttempts,
		PollInterval: defaultPollInterval,
		ClaimDelay:   defaultClaimDelay,
		Logger:       logger,
	}
}

func (d *Driver) reg(locality int, off uint32) uint32 {
	return d.Base + uint32(locality)<<localityPageShift + off
}

// Identify reads the vendor and revision id registers of locality 0.
func (d *Driver) Identify() (Vendor, uint8) {
	id := d.Bus.Read32(d.reg(0, RegDIDVID))
	rid := d.Bus.Read8(d.reg(0, RegRID))

	switch id {
	case 0, idAllOnes:
		d.Logger.Info("No TPM found")

		return VendorNone, 0
	case idSTMicro:
		d.Logger.Info("TPM found", "vendor", VendorSTMicro, "rev", rid)

		return VendorSTMicro, rid
	case idInfineon:
		d.Logger.Info("TPM found", "vendor", VendorInfineon, "rev", rid)

		return VendorInfineon, rid
	default:
		d.Logger.Info("Unknown TPM found", "id", fmt.Sprintf("%#08x", id), "rev", rid)

		return VendorUnknown, rid
	}
}

// Claim requests exclusive use of a locality. With force the locality is
// seized from its current owner. Claim does not retry.
func (d *Driver) Claim(locality int, force bool) (*Locality, error) {
	if locality < 0 || locality >= constants.Localities {
		return nil, fmt.Errorf("%w: %d", ErrBadLocality, locality)
	}

	access := d.reg(locality, RegAccess)

	val := d.Bus.Read8(access)
	if val&AccessValid == 0 {
		return nil, fmt.Errorf("locality %d: %w", locality, ErrAccessNotValid)
	}

	if val&AccessActive != 0 && !force {
		return nil, fmt.Errorf("locality %d: %w", locality, ErrLocalityActive)
	}

	if force {
		d.Bus.Write8(access, AccessToSeize)
	} else {
		d.Bus.Write8(access, AccessRequest)
	}

	d.Clock.Wait(d.ClaimDelay)

	// abort whatever command the previous owner left behind
	d.Bus.Write8(d.reg(locality, RegStatus), StatusCmdReady)

	if d.Bus.Read8(access)&AccessActive == 0 {
		return nil, fmt.Errorf("locality %d: %w", locality, ErrNotActivated)
	}

	d.Logger.Debug("Claimed locality", "locality", locality, "force", force)

	return &Locality{driver: d, index: locality}, nil
}

// ReleaseAll deactivates every locality and reports those that stayed active.
func (d *Driver) ReleaseAll() error {
	var result *multierror.Error

	for l := 0; l < constants.Localities; l++ {
		access := d.reg(l, RegAccess)

		d.Bus.Write8(access, AccessActive)

		if d.Bus.Read8(access)&AccessActive != 0 {
			result = multierror.Append(result, fmt.Errorf("locality %d: %w", l, ErrStillActive))
		}
	}

	return result.ErrorOrNil()
}

func (d *Driver) wait(locality int, bits uint8) error {
	status := d.reg(locality, RegStatus)

	return poll.Until(d.Clock, d.PollAttempts, d.PollInterval, func() bool {
		return d.Bus.Read8(status)&bits == bits
	})
}
