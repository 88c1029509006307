// Package cpu checks for and prepares the AMD secure virtual machine
// extensions needed by SKINIT, and parks the application processors.
package cpu

import (
	"errors"
	"fmt"
	"time"

	"github.com/kairos-io/go-oslo/pkg/mem"
	"github.com/kairos-io/go-oslo/pkg/poll"
)

const (
	leafExtMax  = 0x80000000
	leafExtFeat = 0x80000001
	leafSVM     = 0x8000000a

	extFeatSVM  = 1 << 2
	extFeatAPIC = 1 << 9

	MSRAPICBase = 0x1b
	MSREFER     = 0xc0000080
	EFERSVME    = 1 << 12

	apicBaseBSP    = 1 << 8
	apicBaseEnable = 1 << 11
	apicBaseMask   = 0xfffff000
	apicICRLow     = 0x300

	icrPending = 1 << 12
	// INIT to all excluding self, level assert
	icrINITAllButSelf = 3<<18 | 1<<14 | 5<<8

	defaultPollAttempts = 1000
	defaultPollInterval = time.Millisecond
)

var (
	// ErrNoExtendedCPUID means the SVM feature leaf is not implemented.
	ErrNoExtendedCPUID = errors.New("extended CPUID leaves missing")
	// ErrNoSVM means the processor lacks the secure virtual machine extensions.
	ErrNoSVM = errors.New("SVM not supported")
	// ErrNoAPIC means the processor has no local APIC.
	ErrNoAPIC = errors.New("APIC not supported")
	// ErrSVMNotEnabled means EFER.SVME did not stick.
	ErrSVMNotEnabled = errors.New("could not enable SVM")

	// ErrNotBSP means the code does not run on the boot processor.
	ErrNotBSP = errors.New("not running on the boot processor")
	// ErrAPICDisabled means the local APIC is globally disabled.
	ErrAPICDisabled = errors.New("APIC disabled")
	// ErrAPICAddress means the APIC is mapped above 4 GiB.
	ErrAPICAddress = errors.New("APIC base above 4GiB")
	// ErrIPIPending means an earlier IPI was never delivered.
	ErrIPIPending = errors.New("previous IPI still pending")
	// ErrIPITimeout means the INIT IPI was not delivered in time.
	ErrIPITimeout = errors.New("INIT IPI not delivered")
)

// CPU gives access to the identification and model specific registers of
// the processor executing the boot path.
type CPU interface {
	CPUID(leaf uint32) (eax, ebx, ecx, edx uint32)
	ReadMSR(msr uint32) uint64
	WriteMSR(msr uint32, val uint64)
}

// CheckCapabilities verifies the processor can execute SKINIT and returns
// the SVM revision.
func CheckCapabilities(c CPU) (uint8, error) {
	maxLeaf, _, _, _ := c.CPUID(leafExtMax)
	if maxLeaf < leafSVM {
		return 0, fmt.Errorf("%w: highest leaf %#x", ErrNoExtendedCPUID, maxLeaf)
	}

	_, _, ecx, edx := c.CPUID(leafExtFeat)
	if ecx&extFeatSVM == 0 {
		return 0, ErrNoSVM
	}

	if edx&extFeatAPIC == 0 {
		return 0, ErrNoAPIC
	}

	rev, _, _, _ := c.CPUID(leafSVM)

	return uint8(rev & 0xff), nil
}

// EnableSVM sets EFER.SVME and checks that it was accepted.
func EnableSVM(c CPU) error {
	c.WriteMSR(MSREFER, c.ReadMSR(MSREFER)|EFERSVME)

	if c.ReadMSR(MSREFER)&EFERSVME == 0 {
		return ErrSVMNotEnabled
	}

	return nil
}

// Quiescer sends INIT to every other processor through the local APIC and
// waits for the delivery to complete.
type Quiescer struct {
	CPU          CPU
	Bus          mem.Bus
	Clock        poll.Clock
	PollAttempts int
	PollInterval time.Duration
}

// NewQuiescer returns a Quiescer with the default delivery timeout.
func NewQuiescer(c CPU, bus mem.Bus, clock poll.Clock) *Quiescer {
	return &Quiescer{
		CPU:          c,
		Bus:          bus,
		Clock:        clock,
		PollAttempts: defaultPollAttempts,
		PollInterval: defaultPollInterval,
	}
}

// StopProcessors puts every application processor into the wait-for-SIPI
// state.
func (q *Quiescer) StopProcessors() error {
	base := q.CPU.ReadMSR(MSRAPICBase)

	if base&apicBaseBSP == 0 {
		return ErrNotBSP
	}

	if base&apicBaseEnable == 0 {
		return ErrAPICDisabled
	}

	if (base>>32)&0xf != 0 {
		return fmt.Errorf("%w: %#x", ErrAPICAddress, base)
	}

	icr := uint32(base)&apicBaseMask + apicICRLow

	if q.Bus.Read32(icr)&icrPending != 0 {
		return ErrIPIPending
	}

	q.Bus.Write32(icr, icrINITAllButSelf)

	err := poll.Until(q.Clock, q.PollAttempts, q.PollInterval, func() bool {
		return q.Bus.Read32(icr)&icrPending == 0
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIPITimeout, err)
	}

	return nil
}
