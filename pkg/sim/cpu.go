package sim

import "encoding/binary"

const (
	msrAPICBase = 0x1b
	msrEFER     = 0xc0000080
	eferSVME    = 1 << 12

	leafVendor  = 0x00000000
	leafExtMax  = 0x80000000
	leafExtFeat = 0x80000001
	leafSVM     = 0x8000000a
	extFeatSVM  = 1 << 2
	extFeatAPIC = 1 << 9
)

// CPU models the CPUID leaves and MSRs the launch path looks at.
type CPU struct {
	Vendor      string
	MaxExtLeaf  uint32
	SVM         bool
	APIC        bool
	SVMRevision uint8
	// LockSVM drops writes to EFER.SVME.
	LockSVM bool

	MSRs map[uint32]uint64
}

// NewCPU returns an SVM capable AMD boot processor with its APIC enabled at
// the default base.
func NewCPU() *CPU {
	return &CPU{
		Vendor:      "AuthenticAMD",
		MaxExtLeaf:  leafSVM,
		SVM:         true,
		APIC:        true,
		SVMRevision: 1,
		MSRs: map[uint32]uint64{
			// base 0xfee00000, BSP and global enable
			msrAPICBase: defaultAPICBase | 0x100 | 0x800,
		},
	}
}

// CPUID returns the registers of leaf.
func (c *CPU) CPUID(leaf uint32) (eax, ebx, ecx, edx uint32) {
	switch leaf {
	case leafVendor:
		v := []byte(c.Vendor + "            ")[:12]

		return 1, binary.LittleEndian.Uint32(v[0:]), binary.LittleEndian.Uint32(v[8:]), binary.LittleEndian.Uint32(v[4:])
	case leafExtMax:
		return c.MaxExtLeaf, 0, 0, 0
	}

	if leaf > c.MaxExtLeaf {
		return 0, 0, 0, 0
	}

	switch leaf {
	case leafExtFeat:
		if c.SVM {
			ecx |= extFeatSVM
		}

		if c.APIC {
			edx |= extFeatAPIC
		}
	case leafSVM:
		eax = uint32(c.SVMRevision)
	}

	return eax, ebx, ecx, edx
}

// ReadMSR returns the MSR value, zero when never written.
func (c *CPU) ReadMSR(msr uint32) uint64 {
	return c.MSRs[msr]
}

// WriteMSR stores the MSR value.
func (c *CPU) WriteMSR(msr uint32, val uint64) {
	if c.MSRs == nil {
		c.MSRs = map[uint32]uint64{}
	}

	if msr == msrEFER && c.LockSVM {
		val = val&^eferSVME | c.MSRs[msr]&eferSVME
	}

	c.MSRs[msr] = val
}
