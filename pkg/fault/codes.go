package fault

// Status codes printed on termination.
const (
	CodeNoMultiboot    = 0x10
	CodeDeactivate     = 0x11
	CodeNoSVMPlatform  = 0x12
	CodeEnableSVM      = 0x13
	CodeStopProcessors = 0x14

	CodeNoBootRecord = 0x20
	CodeCalcHash     = 0x21
	CodeClaim        = 0x22
	CodeExtend       = 0x23
	CodeRelease      = 0x25
	CodeStartModule  = 0x26

	// kernel image validation
	CodeELFHeader    = 0x31
	CodeELFType      = 0x32
	CodeELFPhentsize = 0x33
	CodeELFSegment   = 0x34

	// CodeUnknown is printed for errors that were never classified.
	CodeUnknown = 0xff
)
