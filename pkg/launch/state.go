package launch

// State is a step of the launch sequence.
type State int

const (
	StateStart State = iota
	StateTPMPrepared
	StateTPMAbsent
	StateCapabilityChecked
	StateSVMEnabled
	StateAPsStopped
	// StateLaunched means SKINIT was issued, on hardware it is never observed.
	StateLaunched
	// StateFallback means the kernel is started without a measured launch.
	StateFallback
	StateResumed
	StateMeasured
	StateExtended
	StateDeactivated
	StateKernelStarted
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateTPMPrepared:
		return "tpm-prepared"
	case StateTPMAbsent:
		return "tpm-absent"
	case StateCapabilityChecked:
		return "capability-checked"
	case StateSVMEnabled:
		return "svm-enabled"
	case StateAPsStopped:
		return "aps-stopped"
	case StateLaunched:
		return "launched"
	case StateFallback:
		return "fallback"
	case StateResumed:
		return "resumed"
	case StateMeasured:
		return "measured"
	case StateExtended:
		return "extended"
	case StateDeactivated:
		return "deactivated"
	case StateKernelStarted:
		return "kernel-started"
	default:
		return "unknown"
	}
}
