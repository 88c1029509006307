// Package sim provides a simulated machine for running the launch path off
// hardware: sparse RAM, a TIS attached TPM 2.0, the local APIC, an SVM
// capable CPU and a platform that records the non-returning transitions.
package sim

import (
	"github.com/kairos-io/go-oslo/pkg/mem"
)

// Machine bundles the simulated devices.
type Machine struct {
	RAM      *mem.Sparse
	TPM      *TPM
	TIS      *TIS
	APIC     *APIC
	Bus      *Bus
	CPU      *CPU
	Platform *Platform
	Clock    *Clock
}

// Option customizes a Machine.
type Option func(*Machine)

// WithoutTPM removes the TPM from the bus.
func WithoutTPM() Option {
	return func(m *Machine) {
		m.TPM = nil
		m.TIS = nil
		m.Bus.TIS = nil
	}
}

// WithoutSVM hides the SVM feature bit.
func WithoutSVM() Option {
	return func(m *Machine) {
		m.CPU.SVM = false
	}
}

// NewMachine returns a machine with a TPM and an SVM capable CPU.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		RAM:      mem.NewSparse(0),
		TPM:      NewTPM(),
		APIC:     NewAPIC(),
		CPU:      NewCPU(),
		Platform: &Platform{},
		Clock:    &Clock{},
	}

	m.TIS = NewTIS(m.TPM.Handle)
	m.Bus = &Bus{TIS: m.TIS, APIC: m.APIC}

	for _, opt := range opts {
		opt(m)
	}

	m.Platform.OnSkinit = func() {
		if m.TPM != nil {
			m.TPM.DynamicReset()
		}
	}

	return m
}
