package tis

import (
	"errors"
	"fmt"

	"github.com/kairos-io/go-oslo/pkg/constants"
)

// ErrReleased is returned when a released Locality is used.
var ErrReleased = errors.New("locality released")

// PhaseError identifies the transaction phase that failed.
type PhaseError struct {
	Code  int
	Phase string
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("tis %s (%d)", e.Phase, e.Code)
}

var (
	// ErrWriteNotReady means the device never became command ready.
	ErrWriteNotReady = &PhaseError{Code: -1, Phase: "write: not ready"}
	// ErrWriteRejected means the device did not accept the command.
	ErrWriteRejected = &PhaseError{Code: -2, Phase: "write: command rejected"}
	// ErrReadNotValid means the status register never became valid.
	ErrReadNotValid = &PhaseError{Code: -3, Phase: "read: status not valid"}
	// ErrReadOverrun means the response did not fit the read buffer.
	ErrReadOverrun = &PhaseError{Code: -4, Phase: "read: more data available"}
)

// Locality is a claimed register page.
type Locality struct {
	driver   *Driver
	index    int
	released bool
}

// Index returns the locality number.
func (l *Locality) Index() int {
	return l.index
}

// Transact writes out to the FIFO, starts execution and reads the response
// into in. It returns the number of response bytes. in is only written once
// the device reports valid data.
func (l *Locality) Transact(out, in []byte) (int, error) {
	if l.released {
		return 0, ErrReleased
	}

	if err := l.write(out); err != nil {
		return 0, err
	}

	return l.read(in)
}

func (l *Locality) write(out []byte) error {
	d := l.driver
	status := d.reg(l.index, RegStatus)
	fifo := d.reg(l.index, RegDataFIFO)

	if d.Bus.Read8(status)&StatusCmdReady == 0 {
		// wake the device up from idle
		d.Bus.Write8(status, StatusCmdReady)

		if err := d.wait(l.index, StatusCmdReady); err != nil {
			return fmt.Errorf("%w: %w", ErrWriteNotReady, err)
		}
	}

	for _, b := range out {
		d.Bus.Write8(fifo, b)
	}

	if err := d.wait(l.index, StatusValid); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteRejected, err)
	}

	if d.Bus.Read8(status)&StatusExpect != 0 {
		return ErrWriteRejected
	}

	d.Bus.Write8(status, StatusGo)

	return nil
}

func (l *Locality) read(in []byte) (int, error) {
	d := l.driver
	status := d.reg(l.index, RegStatus)
	fifo := d.reg(l.index, RegDataFIFO)

	if err := d.wait(l.index, StatusValid|StatusDataAvail); err != nil && d.Bus.Read8(status)&StatusValid == 0 {
		return 0, fmt.Errorf("%w: %w", ErrReadNotValid, err)
	}

	n := 0
	for n < len(in) && d.Bus.Read8(status)&StatusDataAvail != 0 {
		in[n] = d.Bus.Read8(fifo)
		n++
	}

	if d.Bus.Read8(status)&StatusDataAvail != 0 {
		return n, ErrReadOverrun
	}

	// let background jobs of the device complete
	d.Bus.Write8(status, StatusCmdReady)

	return n, nil
}

// Send implements transport.TPM.
func (l *Locality) Send(cmd []byte) ([]byte, error) {
	rsp := make([]byte, constants.TransferBufferSize)

	n, err := l.Transact(cmd, rsp)
	if err != nil {
		return nil, err
	}

	return rsp[:n], nil
}

// Release deactivates the locality. Releasing twice is a no-op.
func (l *Locality) Release() error {
	if l.released {
		return nil
	}

	l.released = true

	d := l.driver
	access := d.reg(l.index, RegAccess)

	d.Bus.Write8(access, AccessActive)

	if d.Bus.Read8(access)&AccessActive != 0 {
		return fmt.Errorf("locality %d: %w", l.index, ErrStillActive)
	}

	d.Logger.Debug("Released locality", "locality", l.index)

	return nil
}
