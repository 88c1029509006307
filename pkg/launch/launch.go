// Package launch sequences the measured launch.
//
// PreLaunch runs on the firmware handoff and ends in SKINIT, PostLaunch is
// the entry point of the secure loader and ends in the kernel jump. Both
// return the State they reached so the sequence can be driven on a simulated
// machine, where the transitions return.
package launch

import (
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	gotpm "github.com/google/go-tpm/tpm2"
	"github.com/hashicorp/go-multierror"
	"github.com/kairos-io/go-oslo/pkg/config"
	"github.com/kairos-io/go-oslo/pkg/constants"
	"github.com/kairos-io/go-oslo/pkg/cpu"
	"github.com/kairos-io/go-oslo/pkg/elf"
	"github.com/kairos-io/go-oslo/pkg/fault"
	"github.com/kairos-io/go-oslo/pkg/measure"
	"github.com/kairos-io/go-oslo/pkg/mem"
	"github.com/kairos-io/go-oslo/pkg/multiboot"
	"github.com/kairos-io/go-oslo/pkg/poll"
	"github.com/kairos-io/go-oslo/pkg/tis"
	"github.com/kairos-io/go-oslo/pkg/tpm2"
)

const maxCmdline = 256

var errNoTPM = errors.New("no TPM")

// Platform performs the transitions that leave the loader.
type Platform interface {
	// Skinit starts the secure loader, PostLaunch is its entry point.
	Skinit()
	// Jump transfers control to the kernel with the boot record address.
	Jump(entry, record uint32)
	// Reset reboots the machine.
	Reset()
}

// Measurement is the digest of one boot module.
type Measurement struct {
	Module  multiboot.Module
	Cmdline string
	Alg     crypto.Hash
	Digest  []byte
}

// Loader runs the launch sequence on one machine.
type Loader struct {
	Memory   mem.Memory
	Bus      mem.Bus
	CPU      cpu.CPU
	Platform Platform
	Clock    poll.Clock
	Config   *config.Config
	Console  io.Writer
	Logger   *slog.Logger

	measurements []Measurement
	pcrValue     []byte
	kernel       *elf.Image
	entry        uint32
}

// New returns a Loader logging to console. A nil cfg means the defaults.
func New(m mem.Memory, bus mem.Bus, c cpu.CPU, p Platform, clock poll.Clock, cfg *config.Config, console io.Writer) *Loader {
	if cfg == nil {
		cfg = config.Default()
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	return &Loader{
		Memory:   m,
		Bus:      bus,
		CPU:      c,
		Platform: p,
		Clock:    clock,
		Config:   cfg,
		Console:  console,
		Logger:   slog.New(slog.NewTextHandler(console, &slog.HandlerOptions{Level: level})),
	}
}

func (l *Loader) driver() *tis.Driver {
	d := tis.New(l.Bus, l.Clock, l.Logger)
	d.Base = l.Config.TIS.Base
	d.PollAttempts = l.Config.TIS.PollAttempts
	d.PollInterval = l.Config.TIS.PollInterval
	d.ClaimDelay = l.Config.TIS.ClaimDelay

	return d
}

// PreLaunch prepares the TPM and the processor and issues SKINIT. Without
// both a TPM and an SVM capable processor the kernel is started unmeasured.
func (l *Loader) PreLaunch(recordAddr, magic uint32) (State, error) {
	fmt.Fprintln(l.Console, constants.Banner())

	if recordAddr == 0 || magic != constants.MultibootMagic {
		return StateStart, fault.New(fault.BootContractViolation, fault.CodeNoMultiboot, "not loaded via multiboot")
	}

	r := multiboot.At(l.Memory, recordAddr)

	if err := r.SetLoaderName(l.Config.LoaderNameAddr, l.Config.LoaderName); err != nil {
		return StateStart, fault.Wrap(fault.BootContractViolation, fault.CodeNoMultiboot, "recording the loader name", err)
	}

	state, tpmErr := l.prepareTPM()
	revision, cpuErr := cpu.CheckCapabilities(l.CPU)

	switch {
	case tpmErr != nil && cpuErr != nil:
		l.Logger.Warn("No TPM and no SVM platform, starting the kernel unmeasured", "tpm", tpmErr, "cpu", cpuErr)

		return l.startKernel(r, StateFallback)
	case cpuErr != nil:
		return state, fault.Wrap(fault.CapabilityError, fault.CodeNoSVMPlatform, "no SVM platform", cpuErr)
	case fault.CodeOf(tpmErr) == fault.CodeDeactivate:
		return state, tpmErr
	case tpmErr != nil:
		l.Logger.Warn("TPM not prepared, launching anyway", "err", tpmErr)
	}

	if err := cpu.EnableSVM(l.CPU); err != nil {
		return StateCapabilityChecked, fault.Wrap(fault.CapabilityError, fault.CodeEnableSVM, "could not enable SVM", err)
	}

	l.Logger.Info("SVM enabled", "revision", revision)

	q := cpu.NewQuiescer(l.CPU, l.Bus, l.Clock)
	q.PollAttempts = l.Config.APIC.PollAttempts

	if err := q.StopProcessors(); err != nil {
		return StateSVMEnabled, fault.Wrap(fault.MultiprocessorQuiesceError, fault.CodeStopProcessors, "sending an INIT IPI to other processors failed", err)
	}

	l.Logger.Info("call skinit")
	l.Platform.Skinit()

	return StateLaunched, nil
}

// prepareTPM starts the TPM from locality 0 and releases every locality
// before the launch.
func (l *Loader) prepareTPM() (State, error) {
	d := l.driver()

	if vendor, _ := d.Identify(); !vendor.Present() {
		return StateTPMAbsent, errNoTPM
	}

	loc, err := d.Claim(constants.PreLaunchLocality, true)
	if err != nil {
		if rerr := d.ReleaseAll(); rerr != nil {
			err = multierror.Append(err, rerr)
		}

		return StateTPMAbsent, fmt.Errorf("could not gain TIS ownership: %w", err)
	}

	if err := tpm2.Startup(loc); err != nil {
		l.Logger.Warn("TPM startup failed", "err", err)
	}

	if err := d.ReleaseAll(); err != nil {
		return StateTPMAbsent, fault.Wrap(fault.DeviceProtocolError, fault.CodeDeactivate, "tis deactivate failed", err)
	}

	return StateTPMPrepared, nil
}

// PostLaunch measures every boot module into the DRTM PCR and starts the
// first one as the kernel.
func (l *Loader) PostLaunch(recordAddr uint32) (State, error) {
	l.measurements, l.pcrValue = nil, nil

	if recordAddr == 0 {
		return StateResumed, fault.New(fault.BootContractViolation, fault.CodeNoBootRecord, "no boot record")
	}

	r := multiboot.At(l.Memory, recordAddr)

	h, alg, err := l.Config.Algorithm()
	if err != nil {
		return StateResumed, fault.Wrap(fault.BootContractViolation, fault.CodeCalcHash, "calc hash failed", err)
	}

	if err := l.measure(r, h); err != nil {
		return StateResumed, fault.Wrap(fault.BootContractViolation, fault.CodeCalcHash, "calc hash failed", err)
	}

	state := StateMeasured

	d := l.driver()
	if vendor, _ := d.Identify(); vendor.Present() {
		if state, err = l.extend(d, alg); err != nil {
			return state, err
		}
	} else {
		l.Logger.Warn("No TPM, modules were not extended")
	}

	return l.startKernel(r, state)
}

// measure hashes every module. All ranges are checked before the first one
// is read.
func (l *Loader) measure(r *multiboot.Record, h crypto.Hash) error {
	mods, err := r.Modules()
	if err != nil {
		return err
	}

	for i, mod := range mods {
		if _, err := mod.Size(); err != nil {
			return fmt.Errorf("module %d: %w", i, err)
		}
	}

	for i, mod := range mods {
		digest, err := measure.Module(l.Memory, mod, h, l.Logger)
		if err != nil {
			return fmt.Errorf("module %d: %w", i, err)
		}

		m := Measurement{Module: mod, Alg: h, Digest: digest}
		if mod.String != 0 {
			if m.Cmdline, err = multiboot.String(l.Memory, mod.String, maxCmdline); err != nil {
				l.Logger.Warn("Could not read the module string", "module", i, "addr", fmt.Sprintf("%#x", mod.String), "err", err)
			}
		}

		l.Logger.Info("HASH", "module", i, "digest", hex.EncodeToString(digest))
		l.measurements = append(l.measurements, m)
	}

	return nil
}

// extend records the measurements from locality 2. Every locality is
// released on all paths.
func (l *Loader) extend(d *tis.Driver, alg gotpm.TPMAlgID) (State, error) {
	loc, err := d.Claim(constants.PostLaunchLocality, true)
	if err != nil {
		_ = d.ReleaseAll()

		return StateMeasured, fault.Wrap(fault.DeviceProtocolError, fault.CodeClaim, "could not gain TIS ownership", err)
	}

	var result *multierror.Error

	for i, m := range l.measurements {
		if err := tpm2.Extend(loc, l.Config.PCR, alg, m.Digest); err != nil {
			result = multierror.Append(result, fmt.Errorf("module %d: %w", i, err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		if l.Config.Strict {
			_ = d.ReleaseAll()

			return StateMeasured, fault.Wrap(fault.DeviceProtocolError, fault.CodeExtend, "TPM extend failed", err)
		}

		l.Logger.Warn("TPM extend failed", "err", err)
	}

	if value, err := tpm2.ReadPCR(loc, l.Config.PCR, alg); err != nil {
		l.Logger.Warn("TPM PCR read failed", "pcr", l.Config.PCR, "err", err)
	} else {
		l.pcrValue = value
		l.Logger.Info("PCR", "index", l.Config.PCR, "value", hex.EncodeToString(value))
	}

	if l.Config.Debug {
		l.dumpPCRs(loc, alg)
	}

	if err := d.ReleaseAll(); err != nil {
		return StateExtended, fault.Wrap(fault.DeviceProtocolError, fault.CodeRelease, "tis deactivate failed", err)
	}

	return StateDeactivated, nil
}

func (l *Loader) dumpPCRs(loc *tis.Locality, alg gotpm.TPMAlgID) {
	values, err := tpm2.DumpPCRs(loc, constants.PCRCount, alg)
	for i, v := range values {
		l.Logger.Debug("PCR", "index", i, "value", hex.EncodeToString(v))
	}

	if err != nil {
		l.Logger.Warn("TPM PCR dump failed", "err", err)
	}

	value, err := tpm2.ReadPCR(loc, l.Config.ReadbackPCR, alg)
	if err != nil {
		l.Logger.Warn("TPM PCR read failed", "pcr", l.Config.ReadbackPCR, "err", err)

		return
	}

	l.Logger.Info("PCR", "index", l.Config.ReadbackPCR, "value", hex.EncodeToString(value))
}

// startKernel loads the first module and jumps to it.
func (l *Loader) startKernel(r *multiboot.Record, state State) (State, error) {
	entry, img, err := elf.LoadAndConsume(r, l.Memory)
	if err != nil {
		if code := elf.Code(err); code != 0 {
			return state, fault.Wrap(fault.ImageValidationError, code, "start module failed", err)
		}

		return state, fault.Wrap(fault.ImageValidationError, fault.CodeStartModule, "start module failed", err)
	}

	l.kernel, l.entry = img, entry

	l.Logger.Info("Starting kernel", "entry", fmt.Sprintf("%#x", entry), "segments", len(img.Segments))
	l.Platform.Jump(entry, r.Addr)

	return StateKernelStarted, nil
}

// Measurements returns the module digests of the last PostLaunch.
func (l *Loader) Measurements() []Measurement {
	return l.measurements
}

// PCRValue returns the DRTM PCR read back after the extensions, nil when
// there was no TPM.
func (l *Loader) PCRValue() []byte {
	return l.pcrValue
}

// Kernel returns the loaded kernel image and its entry point.
func (l *Loader) Kernel() (*elf.Image, uint32) {
	return l.kernel, l.entry
}

// Exit prints the status code of err, counts down and resets the machine.
func (l *Loader) Exit(err error) {
	if err != nil {
		l.Logger.Error("Launch failed", "err", err)
	}

	fmt.Fprintf(l.Console, "\nexit() %#x\n", fault.ExitCode(err))

	for i := 0; i < l.Config.Exit.Ticks; i++ {
		l.Clock.Wait(l.Config.Exit.Delay)
		fmt.Fprint(l.Console, ".")
	}

	fmt.Fprintln(l.Console, "-> OK, reboot now!")
	l.Platform.Reset()
}
