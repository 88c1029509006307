// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package measure hashes boot modules and predicts the PCR values they
// produce.
package measure

import (
	"crypto"
	"errors"
	"fmt"
	"hash"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/google/go-tpm/tpm2"
	"github.com/kairos-io/go-oslo/pkg/constants"
	"github.com/kairos-io/go-oslo/pkg/measure/pcr"
	"github.com/kairos-io/go-oslo/pkg/mem"
	"github.com/kairos-io/go-oslo/pkg/multiboot"
	"github.com/kairos-io/go-oslo/pkg/types"
)

// ErrUnsupportedBank is returned for algorithms without a PCR bank in the
// report.
var ErrUnsupportedBank = errors.New("unsupported PCR bank")

// Context measures one memory range through a fixed scratch buffer.
type Context struct {
	alg     crypto.Hash
	h       hash.Hash
	scratch [constants.TransferBufferSize]byte
}

// NewContext returns a Context hashing with alg.
func NewContext(alg crypto.Hash) (*Context, error) {
	if !alg.Available() {
		return nil, fmt.Errorf("hash %v not available", alg)
	}

	return &Context{alg: alg, h: alg.New()}, nil
}

// Measure returns the digest of [start, end).
func (c *Context) Measure(m mem.Memory, start, end uint32) ([]byte, error) {
	if end < start {
		return nil, fmt.Errorf("%w: %#x-%#x", multiboot.ErrModuleRange, start, end)
	}

	c.h.Reset()

	for addr := start; addr < end; {
		n := min(end-addr, uint32(len(c.scratch)))

		if err := m.Read(addr, c.scratch[:n]); err != nil {
			return nil, err
		}

		c.h.Write(c.scratch[:n])
		addr += n
	}

	return c.h.Sum(nil), nil
}

// Module measures a boot module.
func Module(m mem.Memory, mod multiboot.Module, alg crypto.Hash, logger *slog.Logger) ([]byte, error) {
	size, err := mod.Size()
	if err != nil {
		return nil, err
	}

	c, err := NewContext(alg)
	if err != nil {
		return nil, err
	}

	logger.Debug("Measuring module", "start", fmt.Sprintf("%#x", mod.Start), "size", humanize.IBytes(uint64(size)), "alg", alg)

	return c.Measure(m, mod.Start, mod.End)
}

// GenerateSignedPCR predicts the value of PCR once the modules were measured
// into the bank of alg, signing the PCR policy when rsaKey is set. Only that
// bank is extended by the loader, so it is the only one reported.
func GenerateSignedPCR(modules [][]byte, rsaKey types.RSAKey, PCR int, alg tpm2.TPMAlgID, logger *slog.Logger) (*types.PCRData, error) {
	data, algs := types.GetTPMALGorithm()

	logger.Debug("Generating PCR data", "modules", len(modules), "pcr", PCR, "alg", alg)

	for _, algo := range algs {
		if algo.Alg != alg {
			continue
		}

		bankData, err := pcr.CalculateBankData(PCR, algo.Alg, modules, rsaKey)
		if err != nil {
			return nil, err
		}

		*algo.BankDataSetter = []types.BankData{bankData}

		return data, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrUnsupportedBank, alg)
}
