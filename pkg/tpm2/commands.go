package tpm2

import (
	"errors"
	"fmt"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
)

var (
	// ErrDigestSize is returned when a digest does not match its algorithm.
	ErrDigestSize = errors.New("digest size does not match algorithm")
	// ErrNoPCRValue is returned when the TPM did not return the requested PCR.
	ErrNoPCRValue = errors.New("no PCR value returned")
)

// Startup issues TPM2_Startup(CLEAR). A TPM that was already started by
// firmware answers TPM_RC_INITIALIZE, which is not an error.
func Startup(t transport.TPM) error {
	_, err := tpm2.Startup{StartupType: tpm2.TPMSUClear}.Execute(t)
	if err != nil && !errors.Is(err, tpm2.TPMRCInitialize) {
		return fmt.Errorf("TPM2_Startup: %w", err)
	}

	return nil
}

// Extend extends digest into pcr of the bank of alg.
func Extend(t transport.TPM, pcr int, alg tpm2.TPMAlgID, digest []byte) error {
	h, err := alg.Hash()
	if err != nil {
		return err
	}

	if len(digest) != h.Size() {
		return fmt.Errorf("%w: %s wants %d bytes, got %d", ErrDigestSize, h, h.Size(), len(digest))
	}

	_, err = tpm2.PCRExtend{
		PCRHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMHandle(pcr),
			Auth:   tpm2.PasswordAuth(nil),
		},
		Digests: tpm2.TPMLDigestValues{
			Digests: []tpm2.TPMTHA{
				{
					HashAlg: alg,
					Digest:  digest,
				},
			},
		},
	}.Execute(t)
	if err != nil {
		return fmt.Errorf("TPM2_PCR_Extend(%d): %w", pcr, err)
	}

	return nil
}

// ReadPCR returns the value of pcr in the bank of alg.
func ReadPCR(t transport.TPM, pcr int, alg tpm2.TPMAlgID) ([]byte, error) {
	sel, err := Selection(alg, pcr)
	if err != nil {
		return nil, err
	}

	rsp, err := tpm2.PCRRead{PCRSelectionIn: sel}.Execute(t)
	if err != nil {
		return nil, fmt.Errorf("TPM2_PCR_Read(%d): %w", pcr, err)
	}

	if len(rsp.PCRValues.Digests) != 1 {
		return nil, fmt.Errorf("PCR %d: %w", pcr, ErrNoPCRValue)
	}

	return rsp.PCRValues.Digests[0].Buffer, nil
}

// DumpPCRs reads PCRs 0 to count-1 in the bank of alg.
func DumpPCRs(t transport.TPM, count int, alg tpm2.TPMAlgID) ([][]byte, error) {
	values := make([][]byte, 0, count)

	for pcr := 0; pcr < count; pcr++ {
		v, err := ReadPCR(t, pcr, alg)
		if err != nil {
			return values, err
		}

		values = append(values, v)
	}

	return values, nil
}
