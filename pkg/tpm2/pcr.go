// Package tpm2 issues the few TPM 2.0 commands the launch path needs.
package tpm2

import (
	"fmt"

	"github.com/google/go-tpm/tpm2"
)

// CreateSelector converts PCR numbers into a bitmask.
func CreateSelector(pcrs []int) ([]byte, error) {
	// PC client TPMs implement at least PCRs 0-23 in every bank
	const sizeOfPCRSelect = 3

	mask := make([]byte, sizeOfPCRSelect)

	for _, n := range pcrs {
		if n < 0 || n >= 8*sizeOfPCRSelect {
			return nil, fmt.Errorf("PCR index %d is out of range (exceeds maximum value %d)", n, 8*sizeOfPCRSelect-1)
		}

		mask[n>>3] |= 1 << (n & 0x7)
	}

	return mask, nil
}

// Selection returns the PCR selection of pcrs in the bank of alg.
func Selection(alg tpm2.TPMAlgID, pcrs ...int) (tpm2.TPMLPCRSelection, error) {
	mask, err := CreateSelector(pcrs)
	if err != nil {
		return tpm2.TPMLPCRSelection{}, err
	}

	return tpm2.TPMLPCRSelection{
		PCRSelections: []tpm2.TPMSPCRSelection{
			{
				Hash:      alg,
				PCRSelect: mask,
			},
		},
	}, nil
}
