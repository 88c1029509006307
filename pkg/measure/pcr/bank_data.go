// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pcr

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/go-tpm/tpm2"
	tpm2internal "github.com/kairos-io/go-oslo/pkg/tpm2"
	"github.com/kairos-io/go-oslo/pkg/types"
)

// CalculateBankData predicts the value of pcrNumber once every module was
// measured into it, in order, and signs a PolicyPCR over that value when
// rsaKey is set.
//
// This mimics what happens in the TPM after the secure loader measured the
// boot modules.
func CalculateBankData(pcrNumber int, alg tpm2.TPMAlgID, modules [][]byte, rsaKey types.RSAKey) (types.BankData, error) {
	value, err := MeasureModules(alg, modules)
	if err != nil {
		return types.BankData{}, err
	}

	if rsaKey == nil {
		return types.BankData{
			PCRs:  []int{pcrNumber},
			Value: hex.EncodeToString(value),
		}, nil
	}

	return SignPolicy(pcrNumber, alg, rsaKey, value)
}

// MeasureModules returns the PCR value after extending each module's digest.
func MeasureModules(alg tpm2.TPMAlgID, modules [][]byte) ([]byte, error) {
	hashAlg, err := alg.Hash()
	if err != nil {
		return nil, err
	}

	d := NewDigest(hashAlg)

	for i, m := range modules {
		slog.Debug("Measuring module", "index", i, "alg", hashAlg.String())
		d.Extend(m)
	}

	return d.Hash(), nil
}

// SignPolicy signs the PolicyPCR digest binding pcrNumber to value.
func SignPolicy(pcrNumber int, alg tpm2.TPMAlgID, rsaKey types.RSAKey, value []byte) (types.BankData, error) {
	if rsaKey == nil {
		return types.BankData{}, errors.New("asked to sign the measurements but nil RSAKey passed")
	}

	hashAlg, err := alg.Hash()
	if err != nil {
		return types.BankData{}, err
	}

	pcrSelection, err := tpm2internal.Selection(alg, pcrNumber)
	if err != nil {
		return types.BankData{}, fmt.Errorf("failed to create PCR selection: %w", err)
	}

	policyPCR, err := CalculatePolicy(value, pcrSelection)
	if err != nil {
		return types.BankData{}, err
	}

	sigData, err := Sign(policyPCR, hashAlg, rsaKey)
	if err != nil {
		return types.BankData{}, err
	}

	pubKeyFingerprint := sha256.Sum256(x509.MarshalPKCS1PublicKey(rsaKey.PublicRSAKey()))

	slog.Debug("signed policy", "pkfp", hex.EncodeToString(pubKeyFingerprint[:]), "pol", sigData.Digest)

	return types.BankData{
		PCRs:  []int{pcrNumber},
		Value: hex.EncodeToString(value),
		PKFP:  hex.EncodeToString(pubKeyFingerprint[:]),
		Sig:   sigData.SignatureBase64,
		Pol:   sigData.Digest,
	}, nil
}

// CalculatePolicy calculates the policy hash for a given PCR value and PCR selection.
func CalculatePolicy(pcrValue []byte, pcrSelection tpm2.TPMLPCRSelection) ([]byte, error) {
	calculator, err := tpm2.NewPolicyCalculator(tpm2.TPMAlgSHA256)
	if err != nil {
		return nil, err
	}

	pcrHash := sha256.Sum256(pcrValue)

	policy := tpm2.PolicyPCR{
		PcrDigest: tpm2.TPM2BDigest{
			Buffer: pcrHash[:],
		},
		Pcrs: pcrSelection,
	}

	if err := policy.Update(calculator); err != nil {
		return nil, err
	}

	return calculator.Hash().Digest, nil
}
