// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package pesign provides the keys PCR policies are signed with.
package pesign

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kairos-io/go-oslo/pkg/types"
)

const pkcs11Prefix = "pkcs11:"

// ErrNotRSA is returned for keys that are not RSA keys.
var ErrNotRSA = errors.New("not an RSA key")

// PCRSigner implements types.RSAKey over a PEM key or a PKCS#11 token.
type PCRSigner struct {
	signer crypto.Signer
	public *rsa.PublicKey
}

// Verify interface.
var _ types.RSAKey = (*PCRSigner)(nil)

// PublicRSAKey returns the public key.
func (s *PCRSigner) PublicRSAKey() *rsa.PublicKey {
	return s.public
}

// Public returns the public key.
func (s *PCRSigner) Public() crypto.PublicKey {
	return s.PublicRSAKey()
}

// Sign implements the crypto.Signer interface.
func (s *PCRSigner) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) (signature []byte, err error) {
	return s.signer.Sign(rand, digest, opts)
}

// NewPCRSigner creates a PCR signer from a private key file or, for a
// "pkcs11:" URI, from a key on a PKCS#11 token.
func NewPCRSigner(key string) (*PCRSigner, error) {
	if strings.HasPrefix(key, pkcs11Prefix) {
		signer, err := loadPKCS11Signer(key)
		if err != nil {
			return nil, fmt.Errorf("failed to load PKCS#11 key: %w", err)
		}

		return newPCRSigner(signer)
	}

	keyData, err := os.ReadFile(key)
	if err != nil {
		return nil, err
	}

	return ParsePCRSigner(keyData)
}

// ParsePCRSigner creates a PCR signer from a PEM encoded PKCS#8 or PKCS#1
// RSA private key.
func ParsePCRSigner(keyData []byte) (*PCRSigner, error) {
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("failed to decode private key")
	}

	if rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return newPCRSigner(rsaKey)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private RSA key: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, ErrNotRSA
	}

	return newPCRSigner(signer)
}

func newPCRSigner(signer crypto.Signer) (*PCRSigner, error) {
	public, ok := signer.Public().(*rsa.PublicKey)
	if !ok {
		return nil, ErrNotRSA
	}

	return &PCRSigner{signer: signer, public: public}, nil
}
