// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package pcr emulates PCR extension and signs PCR policies over the
// predicted values.
package pcr

import (
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// Digest emulates a PCR right after a dynamic launch reset it.
//
// The initial value is all zeroes.
type Digest struct {
	alg  crypto.Hash
	hash []byte
}

// NewDigest creates a Digest for the given hash algorithm.
func NewDigest(alg crypto.Hash) *Digest {
	return &Digest{
		alg:  alg,
		hash: make([]byte, alg.Size()),
	}
}

// Hash returns the current value.
func (d *Digest) Hash() []byte {
	return d.hash
}

// Extend measures data and extends the measurement.
func (d *Digest) Extend(data []byte) {
	h := d.alg.New()
	h.Write(data)

	d.ExtendDigest(h.Sum(nil))
}

// ExtendDigest extends an already computed measurement, the way the TPM
// does for TPM2_PCR_Extend.
func (d *Digest) ExtendDigest(sum []byte) {
	h := d.alg.New()
	h.Write(d.hash)
	h.Write(sum)

	d.hash = h.Sum(nil)
}
