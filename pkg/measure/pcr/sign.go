// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package pcr

import (
	"crypto"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Signature holds the signed policy digest.
type Signature struct {
	Digest          string
	SignatureBase64 string
}

// Sign hashes digest with hash and signs the result with key.
func Sign(digest []byte, hash crypto.Hash, key crypto.Signer) (*Signature, error) {
	h := hash.New()
	h.Write(digest)

	signed, err := key.Sign(nil, h.Sum(nil), hash)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}

	return &Signature{
		Digest:          hex.EncodeToString(digest),
		SignatureBase64: base64.StdEncoding.EncodeToString(signed),
	}, nil
}
