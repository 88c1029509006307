package pesign

import (
	"crypto"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ThalesGroup/crypto11"
)

// pkcs11URI is the subset of RFC 7512 needed to find a signing key.
type pkcs11URI struct {
	config crypto11.Config
	id     []byte
	label  []byte
}

// parsePKCS11URI parses
//
//	pkcs11:token=<label>;slot-id=<n>;id=<key-id>;object=<key-label>?module-path=<path>&pin-value=<pin>
//
// module-path and pin-value are also accepted as path attributes.
func parsePKCS11URI(raw string) (*pkcs11URI, error) {
	rest, ok := strings.CutPrefix(raw, pkcs11Prefix)
	if !ok {
		return nil, fmt.Errorf("not a PKCS#11 URI: %q", raw)
	}

	path, query, _ := strings.Cut(rest, "?")

	attrs := map[string]string{}

	for _, attr := range strings.Split(path, ";") {
		if attr == "" {
			continue
		}

		k, v, _ := strings.Cut(attr, "=")

		value, err := url.PathUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}

		attrs[k] = value
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		return nil, err
	}

	for k := range params {
		attrs[k] = params.Get(k)
	}

	u := &pkcs11URI{
		config: crypto11.Config{
			Path:       attrs["module-path"],
			Pin:        attrs["pin-value"],
			TokenLabel: attrs["token"],
		},
	}

	if u.config.Path == "" || u.config.Pin == "" {
		return nil, errors.New("module-path and pin-value required in PKCS#11 URI")
	}

	if slot, ok := attrs["slot-id"]; ok {
		n, err := strconv.Atoi(slot)
		if err != nil {
			return nil, fmt.Errorf("slot-id: %w", err)
		}

		u.config.SlotNumber = &n
	}

	if id, ok := attrs["id"]; ok {
		u.id = []byte(id)
	}

	if label, ok := attrs["object"]; ok {
		u.label = []byte(label)
	}

	if u.id == nil && u.label == nil {
		return nil, errors.New("no valid key identifier (id= or object=) provided in PKCS#11 URI")
	}

	if u.config.TokenLabel == "" && u.config.SlotNumber == nil {
		return nil, errors.New("token= or slot-id= required in PKCS#11 URI")
	}

	return u, nil
}

// loadPKCS11Signer opens the token named by the URI and looks up the key pair.
func loadPKCS11Signer(raw string) (crypto.Signer, error) {
	u, err := parsePKCS11URI(raw)
	if err != nil {
		return nil, err
	}

	ctx, err := crypto11.Configure(&u.config)
	if err != nil {
		return nil, err
	}

	key, err := ctx.FindKeyPair(u.id, u.label)
	if err != nil {
		return nil, err
	}

	if key == nil {
		return nil, errors.New("no key found on PKCS#11 token")
	}

	return key, nil
}
