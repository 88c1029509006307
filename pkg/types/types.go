package types

import (
	"crypto"
	"crypto/rsa"

	"github.com/google/go-tpm/tpm2"
)

// PCRData is the predicted PCR value per bank, in the systemd PCR signature
// json layout.
type PCRData struct {
	SHA1   []BankData `json:"sha1,omitempty"`
	SHA256 []BankData `json:"sha256,omitempty"`
	SHA384 []BankData `json:"sha384,omitempty"`
	SHA512 []BankData `json:"sha512,omitempty"`
}

// BankData contains data for a specific PCR bank.
type BankData struct {
	// list of PCR banks
	PCRs []int `json:"pcrs"`
	// Expected PCR value
	Value string `json:"value,omitempty"`
	// Fingerprint of the public key
	PKFP string `json:"pkfp,omitempty"`
	// Policy digest
	Pol string `json:"pol,omitempty"`
	// Signature of the policy digest in base64
	Sig string `json:"sig,omitempty"`
}

type Algorithm struct {
	Alg            tpm2.TPMAlgID
	BankDataSetter *[]BankData
}

// GetTPMALGorithm returns an empty PCRData and the banks to fill it with.
func GetTPMALGorithm() (*PCRData, []Algorithm) {
	data := &PCRData{}
	algs := []Algorithm{
		{
			Alg:            tpm2.TPMAlgSHA1,
			BankDataSetter: &data.SHA1,
		},
		{
			Alg:            tpm2.TPMAlgSHA256,
			BankDataSetter: &data.SHA256,
		},
		{
			Alg:            tpm2.TPMAlgSHA384,
			BankDataSetter: &data.SHA384,
		},
		{
			Alg:            tpm2.TPMAlgSHA512,
			BankDataSetter: &data.SHA512,
		},
	}
	return data, algs
}

// RSAKey is the input for the CalculateBankData function.
type RSAKey interface {
	crypto.Signer
	PublicRSAKey() *rsa.PublicKey
}

// ModuleMeasurement describes one measured boot module.
type ModuleMeasurement struct {
	Index   int    `json:"index"`
	Cmdline string `json:"cmdline,omitempty"`
	Start   uint32 `json:"start"`
	End     uint32 `json:"end"`
	Size    string `json:"size"`
	Alg     string `json:"alg"`
	Digest  string `json:"digest"`
}

// Segment is a loaded program segment of the kernel image.
type Segment struct {
	Paddr  uint32 `json:"paddr"`
	Filesz uint32 `json:"filesz"`
	Memsz  uint32 `json:"memsz"`
}

// Report is the outcome of a simulated boot.
type Report struct {
	Loader   string              `json:"loader"`
	State    string              `json:"state"`
	Measured bool                `json:"measured"`
	Entry    uint32              `json:"entry,omitempty"`
	Segments []Segment           `json:"segments,omitempty"`
	PCR      int                 `json:"pcr"`
	PCRValue string              `json:"pcrValue,omitempty"`
	Modules  []ModuleMeasurement `json:"modules,omitempty"`
	Error    string              `json:"error,omitempty"`
	Code     int                 `json:"code,omitempty"`
}
