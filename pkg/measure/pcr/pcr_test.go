package pcr

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/kairos-io/go-oslo/pkg/pesign"
	tpm2internal "github.com/kairos-io/go-oslo/pkg/tpm2"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "PCR test Suite")
}

// Values precalculated with other tools for the modules "module one" and
// "module two" extended into PCR 19.
const (
	knownSHA256Value  = "15bd77f924c6ce00a54f84504157ee876d6efee7a5a0637054b4434116b478d9"
	knownSHA256Policy = "dfa51b5c97fd30696be4daf1185b5e85bfb071740f3f659c23eb07033686316c"
	knownSHA1Value    = "177a291eeab9c106ddbc8ab92ed2cf2401354297"
	knownSHA1Policy   = "5244d1084bc0b8e0e749bb9e4958b2cef50804b4f99cbf6108fc9fbfe2aecdea"
	knownOneValue     = "f47d9a3e8c9dfbd3d40e4329b0cb3f51b90cc3914a759e870aed420553343103"
	knownOnePolicy    = "7f0be5dcc424381ae13998b8e0e64f450a337d17696833995c9195ede164c646"

	// PCR 11 after extending "enter-initrd"
	knownPCR11Policy = "7c8486f61cc1d88a28d6ab87850bee07c467ce6311340219e43a7a6e6521e543"
)

var modules = [][]byte{[]byte("module one"), []byte("module two")}

var _ = Describe("PCR tests", func() {
	var pcrsigner *pesign.PCRSigner
	var key *rsa.PrivateKey

	BeforeEach(func() {
		var err error
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		Expect(err).ToNot(HaveOccurred())

		pcrsigner, err = pesign.ParsePCRSigner(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
		Expect(err).ToNot(HaveOccurred())
	})

	Describe("Bank", func() {
		Describe("CalculateBankData", func() {
			It("Predicts the PCR value without a key", func() {
				bank, err := CalculateBankData(19, tpm2.TPMAlgSHA256, modules, nil)
				Expect(err).ToNot(HaveOccurred())
				Expect(bank.PCRs).To(Equal([]int{19}))
				Expect(bank.Value).To(Equal(knownSHA256Value))
				Expect(bank.Sig).To(BeEmpty())
				Expect(bank.Pol).To(BeEmpty())
			})
			It("Signs the policy for every bank", func() {
				bank, err := CalculateBankData(19, tpm2.TPMAlgSHA256, modules, pcrsigner)
				Expect(err).ToNot(HaveOccurred())
				Expect(bank.Value).To(Equal(knownSHA256Value))
				Expect(bank.Pol).To(Equal(knownSHA256Policy))

				fp := sha256.Sum256(x509.MarshalPKCS1PublicKey(&key.PublicKey))
				Expect(bank.PKFP).To(Equal(hex.EncodeToString(fp[:])))

				bank, err = CalculateBankData(19, tpm2.TPMAlgSHA1, modules, pcrsigner)
				Expect(err).ToNot(HaveOccurred())
				Expect(bank.Value).To(Equal(knownSHA1Value))
				Expect(bank.Pol).To(Equal(knownSHA1Policy))
			})
			It("Policy hash doesn't match when changing the modules", func() {
				bank, err := CalculateBankData(19, tpm2.TPMAlgSHA256, modules[:1], pcrsigner)
				Expect(err).ToNot(HaveOccurred())
				Expect(bank.Value).To(Equal(knownOneValue))
				Expect(bank.Pol).To(Equal(knownOnePolicy))
				Expect(bank.Pol).ToNot(Equal(knownSHA256Policy))
			})
			It("Does not calculate the same policy hash for a different PCR", func() {
				bank, err := CalculateBankData(17, tpm2.TPMAlgSHA256, modules, pcrsigner)
				Expect(err).ToNot(HaveOccurred())
				Expect(bank.Value).To(Equal(knownSHA256Value))
				Expect(bank.Pol).ToNot(Equal(knownSHA256Policy))
			})
			It("Rejects unknown algorithms", func() {
				_, err := CalculateBankData(19, tpm2.TPMAlgNull, modules, nil)
				Expect(err).To(HaveOccurred())
			})
		})
		Describe("SignPolicy", func() {
			It("Requires a key", func() {
				_, err := SignPolicy(19, tpm2.TPMAlgSHA256, nil, make([]byte, 32))
				Expect(err).To(HaveOccurred())
			})
			It("Produces a verifiable signature", func() {
				value, err := MeasureModules(tpm2.TPMAlgSHA256, modules)
				Expect(err).ToNot(HaveOccurred())

				bank, err := SignPolicy(19, tpm2.TPMAlgSHA256, pcrsigner, value)
				Expect(err).ToNot(HaveOccurred())

				pol, err := hex.DecodeString(bank.Pol)
				Expect(err).ToNot(HaveOccurred())
				sig, err := base64.StdEncoding.DecodeString(bank.Sig)
				Expect(err).ToNot(HaveOccurred())

				hashed := sha256.Sum256(pol)
				Expect(rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, hashed[:], sig)).To(Succeed())
			})
		})
		Describe("CalculatePolicy", func() {
			It("Generates the proper policy", func() {
				pcrSelection, err := tpm2internal.Selection(tpm2.TPMAlgSHA256, 11)
				Expect(err).ToNot(HaveOccurred())

				hashData := NewDigest(crypto.SHA256)
				hashData.Extend([]byte("enter-initrd"))

				policyPCR, err := CalculatePolicy(hashData.Hash(), pcrSelection)
				Expect(err).ToNot(HaveOccurred())
				Expect(hex.EncodeToString(policyPCR)).To(Equal(knownPCR11Policy))
			})
		})
	})
	Describe("Extend", func() {
		It("Extends the hash properly", func() {
			hash := NewDigest(crypto.SHA256)
			// Expect it to be empty
			Expect(hash.Hash()).To(Equal(make([]byte, 32)))
			hash.Extend([]byte("module one"))
			Expect(hex.EncodeToString(hash.Hash())).To(Equal(knownOneValue))
		})
		It("Extends precomputed digests like the TPM", func() {
			sum := sha256.Sum256([]byte("module one"))
			hash := NewDigest(crypto.SHA256)
			hash.ExtendDigest(sum[:])
			Expect(hex.EncodeToString(hash.Hash())).To(Equal(knownOneValue))
		})
	})
})
