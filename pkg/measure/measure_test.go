package measure_test

import (
	"crypto"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/kairos-io/go-oslo/pkg/measure"
	"github.com/kairos-io/go-oslo/pkg/mem"
	"github.com/kairos-io/go-oslo/pkg/multiboot"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Measure test Suite")
}

var _ = Describe("Measure tests", func() {
	var m *mem.Sparse

	BeforeEach(func() {
		m = mem.NewSparse(1 << 24)
	})

	Describe("Context", func() {
		It("Hashes ranges larger than the scratch buffer", func() {
			data := make([]byte, 3*4096+123)
			for i := range data {
				data[i] = byte(i * 7)
			}
			Expect(m.Write(0x10000, data)).To(Succeed())

			c, err := measure.NewContext(crypto.SHA256)
			Expect(err).ToNot(HaveOccurred())

			sum, err := c.Measure(m, 0x10000, 0x10000+uint32(len(data)))
			Expect(err).ToNot(HaveOccurred())
			expected := sha256.Sum256(data)
			Expect(sum).To(Equal(expected[:]))
		})
		It("Hashes empty ranges", func() {
			c, err := measure.NewContext(crypto.SHA1)
			Expect(err).ToNot(HaveOccurred())

			sum, err := c.Measure(m, 0x2000, 0x2000)
			Expect(err).ToNot(HaveOccurred())
			expected := sha1.Sum(nil)
			Expect(sum).To(Equal(expected[:]))
		})
		It("Is reusable", func() {
			Expect(m.Write(0x1000, []byte("abc"))).To(Succeed())
			c, err := measure.NewContext(crypto.SHA256)
			Expect(err).ToNot(HaveOccurred())

			first, err := c.Measure(m, 0x1000, 0x1003)
			Expect(err).ToNot(HaveOccurred())
			second, err := c.Measure(m, 0x1000, 0x1003)
			Expect(err).ToNot(HaveOccurred())
			Expect(second).To(Equal(first))
		})
		It("Rejects inverted ranges", func() {
			c, err := measure.NewContext(crypto.SHA256)
			Expect(err).ToNot(HaveOccurred())
			_, err = c.Measure(m, 0x2000, 0x1000)
			Expect(err).To(MatchError(multiboot.ErrModuleRange))
		})
		It("Fails outside memory", func() {
			c, err := measure.NewContext(crypto.SHA256)
			Expect(err).ToNot(HaveOccurred())
			_, err = c.Measure(m, 1<<24-2, 1<<24+2)
			Expect(err).To(MatchError(mem.ErrOutOfRange))
		})
	})

	Describe("Module", func() {
		It("Measures a boot module", func() {
			Expect(m.Write(0x3000, []byte("module one"))).To(Succeed())
			sum, err := measure.Module(m, multiboot.Module{Start: 0x3000, End: 0x300a}, crypto.SHA256, slog.Default())
			Expect(err).ToNot(HaveOccurred())
			expected := sha256.Sum256([]byte("module one"))
			Expect(sum).To(Equal(expected[:]))
		})
	})

	Describe("GenerateSignedPCR", func() {
		modules := [][]byte{[]byte("module one"), []byte("module two")}

		It("Predicts the SHA-256 bank only", func() {
			data, err := measure.GenerateSignedPCR(modules, nil, 19, tpm2.TPMAlgSHA256, slog.Default())
			Expect(err).ToNot(HaveOccurred())
			Expect(data.SHA256).To(HaveLen(1))
			Expect(data.SHA256[0].Value).To(Equal("15bd77f924c6ce00a54f84504157ee876d6efee7a5a0637054b4434116b478d9"))
			Expect(data.SHA1).To(BeEmpty())
			Expect(data.SHA384).To(BeEmpty())
			Expect(data.SHA512).To(BeEmpty())
		})
		It("Predicts the SHA-1 bank only", func() {
			data, err := measure.GenerateSignedPCR(modules, nil, 19, tpm2.TPMAlgSHA1, slog.Default())
			Expect(err).ToNot(HaveOccurred())
			Expect(data.SHA1[0].Value).To(Equal("177a291eeab9c106ddbc8ab92ed2cf2401354297"))
			Expect(data.SHA256).To(BeEmpty())
		})
		It("Predicts the SHA-512 bank", func() {
			data, err := measure.GenerateSignedPCR(modules, nil, 19, tpm2.TPMAlgSHA512, slog.Default())
			Expect(err).ToNot(HaveOccurred())
			Expect(data.SHA512[0].Value).To(HaveLen(128))

			_, err = hex.DecodeString(data.SHA512[0].Value)
			Expect(err).ToNot(HaveOccurred())
		})
		It("Rejects algorithms without a bank", func() {
			_, err := measure.GenerateSignedPCR(modules, nil, 19, tpm2.TPMAlgSHA3256, slog.Default())
			Expect(err).To(MatchError(measure.ErrUnsupportedBank))
		})
	})
})
