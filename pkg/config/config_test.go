package config_test

import (
	"crypto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-tpm/tpm2"
	"github.com/kairos-io/go-oslo/pkg/config"
	"github.com/spf13/viper"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config test Suite")
}

var _ = Describe("Config tests", func() {
	It("Loads the defaults from an empty viper", func() {
		c, err := config.Load(viper.New())
		Expect(err).ToNot(HaveOccurred())
		Expect(c).To(Equal(config.Default()))
	})
	It("Merges a configuration file with the defaults", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "oslo.yaml")
		Expect(os.WriteFile(path, []byte("hash: sha256\nstrict: false\ntis:\n  poll-interval: 2ms\n"), 0o600)).To(Succeed())

		v := viper.New()
		v.SetConfigFile(path)
		Expect(v.ReadInConfig()).To(Succeed())

		c, err := config.Load(v)
		Expect(err).ToNot(HaveOccurred())
		Expect(c.Hash).To(Equal("sha256"))
		Expect(c.Strict).To(BeFalse())
		Expect(c.TIS.PollInterval).To(Equal(2 * time.Millisecond))
		Expect(c.TIS.PollAttempts).To(Equal(750))
		Expect(c.PCR).To(Equal(19))
	})
	It("Rejects unknown hashes", func() {
		v := viper.New()
		v.Set("hash", "md5")
		_, err := config.Load(v)
		Expect(err).To(MatchError(config.ErrUnknownHash))
	})
	It("Rejects PCRs out of range", func() {
		v := viper.New()
		v.Set("pcr", 24)
		_, err := config.Load(v)
		Expect(err).To(HaveOccurred())
	})
	DescribeTable("Algorithm",
		func(name string, h crypto.Hash, alg tpm2.TPMAlgID) {
			c := config.Default()
			c.Hash = name
			gotHash, gotAlg, err := c.Algorithm()
			Expect(err).ToNot(HaveOccurred())
			Expect(gotHash).To(Equal(h))
			Expect(gotAlg).To(Equal(alg))
		},
		Entry("sha1", "sha1", crypto.SHA1, tpm2.TPMAlgSHA1),
		Entry("SHA-256", "SHA-256", crypto.SHA256, tpm2.TPMAlgSHA256),
		Entry("sha384", "sha384", crypto.SHA384, tpm2.TPMAlgSHA384),
		Entry("sha512", "sha512", crypto.SHA512, tpm2.TPMAlgSHA512),
	)
})
