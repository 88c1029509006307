package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Utils test Suite")
}

var _ = Describe("Utils tests", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "")
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(os.RemoveAll, tmpDir)

		Expect(os.WriteFile(filepath.Join(tmpDir, "kernel"), []byte("kernel image"), 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(tmpDir, "initrd"), []byte("initrd"), 0o644)).To(Succeed())
	})

	Describe("ReadModules", func() {
		It("Reads the modules in order", func() {
			modules, err := ReadModules([]string{filepath.Join(tmpDir, "kernel"), filepath.Join(tmpDir, "initrd")})
			Expect(err).ToNot(HaveOccurred())
			Expect(modules).To(Equal([][]byte{[]byte("kernel image"), []byte("initrd")}))
		})
		It("Reports every missing module", func() {
			_, err := ReadModules([]string{
				filepath.Join(tmpDir, "missing-1"),
				filepath.Join(tmpDir, "kernel"),
				filepath.Join(tmpDir, "missing-2"),
			})
			Expect(err).To(HaveOccurred())
			Expect(err).To(MatchError(os.ErrNotExist))

			var merr *multierror.Error
			Expect(errors.As(err, &merr)).To(BeTrue())
			Expect(merr.Errors).To(HaveLen(2))
		})
	})

	Describe("ModuleStrings", func() {
		It("Appends the command line to the kernel only", func() {
			Expect(ModuleStrings([]string{"/boot/vmlinux", "/boot/initrd.img"}, "console=ttyS0")).
				To(Equal([]string{"vmlinux console=ttyS0", "initrd.img"}))
		})
		It("Uses the bare file name without a command line", func() {
			Expect(ModuleStrings([]string{"/boot/vmlinux"}, "")).To(Equal([]string{"vmlinux"}))
		})
	})
})
