package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/cpuid/v2"
	"github.com/spf13/cobra"
)

type probeResult struct {
	Vendor     string `json:"vendor"`
	Brand      string `json:"brand"`
	Family     int    `json:"family"`
	Model      int    `json:"model"`
	SVM        bool   `json:"svm"`
	Hypervisor bool   `json:"hypervisor"`
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report whether the host processor supports SKINIT",
	RunE: func(cmd *cobra.Command, args []string) error {
		res := probeResult{
			Vendor:     cpuid.CPU.VendorID.String(),
			Brand:      cpuid.CPU.BrandName,
			Family:     cpuid.CPU.Family,
			Model:      cpuid.CPU.Model,
			SVM:        cpuid.CPU.Supports(cpuid.SVM),
			Hypervisor: cpuid.CPU.Supports(cpuid.HYPERVISOR),
		}

		jsonData, err := json.Marshal(res)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(jsonData))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
