package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/kairos-io/go-oslo/pkg/config"
	"github.com/kairos-io/go-oslo/pkg/constants"
	"github.com/kairos-io/go-oslo/pkg/launch"
	"github.com/kairos-io/go-oslo/pkg/multiboot"
	"github.com/kairos-io/go-oslo/pkg/sim"
	"github.com/kairos-io/go-oslo/pkg/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// where the simulated firmware lays out the boot record and the modules
const (
	bootRecordAddr = 0x00010000
	bootModsAddr   = 0x00011000
	bootDataAddr   = 0x01000000
)

var bootCmd = &cobra.Command{
	Use:   "boot KERNEL [MODULE...]",
	Short: "Run the measured launch of the given modules on a simulated machine",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}

		modules, err := utils.ReadModules(args)
		if err != nil {
			return err
		}

		var opts []sim.Option
		if viper.GetBool("no-tpm") {
			opts = append(opts, sim.WithoutTPM())
		}
		if viper.GetBool("no-svm") {
			opts = append(opts, sim.WithoutSVM())
		}

		machine := sim.NewMachine(opts...)
		builder := &multiboot.Builder{
			Mem:        machine.RAM,
			RecordAddr: bootRecordAddr,
			ModsAddr:   bootModsAddr,
			DataAddr:   bootDataAddr,
		}
		if _, err = builder.Build(modules, utils.ModuleStrings(args, viper.GetString("cmdline"))); err != nil {
			return err
		}

		slog.Info("Booting", "modules", len(modules), "tpm", machine.TPM != nil, "svm", machine.CPU.SVM)

		loader := launch.New(machine.RAM, machine.Bus, machine.CPU, machine.Platform, machine.Clock, cfg, cmd.ErrOrStderr())

		state, err := loader.PreLaunch(bootRecordAddr, constants.MultibootMagic)
		if err == nil && state == launch.StateLaunched {
			state, err = loader.PostLaunch(bootRecordAddr)
		}

		if err != nil {
			loader.Exit(err)
		}

		jsonData, jerr := json.MarshalIndent(loader.Report(state, err), "", "  ")
		if jerr != nil {
			return jerr
		}

		if output := viper.GetString("output"); output != "" {
			if werr := os.WriteFile(output, jsonData, 0o644); werr != nil {
				return werr
			}
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonData))
		}

		return err
	},
}

func init() {
	bootCmd.Flags().Bool("no-tpm", false, "Simulate a machine without TPM.")
	bootCmd.Flags().Bool("no-svm", false, "Simulate a processor without SVM.")
	bootCmd.Flags().StringP("cmdline", "c", "", "Kernel cmdline.")
	bootCmd.Flags().StringP("output", "o", "", "Output file for the launch report in json format.")
	bootCmd.Flags().String("hash", "sha1", "Measurement hash algorithm.")
	bootCmd.Flags().Int("pcr", constants.DRTMPCR, "TPM PCR to extend the modules into.")

	rootCmd.AddCommand(bootCmd)
}
