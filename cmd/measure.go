package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/kairos-io/go-oslo/pkg/config"
	"github.com/kairos-io/go-oslo/pkg/constants"
	"github.com/kairos-io/go-oslo/pkg/measure"
	"github.com/kairos-io/go-oslo/pkg/pesign"
	"github.com/kairos-io/go-oslo/pkg/types"
	"github.com/kairos-io/go-oslo/pkg/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var measureCmd = &cobra.Command{
	Use:   "measure MODULE...",
	Short: "Predict the PCR values after a measured launch of the given modules",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("at least one module is required")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}

		_, alg, err := cfg.Algorithm()
		if err != nil {
			return err
		}

		output := viper.GetString("output")
		key := viper.GetString("pcr-key")
		pcr := cfg.PCR
		slog.Info("Starting to measure", "modules", args, "output", output, "pcr-key", key, "pcr", pcr, "hash", cfg.Hash)

		var signer types.RSAKey
		if key != "" {
			s, err := pesign.NewPCRSigner(key)
			if err != nil {
				return err
			}
			signer = s
		}

		modules, err := utils.ReadModules(args)
		if err != nil {
			return err
		}

		measurements, err := measure.GenerateSignedPCR(modules, signer, pcr, alg, slog.Default())
		if err != nil {
			slog.Info("Failed to generate signed PCR")
			return err
		}
		slog.Debug("Generated signed PCR", "measurements", measurements)

		jsonData, err := json.Marshal(measurements)
		if err != nil {
			return err
		}

		if output == "" {
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonData))
			return nil
		}

		err = os.WriteFile(output, jsonData, 0o644)
		if err != nil {
			return err
		}
		slog.Info("Finished measuring", "modules", args, "output", output, "pcr", pcr)
		return nil
	},
}

func init() {
	measureCmd.Flags().StringP("pcr-key", "p", "", "PCR key, a PEM file or a pkcs11: URI.")
	measureCmd.Flags().Int("pcr", constants.DRTMPCR, "TPM PCR to measure against.")
	measureCmd.Flags().String("hash", "sha1", "Hash algorithm the loader measures with.")
	measureCmd.Flags().StringP("output", "o", "", "Output file for measurements in json format.")

	rootCmd.AddCommand(measureCmd)
}
