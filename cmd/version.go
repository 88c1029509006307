package cmd

import (
	"fmt"
	"runtime"

	"github.com/kairos-io/go-oslo/pkg/constants"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	RunE: func(cmd *cobra.Command, args []string) error {
		long, _ := cmd.Flags().GetBool("long")
		if long {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s %s\n", constants.Banner(), runtime.GOOS, runtime.GOARCH, runtime.Version())
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), constants.Version)
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolP("long", "l", false, "long version format")
	rootCmd.AddCommand(versionCmd)
}
