// Package cmd provides the command-line interface for mesisim.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mesisim",
	Short: "mesisim simulates private L1 caches kept coherent by MESI.",
	Long: `mesisim simulates a multi-core system whose private L1 caches ` +
		`are kept coherent by the MESI protocol over a snooping bus with ` +
		`round-robin arbitration.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Exit handlers registered by the commands run before the
// process exits.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
