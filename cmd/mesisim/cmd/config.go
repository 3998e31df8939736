package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/mesisim/system"
)

var configCmd = &cobra.Command{
	Use:   "config [path]",
	Short: "Write the default system configuration as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := system.DefaultConfig().SaveConfig(args[0]); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n",
			args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
