package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func rescanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rescan",
		Short: "Force the coordinator back to FIND_FWID",
		Long:  "Abandons any in-flight transaction and returns the coordinator to FIND_FWID without restarting the daemon.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := postRescan(cmd.Context()); err != nil {
				return fmt.Errorf("rescan: %w", err)
			}
			fmt.Println("Rescan requested.")
			return nil
		},
	}
}
