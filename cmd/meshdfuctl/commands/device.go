package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func deviceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "device",
		Short: "Show the device's installed firmware identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := getDevice(cmd.Context())
			if err != nil {
				return fmt.Errorf("get device: %w", err)
			}

			out, err := formatDevice(d, outputFormat)
			if err != nil {
				return fmt.Errorf("format device: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
