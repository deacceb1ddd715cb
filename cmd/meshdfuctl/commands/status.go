package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running transaction's coordinator state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := getTransaction(cmd.Context())
			if err != nil {
				return fmt.Errorf("get transaction: %w", err)
			}

			out, err := formatTransaction(t, outputFormat)
			if err != nil {
				return fmt.Errorf("format transaction: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
