package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errReasonRequired indicates `abort` was invoked without --reason.
var errReasonRequired = errors.New("--reason flag is required")

// abortReasons lists the AbortReason strings the admin API accepts,
// mirroring dfu.AbortReason.String().
var abortReasons = []string{
	"SUCCESS", "FWID_VALID", "UNAUTHORIZED", "NO_START", "NO_MEM",
	"INVALID_PERSISTENT_STORAGE",
}

func abortCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "abort",
		Short: "Force the coordinator's Run loop to terminate",
		Long:  "Terminates the running coordinator with an operator-chosen AbortReason. One of: " + joinReasons(),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if reason == "" {
				return errReasonRequired
			}
			if err := postAbort(cmd.Context(), reason); err != nil {
				return fmt.Errorf("abort: %w", err)
			}
			fmt.Printf("Abort requested (reason=%s).\n", reason)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "abort reason: "+joinReasons()+" (required)")
	return cmd
}

func joinReasons() string {
	out := ""
	for i, r := range abortReasons {
		if i > 0 {
			out += ", "
		}
		out += r
	}
	return out
}
