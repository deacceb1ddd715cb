// Package commands implements the meshdfuctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient is the HTTP client used for every admin API request.
	httpClient = &http.Client{Timeout: 5 * time.Second}

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's admin API address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for meshdfuctl.
var rootCmd = &cobra.Command{
	Use:   "meshdfuctl",
	Short: "CLI client for the meshdfu daemon's admin API",
	Long:  "meshdfuctl communicates with the meshdfud daemon's JSON/HTTP admin API to inspect device identity and transaction state, and to trigger rescan/abort recovery.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8090",
		"meshdfud admin API address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(deviceCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(rescanCmd())
	rootCmd.AddCommand(abortCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
