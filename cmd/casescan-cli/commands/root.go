package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/use-agent/casescan/app"
	"github.com/use-agent/casescan/config"
)

var (
	logLevel string

	// cfg is loaded once before any command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "casescan-cli",
	Short: "casescan-cli scans court cases for tracked documents and saves them as PDFs.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		app.InitLogger(cfg.Log, os.Stderr)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error).")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
