package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/use-agent/casescan/app"
	"github.com/use-agent/casescan/config"
	"github.com/use-agent/casescan/models"
)

type scanFlags struct {
	links      []string
	outputDir  string
	categories string
	fetchMode  string
	timeout    int
}

var scanOpts scanFlags

func init() {
	f := scanCmd.Flags()
	f.StringArrayVar(&scanOpts.links, "link", nil, "Candidate document URL, in scan order. Repeat for more; skips the case listing.")
	f.StringVar(&scanOpts.outputDir, "out", "", "Directory for the rendered PDFs.")
	f.StringVar(&scanOpts.categories, "categories", "", "JSON5 file with the category rules.")
	f.StringVar(&scanOpts.fetchMode, "fetch-mode", "", "How page text is read: browser, http or auto.")
	f.IntVar(&scanOpts.timeout, "timeout", 0, "Scan timeout in seconds.")
	rootCmd.AddCommand(scanCmd)
}

// buildRequest applies the flags to cfg and returns the scan request.
func buildRequest(cfg *config.Config, caseID string, opts scanFlags) *models.ScanRequest {
	if opts.categories != "" {
		cfg.Scanner.CategoriesFile = opts.categories
	}
	if opts.outputDir != "" {
		cfg.Scanner.OutputDir = opts.outputDir
	}
	if opts.fetchMode != "" {
		cfg.Scanner.FetchMode = opts.fetchMode
	}
	return &models.ScanRequest{
		CaseID:    caseID,
		Links:     opts.links,
		FetchMode: opts.fetchMode,
		Timeout:   opts.timeout,
	}
}

var scanCmd = &cobra.Command{
	Use:   "scan <case> [--link URL]... [--out DIR] [--categories FILE] [--fetch-mode MODE]",
	Short: "Scans one case and writes the first matching document of each category.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := buildRequest(cfg, args[0], scanOpts)

		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("initialise scan services: %w", err)
		}
		defer a.Close()

		resp, scanErr := a.Runner.Run(cmd.Context(), req)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
		if scanErr != nil {
			return scanErr
		}
		if !resp.Complete {
			fmt.Fprintf(os.Stderr, "missing: %v\n", resp.Missing)
		}
		return nil
	},
}
