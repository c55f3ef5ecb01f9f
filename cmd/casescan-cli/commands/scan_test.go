package commands

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/use-agent/casescan/config"
)

func TestBuildRequest(t *testing.T) {
	cfg := &config.Config{Scanner: config.ScannerConfig{OutputDir: "./arquivos", FetchMode: "browser"}}

	req := buildRequest(cfg, "0701", scanFlags{
		links:      []string{"https://tj.example/1", "https://tj.example/2"},
		outputDir:  "/tmp/out",
		categories: "rules.json5",
		fetchMode:  "http",
		timeout:    90,
	})

	require.Equal(t, "0701", req.CaseID)
	require.Equal(t, []string{"https://tj.example/1", "https://tj.example/2"}, req.Links)
	require.Equal(t, "http", req.FetchMode)
	require.Equal(t, 90, req.Timeout)
	require.Equal(t, "/tmp/out", cfg.Scanner.OutputDir)
	require.Equal(t, "rules.json5", cfg.Scanner.CategoriesFile)
}

func TestBuildRequest_KeepsConfigDefaults(t *testing.T) {
	cfg := &config.Config{Scanner: config.ScannerConfig{OutputDir: "./arquivos", FetchMode: "auto"}}

	req := buildRequest(cfg, "0701", scanFlags{})
	require.Empty(t, req.FetchMode)
	require.Empty(t, req.Links)
	require.Equal(t, "./arquivos", cfg.Scanner.OutputDir)
	require.Equal(t, "auto", cfg.Scanner.FetchMode)
}

func TestScanCmd_RequiresCase(t *testing.T) {
	require.Error(t, scanCmd.Args(scanCmd, nil))
	require.NoError(t, scanCmd.Args(scanCmd, []string{"0701"}))
}
