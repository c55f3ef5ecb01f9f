package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/use-agent/casescan/scanner"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no stray .env

	cfg := Load()
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 4, cfg.Browser.MaxSessions)
	require.Equal(t, "./arquivos", cfg.Scanner.OutputDir)
	require.Equal(t, "browser", cfg.Scanner.FetchMode)
	require.Equal(t, DefaultListingURL, cfg.Portal.ListingURL)
	require.Equal(t, "table", cfg.Portal.ListingScope)
	require.Equal(t, "a", cfg.Portal.LinkSelector)
	require.Equal(t, "table", cfg.Portal.ReadySelector)
	require.Equal(t, []time.Duration{0, 3 * time.Second}, cfg.Engine.EscalationDelays)
	require.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CASESCAN_PORT", "9090")
	t.Setenv("CASESCAN_HEADLESS", "false")
	t.Setenv("CASESCAN_API_KEYS", "a, b,,c")
	t.Setenv("CASESCAN_NAV_TIMEOUT", "5s")
	t.Setenv("CASESCAN_ESCALATION_DELAYS", "0s,1s,bogus")
	t.Setenv("CASESCAN_MAX_SESSIONS", "not-a-number")

	cfg := Load()
	require.Equal(t, 9090, cfg.Server.Port)
	require.False(t, cfg.Browser.Headless)
	require.Equal(t, []string{"a", "b", "c"}, cfg.Auth.APIKeys)
	require.Equal(t, 5*time.Second, cfg.Scanner.NavigationTimeout)
	require.Equal(t, []time.Duration{0, time.Second}, cfg.Engine.EscalationDelays)
	require.Equal(t, 4, cfg.Browser.MaxSessions)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CASESCAN_OUTPUT_DIR=/srv/pdf\n"), 0o644))

	// t.Setenv restores the variable afterwards; godotenv only fills unset keys.
	t.Setenv("CASESCAN_OUTPUT_DIR", "")
	require.NoError(t, os.Unsetenv("CASESCAN_OUTPUT_DIR"))

	cfg := Load()
	require.Equal(t, "/srv/pdf", cfg.Scanner.OutputDir)
}

func TestLoadCategories_Default(t *testing.T) {
	cats, err := LoadCategories("")
	require.NoError(t, err)
	require.Equal(t, scanner.DefaultCategories(), cats)
}

func TestLoadCategories_JSON5WithLocalOverride(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "categories.json5")
	require.NoError(t, os.WriteFile(main, []byte(`{
		// shipped rules
		categories: [
			{ name: "PERDIMENTO", slug: "perdimento", keyword: "PERDIMENTO" },
		],
	}`), 0o644))

	cats, err := LoadCategories(main)
	require.NoError(t, err)
	require.Equal(t, []scanner.Category{scanner.Perdimento}, cats)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "categories.local.json5"), []byte(`{
		categories: [
			{ name: "SENTENCA", slug: "sentenca", keyword: "SENTENÇA" },
			{ name: "PERDIMENTO", slug: "perdimento", keyword: "PERDIMENTO" },
		],
	}`), 0o644))

	cats, err = LoadCategories(main)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	require.Equal(t, "SENTENCA", cats[0].Name)
}

func TestLoadCategories_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "categories.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{categories: []}`), 0o644))

	_, err := LoadCategories(path)
	require.Error(t, err)

	_, err = LoadCategories(filepath.Join(dir, "missing.json5"))
	require.Error(t, err)
}

func TestLocalVariant(t *testing.T) {
	require.Equal(t, filepath.Join("conf", "categories.local.json5"), localVariant(filepath.Join("conf", "categories.json5")))
}
