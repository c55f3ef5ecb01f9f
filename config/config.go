package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Scanner   ScannerConfig
	Portal    PortalConfig
	Engine    EngineConfig
	Store     StoreConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Webhook   WebhookConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxSessions is the page pool capacity. Each running scan owns one page,
	// so this is also the scan concurrency limit.
	MaxSessions int // default: 4

	// DefaultProxy is the proxy URL for all browser traffic.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Stealth injects anti-automation-detection scripts into every page.
	Stealth bool // default: false

	// AcceptLanguage is sent with every browser request.
	AcceptLanguage string // default: "pt-BR,pt;q=0.9"

	// NavigationRate caps page loads per second per session.
	NavigationRate float64 // default: 2

	// NavigationBurst is the token bucket size for NavigationRate.
	NavigationBurst int // default: 1

	// BlockedResourceTypes lists resource types the session never loads.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string
}

// ScannerConfig controls scan behavior.
type ScannerConfig struct {
	// OutputDir receives the rendered PDF artifacts.
	OutputDir string // default: "./arquivos"

	// CategoriesFile is an optional JSON5 file with category rules. When
	// empty, the built-in PERDIMENTO and TRANSITO_EM_JULGADO rules apply.
	CategoriesFile string

	// DefaultTimeout bounds a whole scan unless the request sets one.
	DefaultTimeout time.Duration // default: 300s

	// MaxTimeout is the maximum allowed timeout from the client.
	MaxTimeout time.Duration // default: 1800s

	// NavigationTimeout is the max time for loading one document.
	NavigationTimeout time.Duration // default: 60s

	// WaitTimeout bounds element waits.
	WaitTimeout time.Duration // default: 30s

	// FetchMode is the default text fetch strategy: browser, http or auto.
	FetchMode string // default: "browser"
}

// PortalConfig describes where a case's document listing lives.
type PortalConfig struct {
	// ListingURL is the listing page template; "{case}" is replaced with the
	// query-escaped case ID.
	ListingURL string

	// ListingScope selects the listing element; only the first match is
	// read. Empty reads the whole page.
	ListingScope string // default: "table"

	// LinkSelector selects the document anchors inside the listing scope.
	LinkSelector string // default: "a"

	// ReadySelector must be visible before the listing is read in a browser.
	ReadySelector string // default: "table"
}

// EngineConfig controls the multi-engine racing dispatcher used by the
// "auto" fetch mode.
type EngineConfig struct {
	// EscalationDelays is the staged start delay for each engine tier.
	EscalationDelays []time.Duration // default: [0s, 3s]

	// HTTPTimeout is the deadline for the pure HTTP engine.
	HTTPTimeout time.Duration // default: 15s

	// DomainMemoryTTL is how long a winning engine is remembered per domain.
	DomainMemoryTTL time.Duration // default: 24h
}

// StoreConfig selects the scan history database.
type StoreConfig struct {
	// Driver is "sqlite", "postgres" or "none" (no persistence).
	Driver string // default: "sqlite"

	// DSN is the driver-specific data source name.
	DSN string // default: "casescan.db"
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 1

	// Burst is the maximum burst size per API key.
	Burst int // default: 5
}

// CacheConfig controls the scan response cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached responses.
	MaxEntries int // default: 500
}

// WebhookConfig controls batch completion webhooks.
type WebhookConfig struct {
	Timeout    time.Duration // default: 10s
	RetryCount int           // default: 3
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// DefaultListingURL is the TJDFT first-instance case lookup.
const DefaultListingURL = "https://cache-internet.tjdft.jus.br/cgi-bin/tjcgi1?NXTPGM=tjhtml105&SELECAO=1&ORIGEM=INTER&CIRCUN=1&CDNUPROC={case}"

// Load reads configuration from a .env file (if present) and environment
// variables, with sane defaults. Variables already set in the environment
// win over the .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host: envOr("CASESCAN_HOST", "0.0.0.0"),
			Port: envIntOr("CASESCAN_PORT", 8080),
			Mode: envOr("CASESCAN_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:        envBoolOr("CASESCAN_HEADLESS", true),
			MaxSessions:     envIntOr("CASESCAN_MAX_SESSIONS", 4),
			DefaultProxy:    os.Getenv("CASESCAN_PROXY"),
			NoSandbox:       envBoolOr("CASESCAN_NO_SANDBOX", false),
			BrowserBin:      os.Getenv("CASESCAN_BROWSER_BIN"),
			Stealth:         envBoolOr("CASESCAN_STEALTH", false),
			AcceptLanguage:  envOr("CASESCAN_ACCEPT_LANGUAGE", "pt-BR,pt;q=0.9"),
			NavigationRate:  envFloatOr("CASESCAN_NAV_RPS", 2),
			NavigationBurst: envIntOr("CASESCAN_NAV_BURST", 1),
			BlockedResourceTypes: envSliceOr("CASESCAN_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
		},
		Scanner: ScannerConfig{
			OutputDir:         envOr("CASESCAN_OUTPUT_DIR", "./arquivos"),
			CategoriesFile:    os.Getenv("CASESCAN_CATEGORIES_FILE"),
			DefaultTimeout:    envDurationOr("CASESCAN_DEFAULT_TIMEOUT", 300*time.Second),
			MaxTimeout:        envDurationOr("CASESCAN_MAX_TIMEOUT", 1800*time.Second),
			NavigationTimeout: envDurationOr("CASESCAN_NAV_TIMEOUT", 60*time.Second),
			WaitTimeout:       envDurationOr("CASESCAN_WAIT_TIMEOUT", 30*time.Second),
			FetchMode:         envOr("CASESCAN_FETCH_MODE", "browser"),
		},
		Portal: PortalConfig{
			ListingURL:    envOr("CASESCAN_LISTING_URL", DefaultListingURL),
			ListingScope:  envOr("CASESCAN_LISTING_SCOPE", "table"),
			LinkSelector:  envOr("CASESCAN_LINK_SELECTOR", "a"),
			ReadySelector: envOr("CASESCAN_READY_SELECTOR", "table"),
		},
		Engine: EngineConfig{
			EscalationDelays: envDurationSliceOr("CASESCAN_ESCALATION_DELAYS", []time.Duration{0, 3 * time.Second}),
			HTTPTimeout:      envDurationOr("CASESCAN_HTTP_TIMEOUT", 15*time.Second),
			DomainMemoryTTL:  envDurationOr("CASESCAN_DOMAIN_MEMORY_TTL", 24*time.Hour),
		},
		Store: StoreConfig{
			Driver: envOr("CASESCAN_DB_DRIVER", "sqlite"),
			DSN:    envOr("CASESCAN_DB_DSN", "casescan.db"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("CASESCAN_AUTH_ENABLED", true),
			APIKeys: envSliceOr("CASESCAN_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("CASESCAN_RATE_RPS", 1.0),
			Burst:             envIntOr("CASESCAN_RATE_BURST", 5),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("CASESCAN_CACHE_MAX_ENTRIES", 500),
		},
		Webhook: WebhookConfig{
			Timeout:    envDurationOr("CASESCAN_WEBHOOK_TIMEOUT", 10*time.Second),
			RetryCount: envIntOr("CASESCAN_WEBHOOK_RETRIES", 3),
		},
		Log: LogConfig{
			Level:  envOr("CASESCAN_LOG_LEVEL", "info"),
			Format: envOr("CASESCAN_LOG_FORMAT", "json"),
		},
	}
}

func envDurationSliceOr(key string, fallback []time.Duration) []time.Duration {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]time.Duration, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				if d, err := time.ParseDuration(trimmed); err == nil {
					result = append(result, d)
				}
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
