// Package config loads environment-driven settings for the trading engine,
// following the same Load()-from-env-with-defaults shape the rest of this
// codebase's teacher lineage uses.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"topstepx-engine/internal/result"
)

// Config holds credentials and runtime toggles for the engine.
type Config struct {
	Port string

	// Broker credentials (TopstepX / ProjectX gateway)
	BrokerUsername string
	BrokerAPIKey   string
	BrokerBaseURL  string
	BrokerWSURL    string

	AuthMode          string // "api_key" (default) or "app_credentials"
	ValidateToken     bool
	RefreshMargin     time.Duration
	PaperTrading      bool

	// CORS
	AllowedOrigins []string

	// Account sizing defaults
	DefaultSize string // 50k/100k/150k

	// Optional ML inference worker
	MLWorkerAddr string

	// Persistence
	DBPath string

	// Timezone anchor for all session/trading-hours math
	SessionLocation string // default "America/Chicago"
}

const placeholderMarker = "changeme"

// Load reads environment variables (optionally via .env) into Config.
// Only structural settings (a non-empty base URL) are fatal here.
// Broker credentials are deliberately not validated at load time: a
// missing or placeholder TOPSTEPX_API_KEY/USERNAME still lets the
// process bind, so the HTTP surface stays reachable and the first
// broker-facing call (via rest.Client.Login) surfaces the real runtime
// AUTH_FAILED/401 instead of the process refusing to start at all.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		BrokerUsername:  os.Getenv("TOPSTEPX_USERNAME"),
		BrokerAPIKey:    os.Getenv("TOPSTEPX_API_KEY"),
		BrokerBaseURL:   getEnv("TOPSTEPX_BASE_URL", "https://api.topstepx.com"),
		BrokerWSURL:     getEnv("TOPSTEPX_WS_URL", "wss://rtc.topstepx.com"),
		AuthMode:        getEnv("TOPSTEPX_AUTH_MODE", "api_key"),
		ValidateToken:   getEnv("TOPSTEPX_VALIDATE_TOKEN", "true") == "true",
		RefreshMargin:   getEnvDuration("TOPSTEPX_REFRESH_MARGIN", 60*time.Second),
		PaperTrading:    getEnv("PAPER_TRADING", "false") == "true",
		AllowedOrigins:  splitAndTrim(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		DefaultSize:     getEnv("DEFAULT_ACCOUNT_SIZE", "50k"),
		MLWorkerAddr:    os.Getenv("ML_WORKER_ADDR"),
		DBPath:          getEnv("DB_PATH", "./data/engine.db"),
		SessionLocation: getEnv("SESSION_LOCATION", "America/Chicago"),
	}

	if v, set := os.LookupEnv("TOPSTEPX_BASE_URL"); cfg.BrokerBaseURL == "" || (set && strings.TrimSpace(v) == "") {
		return nil, result.Err(result.KindBadRequest, "missing required setting: TOPSTEPX_BASE_URL")
	}
	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		log.Printf("config: %s not set or placeholder; broker calls will fail AUTH_FAILED until configured", strings.Join(missing, ", "))
	}
	return cfg, nil
}

// MissingCredentials reports which broker credential settings are absent
// or still carry a placeholder value. Exported so callers other than
// Load (tests, ops tooling) can surface the same check without
// duplicating isPlaceholder's rules.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if c.BrokerUsername == "" || isPlaceholder(c.BrokerUsername) {
		missing = append(missing, "TOPSTEPX_USERNAME")
	}
	if c.BrokerAPIKey == "" || isPlaceholder(c.BrokerAPIKey) {
		missing = append(missing, "TOPSTEPX_API_KEY")
	}
	return missing
}

// Redacted returns a copy safe to log: credentials are masked.
func (c Config) Redacted() Config {
	c.BrokerAPIKey = mask(c.BrokerAPIKey)
	c.BrokerUsername = mask(c.BrokerUsername)
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func isPlaceholder(v string) bool {
	lower := strings.ToLower(v)
	return lower == placeholderMarker || lower == "your-api-key" || lower == "todo" || lower == "xxx"
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
