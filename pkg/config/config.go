package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Venue modes.
const (
	VenueModePaper = "paper"
	VenueModeREST  = "rest"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Venue
	VenueMode     string // "paper" (default) or "rest"
	VenueURL      string
	VenueTimeout  time.Duration
	VenueAccounts []string
	MaxSessions   int
	// PaperMark is the starting price of every contract the paper venue lists.
	PaperMark float64

	// Client IDs
	ClientIDOffset    int
	ClientIDRequested int // 0 means allocate automatically

	// Pacing for historical data requests
	PacingCalls  int
	PacingWindow time.Duration

	// Instruments
	InstrumentsPath string

	// Fill polling
	FillPollInterval time.Duration

	// Operator API
	JWTSecret          string
	PrintOperatorToken bool

	LogLevel string
	LogFile  string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	accounts := splitAndTrim(getEnv("VENUE_ACCOUNTS", ""))
	if len(accounts) == 0 {
		accounts = []string{getEnv("VENUE_ACCOUNT", "DU000000")}
	}

	return &Config{
		Port:               getEnv("PORT", "8080"),
		DBPath:             getEnv("DB_PATH", "./data/execution.db"),
		VenueMode:          strings.ToLower(getEnv("VENUE_MODE", VenueModePaper)),
		VenueURL:           getEnv("VENUE_URL", "http://127.0.0.1:5000"),
		VenueTimeout:       getEnvDuration("VENUE_TIMEOUT", 10*time.Second),
		VenueAccounts:      accounts,
		MaxSessions:        getEnvInt("MAX_SESSIONS", 8),
		PaperMark:          getEnvFloat("PAPER_MARK", 100),
		ClientIDOffset:     getEnvInt("CLIENT_ID_OFFSET", 100),
		ClientIDRequested:  getEnvInt("CLIENT_ID_REQUESTED", 0),
		PacingCalls:        getEnvInt("PACING_CALLS", 1),
		PacingWindow:       getEnvDuration("PACING_WINDOW", 10*time.Second),
		InstrumentsPath:    getEnv("INSTRUMENTS_PATH", "./config/instruments.yaml"),
		FillPollInterval:   getEnvDuration("FILL_POLL_INTERVAL", 5*time.Second),
		JWTSecret:          getEnv("OPERATOR_JWT_SECRET", "dev-secret"),
		PrintOperatorToken: getEnv("PRINT_OPERATOR_TOKEN", "false") == "true",
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFile:            getEnv("LOG_FILE", ""),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("1500ms") or plain seconds ("10").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return def
}
