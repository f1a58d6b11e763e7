package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Signer modes select the transaction signing capability at startup.
const (
	SignerModePaymaster = "paymaster"
	SignerModeKeypair   = "keypair"
	SignerModeStub      = "stub"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	PublicURL  string // externally reachable base URL, used for portal callbacks
	LogLevel   string

	// Solana configuration
	SolanaNetwork   string   // "devnet" or "mainnet"
	SolanaRPCURLs   []string // one is picked at random per client
	USDCMintAddress string

	// Portal and signing
	PortalURL    string
	PaymasterURL string
	SignerMode   string
	KeypairPath  string
	OpenBrowser  bool

	// Connect timing
	ConnectTimeout     time.Duration
	WindowPollInterval time.Duration
	HeartbeatTimeout   time.Duration

	// Confirmation timing
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration

	// Swap configuration
	JupiterAPIURL      string
	DefaultSlippageBps int

	// Optional infrastructure; empty disables the integration
	DatabaseURL       string // transfer records survive restarts when set
	NATSURL           string
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string
	MetricsAddr       string
}

// Load reads configuration from environment variables and validates all fields.
// Returns an error listing every problem found.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.PublicURL = strings.TrimRight(getEnvOrDefault("PUBLIC_URL", "http://localhost:8080"), "/")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.SolanaNetwork = getEnvOrDefault("SOLANA_NETWORK", "devnet")
	cfg.SolanaRPCURLs = parseList(getEnvOrDefault("SOLANA_RPC_URLS", defaultRPCURL(cfg.SolanaNetwork)))
	cfg.USDCMintAddress = getEnvOrDefault("USDC_MINT_ADDRESS", defaultUSDCMint(cfg.SolanaNetwork))

	cfg.PortalURL = getEnvOrDefault("PORTAL_URL", "https://portal.lazor.sh")
	cfg.PaymasterURL = getEnvOrDefault("PAYMASTER_URL", "https://kora.devnet.lazorkit.com")
	cfg.SignerMode = getEnvOrDefault("SIGNER_MODE", SignerModePaymaster)
	cfg.KeypairPath = os.Getenv("KEYPAIR_PATH")

	openBrowser, err := parseBool("OPEN_BROWSER", true)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.OpenBrowser = openBrowser

	durations := []struct {
		key   string
		def   string
		field *time.Duration
	}{
		{"CONNECT_TIMEOUT", "5m", &cfg.ConnectTimeout},
		{"WINDOW_POLL_INTERVAL", "500ms", &cfg.WindowPollInterval},
		{"HEARTBEAT_TIMEOUT", "15s", &cfg.HeartbeatTimeout},
		{"CONFIRM_TIMEOUT", "60s", &cfg.ConfirmTimeout},
		{"CONFIRM_POLL_INTERVAL", "2s", &cfg.ConfirmPollInterval},
	}
	for _, d := range durations {
		v, err := parseDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.field = v
	}

	cfg.JupiterAPIURL = strings.TrimRight(getEnvOrDefault("JUPITER_API_URL", "https://quote-api.jup.ag/v6"), "/")
	slippage, err := parseInt("DEFAULT_SLIPPAGE_BPS", 50)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.DefaultSlippageBps = slippage

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.TemporalHost = os.Getenv("TEMPORAL_HOST")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "lazorpass-confirmations")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.SolanaNetwork != "devnet" && c.SolanaNetwork != "mainnet" {
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK must be devnet or mainnet, got %q", c.SolanaNetwork))
	}
	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URLS is required"))
	}
	if c.USDCMintAddress == "" {
		errs = append(errs, fmt.Errorf("USDC_MINT_ADDRESS is required"))
	}

	if err := validateURL("PORTAL_URL", c.PortalURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("PUBLIC_URL", c.PublicURL); err != nil {
		errs = append(errs, err)
	}

	switch c.SignerMode {
	case SignerModePaymaster:
		if err := validateURL("PAYMASTER_URL", c.PaymasterURL); err != nil {
			errs = append(errs, err)
		}
	case SignerModeKeypair:
		if c.KeypairPath == "" {
			errs = append(errs, fmt.Errorf("KEYPAIR_PATH is required when SIGNER_MODE=keypair"))
		}
	case SignerModeStub:
	default:
		errs = append(errs, fmt.Errorf("SIGNER_MODE must be one of paymaster, keypair, stub, got %q", c.SignerMode))
	}

	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CONNECT_TIMEOUT must be positive"))
	}
	if c.WindowPollInterval <= 0 || c.WindowPollInterval >= c.ConnectTimeout {
		errs = append(errs, fmt.Errorf("WINDOW_POLL_INTERVAL must be positive and shorter than CONNECT_TIMEOUT"))
	}
	if c.HeartbeatTimeout < c.WindowPollInterval {
		errs = append(errs, fmt.Errorf("HEARTBEAT_TIMEOUT (%v) cannot be shorter than WINDOW_POLL_INTERVAL (%v)",
			c.HeartbeatTimeout, c.WindowPollInterval))
	}
	if c.ConfirmTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CONFIRM_TIMEOUT must be positive"))
	}
	if c.ConfirmPollInterval <= 0 || c.ConfirmPollInterval > c.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("CONFIRM_POLL_INTERVAL (%v) must be positive and no greater than CONFIRM_TIMEOUT (%v)",
			c.ConfirmPollInterval, c.ConfirmTimeout))
	}

	if c.DefaultSlippageBps < 0 || c.DefaultSlippageBps > 10000 {
		errs = append(errs, fmt.Errorf("DEFAULT_SLIPPAGE_BPS must be between 0 and 10000"))
	}

	// Workflow outcomes reach the server only through NATS.
	if c.TemporalHost != "" && c.NATSURL == "" {
		errs = append(errs, fmt.Errorf("NATS_URL is required when TEMPORAL_HOST is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// PortalOrigin returns the scheme://host origin of the portal URL.
func (c *Config) PortalOrigin() string {
	u, err := url.Parse(c.PortalURL)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// TemporalEnabled reports whether confirmations should be tracked by Temporal.
func (c *Config) TemporalEnabled() bool {
	return c.TemporalHost != ""
}

// NewLogger returns a JSON logger writing to w at the configured level.
// Unknown levels fall back to info.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func defaultRPCURL(network string) string {
	if network == "mainnet" {
		return "https://api.mainnet-beta.solana.com"
	}
	return "https://api.devnet.solana.com"
}

func defaultUSDCMint(network string) string {
	if network == "mainnet" {
		return "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	}
	return "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, raw)
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma-separated list, dropping empty entries.
func parseList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
