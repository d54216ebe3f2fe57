// Package config handles configuration loading and validation.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds probe configuration.
type Config struct {
	RPCURL     string
	PrivateKey string // hex-encoded secp256k1 key, with or without 0x prefix
	ChainID    int64  // 0 = discover via eth_chainId

	Iterations    int
	PollInterval  time.Duration
	Timeout       time.Duration // per-iteration receipt deadline
	Delay         time.Duration // pause between iterations
	StopOnFailure bool

	GasLimit      uint64
	GasTipCap     int64   // EIP-1559 priority fee in wei (0 = default)
	GasFeeCap     int64   // EIP-1559 max fee per gas in wei (0 = derive from eth_gasPrice)
	GasMultiplier int64   // fee cap headroom over the provider's gas price
	UseLegacy     bool

	// Optional extras, all off by default.
	WSURL        string // websocket endpoint for newHeads (empty = poll eth_blockNumber)
	MetricsAddr  string // Prometheus listen address (empty = disabled)
	DatabasePath string // SQLite history file (empty = no persistence)
	ReportDir    string // markdown report directory (empty = stdout only)
	ReportName   string // optional name prefix for markdown reports

	LogLevel string // debug, info, warn, error
}

// Defaults
const (
	DefaultIterations    = 10
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultTimeout       = 60 * time.Second
	DefaultDelay         = 0
	DefaultGasLimit      = 21000
	DefaultGasMultiplier = 3
)

// Load reads configuration from a .env file (if present), environment
// variables, and command-line flags. Flags take precedence over environment
// variables. It returns a *Error on invalid input so the caller can exit
// before touching the network.
func Load(args []string) (*Config, error) {
	// Missing .env is fine; a malformed one is not.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, &Error{Field: ".env", Err: err}
	}

	cfg := &Config{
		Iterations:    DefaultIterations,
		PollInterval:  DefaultPollInterval,
		Timeout:       DefaultTimeout,
		Delay:         DefaultDelay,
		GasLimit:      DefaultGasLimit,
		GasMultiplier: DefaultGasMultiplier,
		LogLevel:      "info",
	}

	// Environment first
	if v := os.Getenv("RPC_PROVIDER"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		cfg.PrivateKey = v
	} else if v := os.Getenv("PRIVATE_KEY_1"); v != "" {
		cfg.PrivateKey = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, &Error{Field: "CHAIN_ID", Err: err}
		}
		cfg.ChainID = id
	}
	if v := os.Getenv("WS_PROVIDER"); v != "" {
		cfg.WSURL = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("REPORT_DIR"); v != "" {
		cfg.ReportDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	// Flags override environment
	fs := flag.NewFlagSet("rpcprobe", flag.ContinueOnError)
	var (
		rpcURL        = fs.String("rpc", cfg.RPCURL, "JSON-RPC provider URL")
		iterations    = fs.Int("iterations", cfg.Iterations, "Number of probe transactions to send")
		pollInterval  = fs.Duration("poll-interval", cfg.PollInterval, "Receipt polling interval")
		timeout       = fs.Duration("timeout", cfg.Timeout, "Per-iteration receipt timeout")
		delay         = fs.Duration("delay", cfg.Delay, "Pause between iterations")
		stopOnFailure = fs.Bool("stop-on-failure", false, "Abort the run after the first failed iteration")
		chainID       = fs.Int64("chainid", cfg.ChainID, "Chain ID (0 = fetch via eth_chainId)")
		gasLimit      = fs.Uint64("gaslimit", cfg.GasLimit, "Gas limit for probe transactions")
		gasTipCap     = fs.Int64("gastipcap", cfg.GasTipCap, "EIP-1559 priority fee in wei (0 = default)")
		gasFeeCap     = fs.Int64("gasfeecap", cfg.GasFeeCap, "EIP-1559 max fee per gas in wei (0 = derive from gas price)")
		gasMultiplier = fs.Int64("gas-multiplier", cfg.GasMultiplier, "Fee cap headroom over the provider gas price")
		useLegacy     = fs.Bool("legacy", false, "Send legacy transactions instead of EIP-1559")
		wsURL         = fs.String("ws", cfg.WSURL, "WebSocket endpoint for newHeads (empty = poll)")
		metricsAddr   = fs.String("metrics", cfg.MetricsAddr, "Prometheus listen address (empty = disabled)")
		dbPath        = fs.String("db", cfg.DatabasePath, "SQLite history file (empty = no persistence)")
		reportDir     = fs.String("report-dir", cfg.ReportDir, "Write a markdown report into this directory")
		reportName    = fs.String("report-name", "", "Name prefix for markdown reports")
		logLevel      = fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	)
	if err := fs.Parse(args); err != nil {
		return nil, &Error{Field: "flags", Err: err}
	}

	cfg.RPCURL = *rpcURL
	cfg.Iterations = *iterations
	cfg.PollInterval = *pollInterval
	cfg.Timeout = *timeout
	cfg.Delay = *delay
	cfg.StopOnFailure = *stopOnFailure
	cfg.ChainID = *chainID
	cfg.GasLimit = *gasLimit
	cfg.GasTipCap = *gasTipCap
	cfg.GasFeeCap = *gasFeeCap
	cfg.GasMultiplier = *gasMultiplier
	cfg.UseLegacy = *useLegacy
	cfg.WSURL = *wsURL
	cfg.MetricsAddr = *metricsAddr
	cfg.DatabasePath = *dbPath
	cfg.ReportDir = *reportDir
	cfg.ReportName = *reportName
	cfg.LogLevel = *logLevel

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return &Error{Field: "rpc", Err: fmt.Errorf("RPC provider URL is required (set RPC_PROVIDER or -rpc)")}
	}
	if !strings.HasPrefix(c.RPCURL, "http://") && !strings.HasPrefix(c.RPCURL, "https://") {
		return &Error{Field: "rpc", Err: fmt.Errorf("RPC provider URL must be http(s): %s", c.RPCURL)}
	}
	if c.PrivateKey == "" {
		return &Error{Field: "private-key", Err: fmt.Errorf("private key is required (set PRIVATE_KEY)")}
	}
	if c.Iterations <= 0 {
		return &Error{Field: "iterations", Err: fmt.Errorf("iterations must be positive")}
	}
	if c.PollInterval <= 0 {
		return &Error{Field: "poll-interval", Err: fmt.Errorf("poll interval must be positive")}
	}
	if c.Timeout <= 0 {
		return &Error{Field: "timeout", Err: fmt.Errorf("timeout must be positive")}
	}
	if c.Timeout <= c.PollInterval {
		return &Error{Field: "timeout", Err: fmt.Errorf("timeout must exceed the poll interval")}
	}
	if c.Delay < 0 {
		return &Error{Field: "delay", Err: fmt.Errorf("delay cannot be negative")}
	}
	if c.ChainID < 0 {
		return &Error{Field: "chainid", Err: fmt.Errorf("chain ID cannot be negative")}
	}
	if c.GasLimit == 0 {
		return &Error{Field: "gaslimit", Err: fmt.Errorf("gas limit must be positive")}
	}
	if c.GasTipCap < 0 {
		return &Error{Field: "gastipcap", Err: fmt.Errorf("gas tip cap cannot be negative")}
	}
	if c.GasFeeCap < 0 {
		return &Error{Field: "gasfeecap", Err: fmt.Errorf("gas fee cap cannot be negative")}
	}
	if c.GasMultiplier < 1 {
		return &Error{Field: "gas-multiplier", Err: fmt.Errorf("gas multiplier must be at least 1")}
	}
	return nil
}

// SlogLevel maps the configured level name onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Error marks a configuration problem. Config errors are fatal: nothing is
// sent to the provider when one is returned.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
