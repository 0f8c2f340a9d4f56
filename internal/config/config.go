// Package config loads node settings from defaults, an optional YAML file and
// REGISTRY_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DevMnemonic seeds the default dev accounts. It is public; never fund it
// anywhere real.
const DevMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

const journalFile = "journal.log"

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Journal   JournalConfig   `yaml:"journal"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

type LedgerConfig struct {
	Mnemonic       string `yaml:"mnemonic"`
	Accounts       int    `yaml:"accounts"`
	GenesisBalance uint64 `yaml:"genesisBalance"`
	MaxCallDepth   int    `yaml:"maxCallDepth"`
}

// JournalConfig controls the commit log. An empty DataDir keeps the ledger in
// memory only.
type JournalConfig struct {
	DataDir        string        `yaml:"dataDir"`
	FlushInterval  time.Duration `yaml:"flushInterval"`
	EnqueueTimeout time.Duration `yaml:"enqueueTimeout"`
	BufferBytes    int           `yaml:"bufferBytes"`
	SyncOnAppend   bool          `yaml:"syncOnAppend"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig bounds requests per caller. RPS <= 0 disables limiting.
type RateLimitConfig struct {
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
	IdleTTL time.Duration `yaml:"idleTTL"`
}

func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Ledger: LedgerConfig{
			Mnemonic:       DevMnemonic,
			Accounts:       5,
			GenesisBalance: 1_000_000_000,
			MaxCallDepth:   32,
		},
		Journal: JournalConfig{
			DataDir:        "data",
			FlushInterval:  time.Second,
			EnqueueTimeout: 5 * time.Second,
			BufferBytes:    4 * 1024 * 1024,
			SyncOnAppend:   true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimit: RateLimitConfig{
			RPS:     50,
			Burst:   100,
			IdleTTL: 10 * time.Minute,
		},
	}
}

// JournalPath is the commit log file inside DataDir, or "" when journaling is
// off.
func (c Config) JournalPath() string {
	if c.Journal.DataDir == "" {
		return ""
	}
	return filepath.Join(c.Journal.DataDir, journalFile)
}

// LoadFromPath builds the effective config. With an explicit path the file
// must exist and parse; without one the usual locations are tried and a
// missing file is not an error.
func LoadFromPath(configPath string) (Config, error) {
	cfg := DefaultConfig()

	candidates := []string{"registry.yaml", "configs/registry.yaml"}
	if configPath != "" {
		candidates = []string{configPath}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if configPath != "" {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
			continue
		}
		// Fields absent from the file keep their defaults.
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		break
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ApplyEnvOverrides(cfg *Config) error {
	if v := envString("REGISTRY_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v, ok := os.LookupEnv("REGISTRY_DATA_DIR"); ok {
		cfg.Journal.DataDir = strings.TrimSpace(v)
	}
	if v := envString("REGISTRY_MNEMONIC"); v != "" {
		cfg.Ledger.Mnemonic = v
	}
	if v := envString("REGISTRY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := envString("REGISTRY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	var errs []error
	parse := func(key string, apply func(string) error) {
		raw := envString(key)
		if raw == "" {
			return
		}
		if err := apply(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", key, raw, err))
		}
	}
	parse("REGISTRY_ACCOUNTS", func(raw string) (err error) {
		cfg.Ledger.Accounts, err = strconv.Atoi(raw)
		return err
	})
	parse("REGISTRY_GENESIS_BALANCE", func(raw string) (err error) {
		cfg.Ledger.GenesisBalance, err = strconv.ParseUint(raw, 10, 64)
		return err
	})
	parse("REGISTRY_JOURNAL_SYNC", func(raw string) (err error) {
		cfg.Journal.SyncOnAppend, err = strconv.ParseBool(raw)
		return err
	})
	parse("REGISTRY_JOURNAL_FLUSH_INTERVAL", func(raw string) (err error) {
		cfg.Journal.FlushInterval, err = time.ParseDuration(raw)
		return err
	})
	parse("REGISTRY_RATE_LIMIT_RPS", func(raw string) (err error) {
		cfg.RateLimit.RPS, err = strconv.ParseFloat(raw, 64)
		return err
	})
	parse("REGISTRY_RATE_LIMIT_BURST", func(raw string) (err error) {
		cfg.RateLimit.Burst, err = strconv.Atoi(raw)
		return err
	})
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Ledger.Accounts <= 0 {
		errs = append(errs, fmt.Errorf("ledger.accounts must be positive, got %d", c.Ledger.Accounts))
	}
	if strings.TrimSpace(c.Ledger.Mnemonic) == "" {
		errs = append(errs, errors.New("ledger.mnemonic is required"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rateLimit.burst must be positive when rps is set"))
	}
	return errors.Join(errs...)
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
