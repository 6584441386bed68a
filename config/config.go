package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DatabaseLevelDB = "leveldb"
	DatabaseMemory  = "memory"

	defaultRewardDurationSeconds = 30 * 24 * 60 * 60
)

type Config struct {
	ListenAddress         string       `toml:"ListenAddress"`
	DataDir               string       `toml:"DataDir"`
	Database              string       `toml:"Database"`
	JournalPath           string       `toml:"JournalPath"`
	Environment           string       `toml:"Environment"`
	TokenSymbol           string       `toml:"TokenSymbol"`
	RewardDurationSeconds uint64       `toml:"RewardDurationSeconds"`
	ModuleAddress         string       `toml:"ModuleAddress,omitempty"`
	Auth                  Auth         `toml:"auth"`
	RateLimit             RateLimit    `toml:"rate_limit"`
	Logging               Logging      `toml:"logging"`
	Telemetry             Telemetry    `toml:"telemetry"`
	Genesis               []Allocation `toml:"genesis"`
}

// Load loads the configuration from the given path, writing a default file
// first when none exists. The result is validated.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %q", path, undecoded[0].String())
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a configuration with every field populated except the auth
// secret.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// RewardDuration returns the deposit divisor as a duration.
func (c *Config) RewardDuration() time.Duration {
	return time.Duration(c.RewardDurationSeconds) * time.Second
}

// SnapshotPath is where the LevelDB snapshot store lives.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "snapshots")
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./stake-data"
	}
	if strings.TrimSpace(cfg.Database) == "" {
		cfg.Database = DatabaseLevelDB
	}
	cfg.Database = strings.ToLower(strings.TrimSpace(cfg.Database))
	if strings.TrimSpace(cfg.JournalPath) == "" {
		cfg.JournalPath = filepath.Join(cfg.DataDir, "journal.db")
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if strings.TrimSpace(cfg.TokenSymbol) == "" {
		cfg.TokenSymbol = "STK"
	}
	if cfg.RewardDurationSeconds == 0 {
		cfg.RewardDurationSeconds = defaultRewardDurationSeconds
	}
	if strings.TrimSpace(cfg.Auth.Issuer) == "" {
		cfg.Auth.Issuer = "stakeledger"
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 20
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 40
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Genesis == nil {
		cfg.Genesis = []Allocation{}
	}
}

// createDefault creates and saves a default configuration file with a freshly
// generated auth secret.
func createDefault(path string) (*Config, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate auth secret: %w", err)
	}
	cfg := Default()
	cfg.Auth.HMACSecret = hex.EncodeToString(secret)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
