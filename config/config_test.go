package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"stakeledger/crypto"
)

var testAccount = func() string {
	var raw [20]byte
	raw[0] = 0x42
	raw[19] = 0x24
	return crypto.AddressFromRaw(raw).String()
}()

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8545", cfg.ListenAddress)
	require.Equal(t, DatabaseLevelDB, cfg.Database)
	require.Equal(t, uint64(2_592_000), cfg.RewardDurationSeconds)
	require.Len(t, cfg.Auth.HMACSecret, 64)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Auth.HMACSecret, reloaded.Auth.HMACSecret)
}

func TestLoadParsesSections(t *testing.T) {
	path := writeConfig(t, fmt.Sprintf(`ListenAddress = "127.0.0.1:9000"
DataDir = "/var/lib/stake"
Database = "MEMORY"
TokenSymbol = "rwd"
RewardDurationSeconds = 86400

[auth]
HMACSecret = "0123456789abcdef0123"
Issuer = "ops"

[rate_limit]
RequestsPerSecond = 5.5
Burst = 11

[logging]
Level = "debug"
File = "/var/log/stake.log"

[[genesis]]
Account = "%s"
Amount = "1000000000000000000000"
`, testAccount))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, DatabaseMemory, cfg.Database)
	require.Equal(t, filepath.Join("/var/lib/stake", "journal.db"), cfg.JournalPath)
	require.Equal(t, "ops", cfg.Auth.Issuer)
	require.Equal(t, 5.5, cfg.RateLimit.RequestsPerSecond)
	require.Equal(t, 11, cfg.RateLimit.Burst)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 24*60*60, int(cfg.RewardDuration().Seconds()))

	allocs, err := cfg.GenesisAllocations()
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	require.Equal(t, testAccount, allocs[0].Account.String())
	require.Equal(t, "1000000000000000000000", allocs[0].Amount.String())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `ListenAddress = ":1"
Bogus = true
[auth]
HMACSecret = "0123456789abcdef0123"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "Bogus")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Auth.HMACSecret = "0123456789abcdef0123"
		return cfg
	}
	require.NoError(t, Validate(valid()))

	cases := map[string]func(*Config){
		"short secret":    func(c *Config) { c.Auth.HMACSecret = "short" },
		"backend":         func(c *Config) { c.Database = "postgres" },
		"duration":        func(c *Config) { c.RewardDurationSeconds = 0 },
		"negative burst":  func(c *Config) { c.RateLimit.Burst = -1 },
		"module address":  func(c *Config) { c.ModuleAddress = "nope" },
		"sample ratio":    func(c *Config) { c.Telemetry.SampleRatio = 1.5 },
		"genesis account": func(c *Config) { c.Genesis = []Allocation{{Account: "bad", Amount: "1"}} },
		"genesis amount":  func(c *Config) { c.Genesis = []Allocation{{Account: testAccount, Amount: "-3"}} },
		"genesis duplicate": func(c *Config) {
			c.Genesis = []Allocation{{Account: testAccount, Amount: "1"}, {Account: testAccount, Amount: "2"}}
		},
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(cfg)
		require.Error(t, Validate(cfg), name)
	}
}
