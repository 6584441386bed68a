package config

// Auth configures JWT verification for mutating RPC calls. The token subject
// carries the caller's account address.
type Auth struct {
	HMACSecret string `toml:"HMACSecret"`
	Issuer     string `toml:"Issuer"`
	Audience   string `toml:"Audience,omitempty"`
}

// RateLimit bounds the request rate per client.
type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Logging controls the structured logger.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures OTLP trace and metric export. Nothing is exported
// unless Traces or Metrics is enabled.
type Telemetry struct {
	Endpoint string `toml:"Endpoint,omitempty"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers,omitempty"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
	// SampleRatio keeps this fraction of root spans; 0 keeps all of them.
	SampleRatio float64 `toml:"SampleRatio"`
}

// Allocation credits an account with tokens when the ledger starts empty.
// Amount is in base units.
type Allocation struct {
	Account string `toml:"Account"`
	Amount  string `toml:"Amount"`
}
