// Package config resolves runtime settings for the credential-chain tooling.
//
// Values come from environment variables, fall back to defaults, and can be
// overridden in code with functional options.
package config

import (
	"os"
	"strconv"
	"time"
)

// Default values
const (
	DefaultRPC         = "http://127.0.0.1:8545"
	DefaultChainID     = int64(11155111)
	DefaultProverURL   = "http://localhost:5010"
	DefaultIPFSGateway = "https://gateway.pinata.cloud/ipfs/"
	DefaultPinataURL   = "https://api.pinata.cloud/pinning/pinJSONToIPFS"
	DefaultListenAddr  = ":5000"
	DefaultLogLevel    = "info"
	DefaultHTTPTimeout = 10 * time.Second
)

// Environment variable names
const (
	EnvRPC         = "CHAINVC_RPC_URL"
	EnvChainID     = "CHAINVC_CHAIN_ID"
	EnvProverURL   = "CHAINVC_PROVER_URL"
	EnvIPFSGateway = "CHAINVC_IPFS_GATEWAY"
	EnvPinataURL   = "CHAINVC_PINATA_URL"
	EnvPinataJWT   = "CHAINVC_PINATA_JWT"
	EnvListenAddr  = "CHAINVC_LISTEN_ADDR"
	EnvLogLevel    = "CHAINVC_LOG_LEVEL"
	EnvHTTPTimeout = "CHAINVC_HTTP_TIMEOUT"
	EnvLocalProver = "CHAINVC_LOCAL_PROVER"
)

// Config holds the settings shared by the server and the library clients.
type Config struct {
	// RPC is the JSON-RPC endpoint used for escrow reads and event queries.
	RPC string
	// ChainID is used when a DID does not carry its own chain id.
	ChainID int64
	// ProverURL is the base URL of the commitment prover service.
	ProverURL string
	// IPFSGateway is the gateway prefix used to fetch stored credentials.
	IPFSGateway string
	// PinataURL is the pinning endpoint used to store credentials.
	PinataURL string
	// PinataJWT authorizes pinning requests. Storing is disabled when empty.
	PinataJWT string
	// ListenAddr is the address the verification server binds to.
	ListenAddr string
	// LogLevel is one of trace, debug, info, warn, error, crit.
	LogLevel string
	// HTTPTimeout bounds every outbound HTTP call.
	HTTPTimeout time.Duration
	// LocalProver serves commitments from the in-process prover instead of ProverURL.
	LocalProver bool
}

// Option is a functional option for Load.
type Option func(*Config)

// WithRPC sets the JSON-RPC endpoint.
func WithRPC(rpc string) Option {
	return func(c *Config) { c.RPC = rpc }
}

// WithChainID sets the default chain id.
func WithChainID(chainID int64) Option {
	return func(c *Config) { c.ChainID = chainID }
}

// WithProverURL sets the prover base URL.
func WithProverURL(u string) Option {
	return func(c *Config) { c.ProverURL = u }
}

// WithIPFSGateway sets the gateway prefix.
func WithIPFSGateway(u string) Option {
	return func(c *Config) { c.IPFSGateway = u }
}

// WithPinata sets the pinning endpoint and its token.
func WithPinata(u, jwt string) Option {
	return func(c *Config) {
		c.PinataURL = u
		c.PinataJWT = jwt
	}
}

// WithListenAddr sets the server bind address.
func WithListenAddr(addr string) Option {
	return func(c *Config) { c.ListenAddr = addr }
}

// WithLogLevel sets the log level name.
func WithLogLevel(level string) Option {
	return func(c *Config) { c.LogLevel = level }
}

// WithHTTPTimeout sets the outbound HTTP timeout.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Config) { c.HTTPTimeout = d }
}

// WithLocalProver toggles the in-process prover.
func WithLocalProver(enabled bool) Option {
	return func(c *Config) { c.LocalProver = enabled }
}

// Load builds a Config from the environment and applies opts on top.
func Load(opts ...Option) *Config {
	cfg := &Config{
		RPC:         envString(EnvRPC, DefaultRPC),
		ChainID:     envInt(EnvChainID, DefaultChainID),
		ProverURL:   envString(EnvProverURL, DefaultProverURL),
		IPFSGateway: envString(EnvIPFSGateway, DefaultIPFSGateway),
		PinataURL:   envString(EnvPinataURL, DefaultPinataURL),
		PinataJWT:   os.Getenv(EnvPinataJWT),
		ListenAddr:  envString(EnvListenAddr, DefaultListenAddr),
		LogLevel:    envString(EnvLogLevel, DefaultLogLevel),
		HTTPTimeout: envDuration(EnvHTTPTimeout, DefaultHTTPTimeout),
		LocalProver: envBool(EnvLocalProver, false),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
