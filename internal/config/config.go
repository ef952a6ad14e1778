// Package config defines the top-level configuration for the settlement
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/batchsettle/internal/order"
	"github.com/alanyoungcy/batchsettle/internal/token"
)

// Config is the root configuration structure. Fields are populated from a
// TOML or YAML file and then optionally overridden by SETTLED_* environment
// variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain" yaml:"chain"`
	Solver   SolverConfig   `toml:"solver" yaml:"solver"`
	Wallet   WalletConfig   `toml:"wallet" yaml:"wallet"`
	Store    StoreConfig    `toml:"store" yaml:"store"`
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
	Redis    RedisConfig    `toml:"redis" yaml:"redis"`
	S3       S3Config       `toml:"s3" yaml:"s3"`
	Archive  ArchiveConfig  `toml:"archive" yaml:"archive"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	LogFile  LogFileConfig  `toml:"log_file" yaml:"log_file"`
	Mode     string         `toml:"mode" yaml:"mode"`
	LogLevel string         `toml:"log_level" yaml:"log_level"`
}

// ChainConfig describes the settlement deployment and its genesis state.
type ChainConfig struct {
	ChainID       uint64         `toml:"chain_id" yaml:"chain_id"`
	Settlement    common.Address `toml:"settlement" yaml:"settlement"`
	Relayer       common.Address `toml:"relayer" yaml:"relayer"`
	Vault         common.Address `toml:"vault" yaml:"vault"`
	AllowList     common.Address `toml:"allow_list" yaml:"allow_list"`
	Manager       common.Address `toml:"manager" yaml:"manager"`
	DomainName    string         `toml:"domain_name" yaml:"domain_name"`
	DomainVersion string         `toml:"domain_version" yaml:"domain_version"`
	StrictEIP1271 bool           `toml:"strict_eip1271" yaml:"strict_eip1271"`

	Tokens   []TokenConfig   `toml:"tokens" yaml:"tokens"`
	Balances []BalanceConfig `toml:"balances" yaml:"balances"`
	Pools    []PoolConfig    `toml:"pools" yaml:"pools"`
}

// TokenConfig deploys an ERC20 at genesis. ReturnMode is "bool" (default),
// "none" or "false" for tokens that deviate from the standard.
type TokenConfig struct {
	Address    common.Address `toml:"address" yaml:"address"`
	Symbol     string         `toml:"symbol" yaml:"symbol"`
	Decimals   uint8          `toml:"decimals" yaml:"decimals"`
	ReturnMode string         `toml:"return_mode" yaml:"return_mode"`
}

// BalanceConfig credits an account at genesis. Amount is in whole token
// units.
type BalanceConfig struct {
	Owner          common.Address  `toml:"owner" yaml:"owner"`
	Token          common.Address  `toml:"token" yaml:"token"`
	Amount         decimal.Decimal `toml:"amount" yaml:"amount"`
	Internal       bool            `toml:"internal" yaml:"internal"`
	ApproveRelayer bool            `toml:"approve_relayer" yaml:"approve_relayer"`
}

// PoolConfig registers a fixed-rate vault pool.
type PoolConfig struct {
	ID          common.Hash     `toml:"id" yaml:"id"`
	TokenA      common.Address  `toml:"token_a" yaml:"token_a"`
	TokenB      common.Address  `toml:"token_b" yaml:"token_b"`
	Numerator   uint64          `toml:"numerator" yaml:"numerator"`
	Denominator uint64          `toml:"denominator" yaml:"denominator"`
	LiquidityA  decimal.Decimal `toml:"liquidity_a" yaml:"liquidity_a"`
	LiquidityB  decimal.Decimal `toml:"liquidity_b" yaml:"liquidity_b"`
}

// SolverConfig lists who may settle. Directory "redis" additionally
// authorises every address in the shared Redis solver set named
// DirectoryName.
type SolverConfig struct {
	Allowed       []common.Address `toml:"allowed" yaml:"allowed"`
	Directory     string           `toml:"directory" yaml:"directory"`
	DirectoryName string           `toml:"directory_name" yaml:"directory_name"`
}

// WalletConfig holds the key the sign mode signs orders with.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key" yaml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path" yaml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password" yaml:"key_password"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver     string `toml:"driver" yaml:"driver"`
	SQLitePath string `toml:"sqlite_path" yaml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Without Redis the daemon
// runs single-replica: no distributed lock, bus or rate limiting.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	Addr       string `toml:"addr" yaml:"addr"`
	Password   string `toml:"password" yaml:"password"`
	DB         int    `toml:"db" yaml:"db"`
	PoolSize   int    `toml:"pool_size" yaml:"pool_size"`
	MaxRetries int    `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled" yaml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
	KeyPrefix      string `toml:"key_prefix" yaml:"key_prefix"`
}

// ArchiveConfig controls moving old receipts to object storage. The
// archive and full modes always archive; Enabled adds it to server mode.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled" yaml:"enabled"`
	RetentionDays int      `toml:"retention_days" yaml:"retention_days"`
	Interval      duration `toml:"interval" yaml:"interval"`
}

// duration is a wrapper around time.Duration that decodes from strings like
// "5m" or "30s" in both TOML and YAML.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters. An empty APIKeys disables
// authentication.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled" yaml:"enabled"`
	Host            string   `toml:"host" yaml:"host"`
	Port            int      `toml:"port" yaml:"port"`
	CORSOrigins     []string `toml:"cors_origins" yaml:"cors_origins"`
	APIKeys         []string `toml:"api_keys" yaml:"api_keys"`
	RateLimit       int      `toml:"rate_limit" yaml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window" yaml:"rate_limit_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LogFileConfig enables a rotating JSON log file next to stdout.
type LogFileConfig struct {
	Path       string `toml:"path" yaml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" yaml:"compress"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:       1,
			Settlement:    common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41"),
			Relayer:       common.HexToAddress("0xC92E8bdf79f0507f65a392b0ab4667716BFE0110"),
			Vault:         common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8"),
			AllowList:     common.HexToAddress("0x2c4c28DDBdAc9C5E7055b4C863b72eA0149D8aFE"),
			DomainName:    "Gnosis Protocol",
			DomainVersion: "v2",
		},
		Solver: SolverConfig{
			Directory:     "none",
			DirectoryName: "default",
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "data/settled.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "settle",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "settle-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
			ShutdownTimeout: duration{10 * time.Second},
		},
		LogFile: LogFileConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
	"sign":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full, sign)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	errs = append(errs, c.Chain.validate()...)

	switch strings.ToLower(c.Solver.Directory) {
	case "", "none":
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, "solver: directory redis requires redis.enabled")
		}
		if c.Solver.DirectoryName == "" {
			errs = append(errs, "solver: directory_name must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("solver: unknown directory %q (valid: none, redis)", c.Solver.Directory))
	}

	if mode == "sign" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode sign")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	switch strings.ToLower(c.Store.Driver) {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store: sqlite_path must not be empty")
		}
	case "postgres":
		errs = append(errs, c.Postgres.validate()...)
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: sqlite, postgres)", c.Store.Driver))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Archive.Enabled || mode == "archive" || mode == "full" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	if c.Server.Enabled && (mode == "server" || mode == "full") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *ChainConfig) validate() []string {
	var errs []string
	zero := common.Address{}

	if c.ChainID == 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	contracts := []struct {
		name string
		addr common.Address
	}{
		{"settlement", c.Settlement},
		{"relayer", c.Relayer},
		{"vault", c.Vault},
		{"allow_list", c.AllowList},
	}
	seen := make(map[common.Address]string, len(contracts)+len(c.Tokens))
	for _, ct := range contracts {
		if ct.addr == zero {
			errs = append(errs, fmt.Sprintf("chain: %s address must be set", ct.name))
			continue
		}
		if other, dup := seen[ct.addr]; dup {
			errs = append(errs, fmt.Sprintf("chain: %s and %s share address %s", other, ct.name, ct.addr.Hex()))
		}
		seen[ct.addr] = ct.name
	}
	if c.DomainName == "" || c.DomainVersion == "" {
		errs = append(errs, "chain: domain_name and domain_version must not be empty")
	}

	decimals := map[common.Address]uint8{order.NativeToken: 18}
	for i, t := range c.Tokens {
		switch {
		case t.Address == zero:
			errs = append(errs, fmt.Sprintf("chain: tokens[%d] address must be set", i))
		case t.Address == order.NativeToken:
			errs = append(errs, fmt.Sprintf("chain: tokens[%d] uses the native token marker address", i))
		default:
			if other, dup := seen[t.Address]; dup {
				errs = append(errs, fmt.Sprintf("chain: tokens[%d] collides with %s", i, other))
			}
			seen[t.Address] = "token " + t.Symbol
			decimals[t.Address] = t.Decimals
		}
		if t.Symbol == "" {
			errs = append(errs, fmt.Sprintf("chain: tokens[%d] symbol must not be empty", i))
		}
		if _, err := token.ParseReturnMode(t.ReturnMode); err != nil {
			errs = append(errs, fmt.Sprintf("chain: tokens[%d]: %v", i, err))
		}
	}

	for i, b := range c.Balances {
		d, known := decimals[b.Token]
		if !known {
			errs = append(errs, fmt.Sprintf("chain: balances[%d] token %s is not a genesis token", i, b.Token.Hex()))
			continue
		}
		if b.Owner == zero {
			errs = append(errs, fmt.Sprintf("chain: balances[%d] owner must be set", i))
		}
		if b.Amount.IsNegative() {
			errs = append(errs, fmt.Sprintf("chain: balances[%d] amount must not be negative", i))
		}
		if !b.Amount.Shift(int32(d)).IsInteger() {
			errs = append(errs, fmt.Sprintf("chain: balances[%d] amount %s has more than %d decimals", i, b.Amount, d))
		}
		if b.Token == order.NativeToken && (b.Internal || b.ApproveRelayer) {
			errs = append(errs, fmt.Sprintf("chain: balances[%d] native balances cannot be internal or approved", i))
		}
	}

	for i, p := range c.Pools {
		if p.ID == (common.Hash{}) {
			errs = append(errs, fmt.Sprintf("chain: pools[%d] id must be set", i))
		}
		if p.Numerator == 0 || p.Denominator == 0 {
			errs = append(errs, fmt.Sprintf("chain: pools[%d] numerator and denominator must be positive", i))
		}
		for _, tok := range []common.Address{p.TokenA, p.TokenB} {
			if _, known := decimals[tok]; !known || tok == order.NativeToken {
				errs = append(errs, fmt.Sprintf("chain: pools[%d] token %s is not a genesis token", i, tok.Hex()))
			}
		}
		if p.TokenA == p.TokenB {
			errs = append(errs, fmt.Sprintf("chain: pools[%d] trades a token against itself", i))
		}
		if p.LiquidityA.IsNegative() || p.LiquidityB.IsNegative() {
			errs = append(errs, fmt.Sprintf("chain: pools[%d] liquidity must not be negative", i))
		}
	}
	return errs
}

func (c *PostgresConfig) validate() []string {
	var errs []string
	if strings.TrimSpace(c.DSN) == "" {
		if c.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Port <= 0 || c.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Port))
		}
		if c.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.PoolMinConns > c.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}
	return errs
}
