// config.go - Configuration management for the shielded wallet
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"

	"shieldwallet/internal/keys"
	"shieldwallet/internal/merkle"
)

// EnvPrefix is prepended to every environment override, e.g. SHIELDD_LOG_LEVEL.
const EnvPrefix = "SHIELDD"

const (
	NonceFixed     = "fixed"
	NonceTimestamp = "timestamp"
)

// Config represents the application configuration
type Config struct {
	// File paths, relative ones are resolved against DataDir
	DataDir       string `json:"data_dir" envconfig:"DATA_DIR"`
	StorePath     string `json:"store_path" envconfig:"STORE_PATH"`
	LedgerPath    string `json:"ledger_path" envconfig:"LEDGER_PATH"`
	SignerKeyFile string `json:"signer_key_file" envconfig:"SIGNER_KEY_FILE"`

	// Chain
	MaxBlockRange uint64 `json:"max_block_range" envconfig:"MAX_BLOCK_RANGE"`

	// Cryptography
	MerkleHasher string `json:"merkle_hasher" envconfig:"MERKLE_HASHER"`
	NoncePolicy  string `json:"nonce_policy" envconfig:"NONCE_POLICY"`
	NonceTag     string `json:"nonce_tag" envconfig:"NONCE_TAG"`
	LightScrypt  bool   `json:"light_scrypt" envconfig:"LIGHT_SCRYPT"`

	// Sync
	SyncSchedule       string `json:"sync_schedule" envconfig:"SYNC_SCHEDULE"`
	SyncStaleAfterSecs int    `json:"sync_stale_after_secs" envconfig:"SYNC_STALE_AFTER_SECS"`

	// Logging
	LogLevel string `json:"log_level" envconfig:"LOG_LEVEL"`
	LogFile  string `json:"log_file" envconfig:"LOG_FILE"`

	// Security
	EnableAudit  bool   `json:"enable_audit" envconfig:"ENABLE_AUDIT"`
	AuditLogPath string `json:"audit_log_path" envconfig:"AUDIT_LOG_PATH"`

	// Secrets come from the environment only
	SignerKey  string `json:"-" envconfig:"SIGNER_KEY"`
	Passphrase string `json:"-" envconfig:"PASSPHRASE"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir:            ".shieldd",
		StorePath:          "wallet.db",
		LedgerPath:         "ledger.json",
		SignerKeyFile:      "signer.key",
		MaxBlockRange:      1000,
		MerkleHasher:       merkle.PoseidonName,
		NoncePolicy:        NonceFixed,
		NonceTag:           "shielded-wallet-v1",
		SyncSchedule:       "@every 15s",
		SyncStaleAfterSecs: 120,
		LogLevel:           "info",
		EnableAudit:        true,
		AuditLogPath:       "audit.log",
	}
}

// LoadConfig loads configuration from file, creating it with defaults when
// missing, then applies environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		if err := json.NewDecoder(file).Decode(config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := SaveConfig(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	return config, config.Validate()
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.StorePath == "" || c.LedgerPath == "" {
		return fmt.Errorf("store_path and ledger_path must be set")
	}
	if c.MaxBlockRange == 0 {
		return fmt.Errorf("max_block_range must be positive")
	}
	if _, err := merkle.HasherByName(c.MerkleHasher); err != nil {
		return err
	}
	switch c.NoncePolicy {
	case NonceFixed:
		if c.NonceTag == "" {
			return fmt.Errorf("nonce_tag must be set for the fixed nonce policy")
		}
	case NonceTimestamp:
	default:
		return fmt.Errorf("nonce_policy must be %q or %q", NonceFixed, NonceTimestamp)
	}
	if c.SyncSchedule == "" {
		return fmt.Errorf("sync_schedule must be set")
	}
	if c.SyncStaleAfterSecs <= 0 {
		return fmt.Errorf("sync_stale_after_secs must be positive")
	}
	return nil
}

// Resolve returns path joined to DataDir unless it is absolute or empty.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// Hasher returns the configured Merkle hash function.
func (c *Config) Hasher() (merkle.Hasher, error) {
	return merkle.HasherByName(c.MerkleHasher)
}

// Nonce returns the configured key derivation nonce policy.
func (c *Config) Nonce() keys.NoncePolicy {
	if c.NoncePolicy == NonceTimestamp {
		return keys.TimestampNonce
	}
	return keys.FixedNonce(c.NonceTag)
}

// Scrypt returns the passphrase KDF strength.
func (c *Config) Scrypt() keys.ScryptParams {
	if c.LightScrypt {
		return keys.LightScrypt
	}
	return keys.StandardScrypt
}
