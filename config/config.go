// Package config loads process-wide configuration the way the teacher's
// config.go does: TOML, decoded once at startup, with a validation pass
// that refuses to let the process start with a broken master key.
package config

import (
	"crypto/tls"
	"encoding/base64"
	"fmt"

	"github.com/BurntSushi/toml"
)

// ServerConfig is the HTTP control-plane listener.
type ServerConfig struct {
	Port int `toml:"port"`
}

// StoreConfig points at the backing key-value store. URL/Token are named
// after spec.md §6.3's abstracted remote key-value store; this
// implementation's concrete store is a local bbolt file (DataDir), so
// URL/Token are unused today but kept so swapping in a remote store needs
// no config schema change.
type StoreConfig struct {
	DataDir string `toml:"data_dir"`
	URL     string `toml:"url"`
	Token   string `toml:"token"`
}

// EncryptionConfig carries the base64-encoded 32-byte master key spec.md
// §6.3 requires; startup fails if it is absent or the wrong length.
type EncryptionConfig struct {
	MasterKeyBase64 string `toml:"master_key"`
}

// JWTConfig is the bearer-token signing secret used by middleware.Auth.
type JWTConfig struct {
	Secret string `toml:"secret"`
}

// SSLConfig is carried over from the teacher's config verbatim: TLS
// settings for the control plane itself, independent of the TLS/STARTTLS
// settings an account's IMAP/SMTP servers use. Validate checks that the
// keypair loads when Enabled is set; main.go does not start a TLS listener
// from these settings and serves plain HTTP on Server.Port only.
type SSLConfig struct {
	Enabled  bool   `toml:"enabled"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
	Port     int    `toml:"port"`
}

type Config struct {
	Server     ServerConfig     `toml:"server"`
	Store      StoreConfig      `toml:"store"`
	Encryption EncryptionConfig `toml:"encryption"`
	JWT        JWTConfig        `toml:"jwt"`
	SSL        SSLConfig        `toml:"ssl"`
}

// LoadConfig decodes filepath and validates the fields the process cannot
// start without.
func LoadConfig(filepath string) (*Config, error) {
	var cfg Config
	cfg.Server.Port = 3000
	cfg.Store.DataDir = "./data"
	cfg.SSL.Port = 8443

	if _, err := toml.DecodeFile(filepath, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", filepath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces spec.md §6.3 and §7's ConfigError: the process must
// refuse to start with a missing or malformed master key.
func (c *Config) Validate() error {
	if c.Encryption.MasterKeyBase64 == "" {
		return fmt.Errorf("config: encryption.master_key is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.Encryption.MasterKeyBase64)
	if err != nil {
		return fmt.Errorf("config: encryption.master_key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("config: encryption.master_key must decode to exactly 32 bytes, got %d", len(key))
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("config: jwt.secret is required")
	}
	if c.SSL.Enabled {
		if _, err := tls.LoadX509KeyPair(c.SSL.CertFile, c.SSL.KeyFile); err != nil {
			return fmt.Errorf("config: failed to load SSL certificates: %w", err)
		}
	}
	return nil
}

// MasterKey returns the decoded 32-byte master key. Validate must have
// already succeeded.
func (c *Config) MasterKey() []byte {
	key, _ := base64.StdEncoding.DecodeString(c.Encryption.MasterKeyBase64)
	return key
}
