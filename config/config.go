package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"workchain/crypto"

	"github.com/BurntSushi/toml"
)

// Config carries the node-level settings for a workchain service. Address
// fields hold bech32 strings and are decoded on demand so a config file with a
// bad authority fails loudly at startup instead of at first use.
type Config struct {
	ListenAddress       string `toml:"ListenAddress"`
	DataDir             string `toml:"DataDir"`
	NetworkName         string `toml:"NetworkName"`
	Environment         string `toml:"Environment"`
	GovernanceAuthority string `toml:"GovernanceAuthority"`
	FeeTreasury         string `toml:"FeeTreasury"`
	FeeBps              uint32 `toml:"FeeBps"`
	MinJurorStake       string `toml:"MinJurorStake"`
	VotingPeriodSeconds uint64 `toml:"VotingPeriodSeconds"`
	EventBufferSize     int    `toml:"EventBufferSize"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = "0.0.0.0:8546"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./workchain-data"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "workchain-local"
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = 512
	}
}

// Validate checks the decodable invariants of the configuration.
func (c *Config) Validate() error {
	if c.FeeBps > 10_000 {
		return fmt.Errorf("config: FeeBps %d exceeds 10000", c.FeeBps)
	}
	if strings.TrimSpace(c.GovernanceAuthority) != "" {
		if _, err := c.AuthorityAddress(); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.FeeTreasury) != "" {
		if _, err := c.TreasuryAddress(); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.MinJurorStake) != "" {
		if _, err := c.MinStake(); err != nil {
			return err
		}
	}
	if c.FeeBps > 0 && strings.TrimSpace(c.FeeTreasury) == "" {
		return fmt.Errorf("config: FeeBps set without FeeTreasury")
	}
	return nil
}

// AuthorityAddress decodes the configured governance authority.
func (c *Config) AuthorityAddress() ([20]byte, error) {
	return decodeAddr("GovernanceAuthority", c.GovernanceAuthority)
}

// TreasuryAddress decodes the configured fee treasury.
func (c *Config) TreasuryAddress() ([20]byte, error) {
	return decodeAddr("FeeTreasury", c.FeeTreasury)
}

// MinStake parses the minimum juror stake as a base-10 integer. An empty
// field disables the stake gate and returns nil.
func (c *Config) MinStake() (*big.Int, error) {
	trimmed := strings.TrimSpace(c.MinJurorStake)
	if trimmed == "" {
		return nil, nil
	}
	stake, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || stake.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid MinJurorStake %q", c.MinJurorStake)
	}
	return stake, nil
}

func decodeAddr(field, value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("config: %s not set", field)
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, fmt.Errorf("config: invalid %s: %w", field, err)
	}
	var out [20]byte
	copy(out[:], decoded.Bytes())
	return out, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
