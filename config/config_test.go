package config

import (
	"bytes"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"workchain/crypto"
)

func testBech32(fill byte) string {
	return crypto.NewAddress(crypto.WRKPrefix, bytes.Repeat([]byte{fill}, 20)).String()
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "0.0.0.0:8546" {
		t.Fatalf("expected default listen address, got %q", cfg.ListenAddress)
	}
	if cfg.NetworkName != "workchain-local" {
		t.Fatalf("expected default network name, got %q", cfg.NetworkName)
	}
	if cfg.EventBufferSize != 512 {
		t.Fatalf("expected default event buffer, got %d", cfg.EventBufferSize)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default file written: %v", err)
	}

	// A second load reads the file it just wrote.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.ListenAddress != cfg.ListenAddress {
		t.Fatalf("expected stable reload")
	}
}

func TestLoadParsesAddresses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	authority := testBech32(0x0A)
	treasury := testBech32(0x0B)
	content := `
ListenAddress = "127.0.0.1:9000"
DataDir = "/tmp/workchain"
NetworkName = "workchain-test"
GovernanceAuthority = "` + authority + `"
FeeTreasury = "` + treasury + `"
FeeBps = 250
MinJurorStake = "1000"
VotingPeriodSeconds = 3600
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	addr, err := cfg.AuthorityAddress()
	if err != nil {
		t.Fatalf("authority address: %v", err)
	}
	if addr != [20]byte{0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A, 0x0A} {
		t.Fatalf("authority mismatch: %x", addr)
	}
	if _, err := cfg.TreasuryAddress(); err != nil {
		t.Fatalf("treasury address: %v", err)
	}
	stake, err := cfg.MinStake()
	if err != nil || stake.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("stake mismatch: %v (%v)", stake, err)
	}
	if cfg.VotingPeriodSeconds != 3600 {
		t.Fatalf("expected voting period 3600, got %d", cfg.VotingPeriodSeconds)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{name: "fee without treasury", content: "FeeBps = 100\n"},
		{name: "fee out of range", content: "FeeBps = 10001\n"},
		{name: "bad authority", content: `GovernanceAuthority = "not-an-address"` + "\n"},
		{name: "bad stake", content: `MinJurorStake = "-5"` + "\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected load to fail")
			}
		})
	}
}

func TestMinStakeEmptyDisables(t *testing.T) {
	cfg := &Config{}
	stake, err := cfg.MinStake()
	if err != nil || stake != nil {
		t.Fatalf("expected nil stake for empty field, got %v (%v)", stake, err)
	}
}
