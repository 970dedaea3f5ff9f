package config

import (
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/gateway-fm/accessledger/internal/coordinator"
	"github.com/gateway-fm/accessledger/internal/ledger"
	"github.com/gateway-fm/accessledger/pkg/types"
)

const testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONTRACT_ADDRESS", testContract)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.TotalRequests != DefaultTotalRequests {
		t.Errorf("TotalRequests = %d, want %d", cfg.TotalRequests, DefaultTotalRequests)
	}
	if cfg.FundingSettleDelay != 6*time.Second {
		t.Errorf("FundingSettleDelay = %v, want 6s", cfg.FundingSettleDelay)
	}
	if cfg.FinalityTimeout != 2*time.Minute {
		t.Errorf("FinalityTimeout = %v, want 2m", cfg.FinalityTimeout)
	}
	if cfg.TipUnitWei.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Errorf("TipUnitWei = %s, want 1 gwei", cfg.TipUnitWei)
	}
	if cfg.TipPolicy() != coordinator.TipDecremental {
		t.Errorf("TipPolicy() = %v, want decremental", cfg.TipPolicy())
	}
	if cfg.ListenAddr() != "0.0.0.0:3000" {
		t.Errorf("ListenAddr() = %q, want 0.0.0.0:3000", cfg.ListenAddr())
	}
}

func TestLoadEnvThenFlags(t *testing.T) {
	t.Setenv("CONTRACT_ADDRESS", testContract)
	t.Setenv("PORT", "4000")
	t.Setenv("TOTAL_REQUESTS", "250")
	t.Setenv("TIP_RANDOM", "true")
	t.Setenv("ENABLE_PERFORMANCE_MONITORING", "true")
	t.Setenv("BATCH_WAIT_TIME", "3")
	t.Setenv("FUNDING_SETTLE_DELAY", "2s")
	t.Setenv("TEST_TYPE", "batch")

	cfg, err := Load([]string{"-port", "5000", "-finality-timeout", "30s"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"flag overrides env", cfg.Port, 5000},
		{"env total requests", cfg.TotalRequests, int64(250)},
		{"env tip random", cfg.TipPolicy(), coordinator.TipRandom},
		{"env perf", cfg.EnablePerf, true},
		{"env batch wait seconds", cfg.BatchWait, 3 * time.Second},
		{"env settle delay duration", cfg.FundingSettleDelay, 2 * time.Second},
		{"env test type", cfg.TestType, types.TestBatch},
		{"flag finality timeout", cfg.FinalityTimeout, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadEmptyDatabasePathDisablesStorage(t *testing.T) {
	t.Setenv("CONTRACT_ADDRESS", testContract)
	t.Setenv("DATABASE_PATH", "")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DatabasePath != "" {
		t.Errorf("DatabasePath = %q, want empty", cfg.DatabasePath)
	}
}

func TestLoadRejectsBadFlag(t *testing.T) {
	t.Setenv("CONTRACT_ADDRESS", testContract)
	if _, err := Load([]string{"-funding", "lots"}); err == nil {
		t.Error("Load(-funding lots) error = nil, want error")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.ContractAddress = testContract
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(*Config) {}, false},
		{"missing contract", func(c *Config) { c.ContractAddress = "" }, true},
		{"invalid contract", func(c *Config) { c.ContractAddress = "0x1234" }, true},
		{"bad port", func(c *Config) { c.Port = 0 }, true},
		{"negative total", func(c *Config) { c.TotalRequests = -1 }, true},
		{"unknown test type", func(c *Config) { c.TestType = "burst" }, true},
		{"missing rpc", func(c *Config) { c.RPCURL = "" }, true},
		{"bad dev key", func(c *Config) { c.DevSignerKey = "0xzz" }, true},
		{"zero tip unit", func(c *Config) { c.TipUnitWei = big.NewInt(0) }, true},
		{"zero gas limit", func(c *Config) { c.CallGasLimit = 0 }, true},
		{"negative timeout", func(c *Config) { c.FinalityTimeout = -time.Second }, true},
		{"zero timeout disables bound", func(c *Config) { c.FinalityTimeout = 0 }, false},
		{"safe tag", func(c *Config) { c.FinalityTag = "safe" }, false},
		{"unknown tag", func(c *Config) { c.FinalityTag = "pending" }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"unknown node", func(c *Config) { c.LedgerNode = "besu-ish" }, true},
		{"hardhat node", func(c *Config) { c.LedgerNode = "hardhat" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadAppliesNodeProfile(t *testing.T) {
	tests := []struct {
		node          string
		tag           string
		confirmations uint64
		legacy        bool
	}{
		{"generic", ledger.TagFinalized, 0, false},
		{"hardhat", ledger.TagLatest, 0, false},
		{"cdk-erigon", ledger.TagLatest, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.node, func(t *testing.T) {
			t.Setenv("CONTRACT_ADDRESS", testContract)
			t.Setenv("LEDGER_NODE", tt.node)

			cfg, err := Load(nil)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.FinalityTag != tt.tag || cfg.Confirmations != tt.confirmations || cfg.UseLegacyTx != tt.legacy {
				t.Errorf("Load() tag=%s confirmations=%d legacy=%v, want %s %d %v",
					cfg.FinalityTag, cfg.Confirmations, cfg.UseLegacyTx, tt.tag, tt.confirmations, tt.legacy)
			}
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{"*"}},
		{"*", []string{"*"}},
		{"http://a.test, http://b.test", []string{"http://a.test", "http://b.test"}},
	}

	for _, tt := range tests {
		c := &Config{AllowedOrigin: tt.in}
		got := c.AllowedOrigins()
		if len(got) != len(tt.want) {
			t.Errorf("AllowedOrigins(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("AllowedOrigins(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestDevSigner(t *testing.T) {
	c := Default()
	acct, err := c.DevSigner()
	if err != nil {
		t.Fatalf("DevSigner() error = %v", err)
	}
	if acct.Address.Hex() != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Errorf("DevSigner() = %s, want first test account", acct.Address.Hex())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoadLoadGen(t *testing.T) {
	t.Setenv("TEST_TYPE", "concurrent")
	t.Setenv("TOTAL_REQUESTS", "40")

	cfg, err := LoadLoadGen([]string{"-concurrency", "8", "-verify-roles"})
	if err != nil {
		t.Fatalf("LoadLoadGen() error = %v", err)
	}
	if cfg.Mode != types.TestConcurrent || cfg.TotalRequests != 40 || cfg.Concurrency != 8 || !cfg.VerifyRoles {
		t.Errorf("LoadLoadGen() = %+v", cfg)
	}
	if cfg.BaseURL() != "http://localhost:3000" {
		t.Errorf("BaseURL() = %q, want http://localhost:3000", cfg.BaseURL())
	}
}

func TestLoadGenValidate(t *testing.T) {
	base := LoadGenConfig{
		Route:         DefaultRoute,
		Mode:          types.TestBatch,
		TotalRequests: 10,
		BatchSize:     5,
		Timeout:       time.Second,
		LogLevel:      "info",
	}

	tests := []struct {
		name    string
		mutate  func(*LoadGenConfig)
		wantErr bool
	}{
		{"valid", func(*LoadGenConfig) {}, false},
		{"zero requests", func(c *LoadGenConfig) { c.TotalRequests = 0 }, true},
		{"zero batch size", func(c *LoadGenConfig) { c.BatchSize = 0 }, true},
		{"zero batch size sequential", func(c *LoadGenConfig) { c.BatchSize = 0; c.Mode = types.TestSequential }, false},
		{"negative rate", func(c *LoadGenConfig) { c.Rate = -1 }, true},
		{"relative route", func(c *LoadGenConfig) { c.Route = "create_user" }, true},
		{"bad mode", func(c *LoadGenConfig) { c.Mode = "parallel" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
