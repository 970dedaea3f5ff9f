// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/accessledger/internal/account"
	"github.com/gateway-fm/accessledger/internal/coordinator"
	"github.com/gateway-fm/accessledger/internal/execnode"
	"github.com/gateway-fm/accessledger/internal/ledger"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// Config holds facade server configuration.
type Config struct {
	Host          string
	Port          int
	AllowedOrigin string // Comma-separated list of allowed origins, or "*" for all
	EnablePerf    bool   // Performance sidecar on HTTP routes
	TotalRequests int64  // Seeds the decremental tip counter
	TestType      types.TestType
	TipRandom     bool
	BatchWait     time.Duration

	LedgerNode      string // Node profile from execnode, adjusts finality and tx settings
	RPCURL          string
	WSURL           string // newHeads websocket, derived from RPCURL when empty
	ChainID         int64  // 0 = query the node
	ContractAddress string
	ContractABIPath string
	DevSignerKey    string // hex private key of the funder and registrar

	FundingAmountWei   *big.Int
	FundingSettleDelay time.Duration
	CallGasLimit       uint64
	DynamicGasLimit    uint64
	TipUnitWei         *big.Int
	UseLegacyTx        bool
	FinalityTimeout    time.Duration
	FinalityTag        string
	Confirmations      uint64
	PollInterval       time.Duration
	TxCounterReset     time.Duration

	DatabasePath string // SQLite file, empty disables storage
	LogDir       string // Directory of performance_log.txt and performance_log.json
	LogLevel     string
}

// Defaults
const (
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 3000
	DefaultAllowedOrigin      = "*"
	DefaultTotalRequests      = 100
	DefaultTestType           = types.TestSequential
	DefaultLedgerNode         = execnode.DefaultNode
	DefaultRPCURL             = "http://localhost:8545"
	DefaultContractABIPath    = "./contracts/access_control.abi.json"
	DefaultFundingAmountWei   = "10000000000000000" // 0.01 ether
	DefaultFundingSettleDelay = 6 * time.Second
	DefaultCallGasLimit       = 500000
	DefaultDynamicGasLimit    = 1000000
	DefaultTipUnitWei         = "1000000000" // 1 Gwei per tip unit
	DefaultFinalityTimeout    = 2 * time.Minute
	DefaultFinalityTag        = ledger.TagFinalized
	DefaultPollInterval       = time.Second
	DefaultTxCounterReset     = 5 * time.Second
	DefaultDatabasePath       = "./data/accessledger.db"
	DefaultLogDir             = "."
	DefaultLogLevel           = "info"
)

// Default returns the configuration with every default applied.
func Default() *Config {
	funding, _ := new(big.Int).SetString(DefaultFundingAmountWei, 10)
	tipUnit, _ := new(big.Int).SetString(DefaultTipUnitWei, 10)
	return &Config{
		Host:               DefaultHost,
		Port:               DefaultPort,
		AllowedOrigin:      DefaultAllowedOrigin,
		TotalRequests:      DefaultTotalRequests,
		TestType:           DefaultTestType,
		LedgerNode:         DefaultLedgerNode,
		RPCURL:             DefaultRPCURL,
		ContractABIPath:    DefaultContractABIPath,
		FundingAmountWei:   funding,
		FundingSettleDelay: DefaultFundingSettleDelay,
		CallGasLimit:       DefaultCallGasLimit,
		DynamicGasLimit:    DefaultDynamicGasLimit,
		TipUnitWei:         tipUnit,
		FinalityTimeout:    DefaultFinalityTimeout,
		FinalityTag:        DefaultFinalityTag,
		PollInterval:       DefaultPollInterval,
		TxCounterReset:     DefaultTxCounterReset,
		DatabasePath:       DefaultDatabasePath,
		LogDir:             DefaultLogDir,
		LogLevel:           DefaultLogLevel,
	}
}

// Load reads configuration from environment variables and command-line args.
// Flags take precedence over environment variables.
func Load(args []string) (*Config, error) {
	cfg := Default()
	cfg.loadEnv()

	fs := flag.NewFlagSet("accessledger", flag.ContinueOnError)
	cfg.bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyNode()
	return cfg, nil
}

// Node returns the capabilities of the configured ledger node.
func (c *Config) Node() *execnode.Capabilities {
	return execnode.DefaultRegistry().Get(c.LedgerNode)
}

// applyNode adjusts ledger settings to what the node supports.
func (c *Config) applyNode() {
	caps := c.Node()
	if caps == nil {
		return
	}
	if caps.RequiresLegacyTx {
		c.UseLegacyTx = true
	}
	if !caps.SupportsFinalityTag && c.FinalityTag != ledger.TagLatest {
		c.FinalityTag = ledger.TagLatest
		c.Confirmations = max(c.Confirmations, caps.Confirmations)
	}
}

func (c *Config) loadEnv() {
	envString("HOST", &c.Host)
	envInt("PORT", &c.Port)
	envString("ALLOWED_ORIGIN", &c.AllowedOrigin)
	envBool("ENABLE_PERFORMANCE_MONITORING", &c.EnablePerf)
	envInt64("TOTAL_REQUESTS", &c.TotalRequests)
	if v := os.Getenv("TEST_TYPE"); v != "" {
		c.TestType = types.TestType(v)
	}
	envBool("TIP_RANDOM", &c.TipRandom)
	envSeconds("BATCH_WAIT_TIME", &c.BatchWait)

	envString("LEDGER_NODE", &c.LedgerNode)
	envString("RPC_URL", &c.RPCURL)
	envString("WS_URL", &c.WSURL)
	envInt64("CHAIN_ID", &c.ChainID)
	envString("CONTRACT_ADDRESS", &c.ContractAddress)
	envString("CONTRACT_ABI_PATH", &c.ContractABIPath)
	envString("DEV_SIGNER_KEY", &c.DevSignerKey)

	envBig("FUNDING_AMOUNT_WEI", &c.FundingAmountWei)
	envDuration("FUNDING_SETTLE_DELAY", &c.FundingSettleDelay)
	envUint64("CALL_GAS_LIMIT", &c.CallGasLimit)
	envUint64("DYNAMIC_GAS_LIMIT", &c.DynamicGasLimit)
	envBig("TIP_UNIT_WEI", &c.TipUnitWei)
	envBool("USE_LEGACY_TX", &c.UseLegacyTx)
	envDuration("FINALITY_TIMEOUT", &c.FinalityTimeout)
	envString("FINALITY_TAG", &c.FinalityTag)
	envUint64("CONFIRMATIONS", &c.Confirmations)
	envDuration("POLL_INTERVAL", &c.PollInterval)
	envDuration("TX_COUNTER_RESET", &c.TxCounterReset)

	if v, ok := os.LookupEnv("DATABASE_PATH"); ok {
		c.DatabasePath = v
	}
	envString("LOG_DIR", &c.LogDir)
	envString("LOG_LEVEL", &c.LogLevel)
}

func (c *Config) bindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Host, "host", c.Host, "Listen host")
	fs.IntVar(&c.Port, "port", c.Port, "Listen port")
	fs.StringVar(&c.AllowedOrigin, "allowed-origin", c.AllowedOrigin, "CORS allowed origins (comma-separated, * for all)")
	fs.BoolVar(&c.EnablePerf, "perf", c.EnablePerf, "Enable the performance sidecar")
	fs.Int64Var(&c.TotalRequests, "total-requests", c.TotalRequests, "Expected request volume, seeds the tip counter")
	fs.Func("test-type", "Test type label (sequential, concurrent, batch)", func(s string) error {
		c.TestType = types.TestType(s)
		return nil
	})
	fs.BoolVar(&c.TipRandom, "tip-random", c.TipRandom, "Draw random tips instead of decremental ones")
	fs.DurationVar(&c.BatchWait, "batch-wait", c.BatchWait, "Pause between load generator batches")

	fs.StringVar(&c.LedgerNode, "node", c.LedgerNode, "Ledger node profile ("+strings.Join(execnode.DefaultRegistry().Names(), ", ")+")")
	fs.StringVar(&c.RPCURL, "rpc", c.RPCURL, "Ledger JSON-RPC URL")
	fs.StringVar(&c.WSURL, "ws", c.WSURL, "Ledger websocket URL (default derived from -rpc)")
	fs.Int64Var(&c.ChainID, "chainid", c.ChainID, "Chain ID (0 = query the node)")
	fs.StringVar(&c.ContractAddress, "contract", c.ContractAddress, "AccessControl contract address")
	fs.StringVar(&c.ContractABIPath, "abi", c.ContractABIPath, "AccessControl ABI file (empty = built-in)")
	fs.StringVar(&c.DevSignerKey, "dev-key", c.DevSignerKey, "Dev signer private key (default: first test account)")

	fs.Func("funding", "Funding for new accounts in wei", func(s string) error {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return fmt.Errorf("invalid wei amount %q", s)
		}
		c.FundingAmountWei = v
		return nil
	})
	fs.DurationVar(&c.FundingSettleDelay, "settle-delay", c.FundingSettleDelay, "Wait after funding a new account")
	fs.Uint64Var(&c.CallGasLimit, "gas-limit", c.CallGasLimit, "Gas limit of contract calls")
	fs.Uint64Var(&c.DynamicGasLimit, "dynamic-gas-limit", c.DynamicGasLimit, "Gas limit of the dynamic gas route")
	fs.Func("tip-unit", "Wei per tip unit", func(s string) error {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return fmt.Errorf("invalid wei amount %q", s)
		}
		c.TipUnitWei = v
		return nil
	})
	fs.BoolVar(&c.UseLegacyTx, "legacy", c.UseLegacyTx, "Send legacy transactions")
	fs.DurationVar(&c.FinalityTimeout, "finality-timeout", c.FinalityTimeout, "Bound on the wait for finality (0 = none)")
	fs.StringVar(&c.FinalityTag, "finality-tag", c.FinalityTag, "Block tag treated as final (finalized, safe, latest)")
	fs.Uint64Var(&c.Confirmations, "confirmations", c.Confirmations, "Confirmations when the node lacks the finality tag")
	fs.DurationVar(&c.PollInterval, "poll", c.PollInterval, "Receipt poll interval")
	fs.DurationVar(&c.TxCounterReset, "counter-reset", c.TxCounterReset, "Idle time that resets the transaction counter")

	fs.StringVar(&c.DatabasePath, "database", c.DatabasePath, "SQLite database path (empty disables storage)")
	fs.StringVar(&c.LogDir, "log-dir", c.LogDir, "Performance log directory")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.TotalRequests < 0 {
		return fmt.Errorf("total requests cannot be negative")
	}
	if _, err := ParseTestType(string(c.TestType)); err != nil {
		return err
	}
	if c.Node() == nil {
		return fmt.Errorf("unknown ledger node: %s (supported: %s)", c.LedgerNode, strings.Join(execnode.DefaultRegistry().Names(), ", "))
	}
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL is required")
	}
	if c.ChainID < 0 {
		return fmt.Errorf("chain ID cannot be negative")
	}
	if c.ContractAddress == "" {
		return fmt.Errorf("contract address is required")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("invalid contract address: %s", c.ContractAddress)
	}
	if c.DevSignerKey != "" {
		if _, err := account.NewAccountFromHex(c.DevSignerKey); err != nil {
			return fmt.Errorf("invalid dev signer key: %w", err)
		}
	}
	if c.FundingAmountWei == nil || c.FundingAmountWei.Sign() < 0 {
		return fmt.Errorf("funding amount cannot be negative")
	}
	if c.TipUnitWei == nil || c.TipUnitWei.Sign() <= 0 {
		return fmt.Errorf("tip unit must be positive")
	}
	if c.CallGasLimit == 0 || c.DynamicGasLimit == 0 {
		return fmt.Errorf("gas limit must be positive")
	}
	if c.FinalityTimeout < 0 || c.FundingSettleDelay < 0 || c.BatchWait < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	switch c.FinalityTag {
	case ledger.TagFinalized, ledger.TagSafe, ledger.TagLatest:
	default:
		return fmt.Errorf("invalid finality tag: %s", c.FinalityTag)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ListenAddr returns the host:port to listen on.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TipPolicy returns the configured tip policy.
func (c *Config) TipPolicy() coordinator.TipPolicy {
	if c.TipRandom {
		return coordinator.TipRandom
	}
	return coordinator.TipDecremental
}

// Contract returns the parsed contract address.
func (c *Config) Contract() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// DevSigner returns the funder and registrar account.
func (c *Config) DevSigner() (*account.Account, error) {
	if c.DevSignerKey == "" {
		return account.DevAccount(), nil
	}
	return account.NewAccountFromHex(c.DevSignerKey)
}

// AllowedOrigins splits AllowedOrigin. Empty means every origin.
func (c *Config) AllowedOrigins() []string {
	if c.AllowedOrigin == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// ParseTestType validates a test type label.
func ParseTestType(s string) (types.TestType, error) {
	switch t := types.TestType(s); t {
	case types.TestSequential, types.TestConcurrent, types.TestBatch:
		return t, nil
	default:
		return "", fmt.Errorf("invalid test type: %s (supported: sequential, concurrent, batch)", s)
	}
}

// ParseLogLevel maps a level name to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.New("invalid log level: " + s)
	}
	return level, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envUint64(key string, dst *uint64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envBig(key string, dst **big.Int) {
	if v := os.Getenv(key); v != "" {
		if n, ok := new(big.Int).SetString(v, 10); ok {
			*dst = n
		}
	}
}

// envDuration accepts Go durations ("6s") or plain seconds ("6").
func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	envSeconds(key, dst)
}

func envSeconds(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if s, err := strconv.ParseFloat(v, 64); err == nil && s >= 0 {
			*dst = time.Duration(s * float64(time.Second))
		}
	}
}
