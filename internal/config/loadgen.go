package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/gateway-fm/accessledger/pkg/types"
)

// LoadGenConfig holds the load generator settings.
type LoadGenConfig struct {
	Host          string
	Port          int
	Route         string
	Mode          types.TestType
	TotalRequests int
	BatchSize     int
	BatchWait     time.Duration
	Concurrency   int     // 0 = unbounded
	Rate          float64 // requests per second, 0 = unpaced
	AccountIDs    string  // file collecting created addresses
	VerifyRoles   bool
	Timeout       time.Duration // per request
	LogLevel      string
}

// Load generator defaults.
const (
	DefaultRoute       = "/create_user"
	DefaultBatchSize   = 10
	DefaultAccountIDs  = "account_ids.txt"
	DefaultLoadTimeout = 5 * time.Minute
	MaxLoadRequests    = 1000000
	MaxLoadConcurrency = 10000
)

// LoadLoadGen reads the load generator configuration from env and args.
func LoadLoadGen(args []string) (*LoadGenConfig, error) {
	cfg := &LoadGenConfig{
		Host:          DefaultHost,
		Port:          DefaultPort,
		Route:         DefaultRoute,
		Mode:          DefaultTestType,
		TotalRequests: DefaultTotalRequests,
		BatchSize:     DefaultBatchSize,
		AccountIDs:    DefaultAccountIDs,
		Timeout:       DefaultLoadTimeout,
		LogLevel:      DefaultLogLevel,
	}

	envString("HOST", &cfg.Host)
	envInt("PORT", &cfg.Port)
	envInt("TOTAL_REQUESTS", &cfg.TotalRequests)
	if v := os.Getenv("TEST_TYPE"); v != "" {
		cfg.Mode = types.TestType(v)
	}
	envSeconds("BATCH_WAIT_TIME", &cfg.BatchWait)
	envString("LOG_LEVEL", &cfg.LogLevel)

	fs := flag.NewFlagSet("loadgen", flag.ContinueOnError)
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Facade host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Facade port")
	fs.StringVar(&cfg.Route, "route", cfg.Route, "Route to load")
	fs.Func("mode", "Dispatch mode (sequential, concurrent, batch)", func(s string) error {
		cfg.Mode = types.TestType(s)
		return nil
	})
	fs.IntVar(&cfg.TotalRequests, "total-requests", cfg.TotalRequests, "Number of requests")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Requests per batch")
	fs.DurationVar(&cfg.BatchWait, "batch-wait", cfg.BatchWait, "Pause between batches")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Max in-flight requests in concurrent mode (0 = unbounded)")
	fs.Float64Var(&cfg.Rate, "rate", cfg.Rate, "Request starts per second (0 = unpaced)")
	fs.StringVar(&cfg.AccountIDs, "account-ids", cfg.AccountIDs, "File receiving created account addresses")
	fs.BoolVar(&cfg.VerifyRoles, "verify-roles", cfg.VerifyRoles, "Query the role of every created account after the run")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per request timeout")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the load generator configuration.
func (c *LoadGenConfig) Validate() error {
	if _, err := ParseTestType(string(c.Mode)); err != nil {
		return err
	}
	if c.TotalRequests <= 0 || c.TotalRequests > MaxLoadRequests {
		return fmt.Errorf("total requests must be between 1 and %d", MaxLoadRequests)
	}
	if c.Mode == types.TestBatch && c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Concurrency < 0 || c.Concurrency > MaxLoadConcurrency {
		return fmt.Errorf("concurrency must be between 0 and %d", MaxLoadConcurrency)
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Route == "" || c.Route[0] != '/' {
		return fmt.Errorf("route must start with /")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// BaseURL returns the facade URL. A wildcard host targets localhost.
func (c *LoadGenConfig) BaseURL() string {
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Port))
}
