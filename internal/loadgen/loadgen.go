// Package loadgen drives a configurable stream of create_user requests at the facade.
package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/accessledger/internal/config"
	"github.com/gateway-fm/accessledger/internal/metrics"
	"github.com/gateway-fm/accessledger/internal/pattern"
	"github.com/gateway-fm/accessledger/internal/ratelimit"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// accountHeader carries the registered address on creation routes.
const accountHeader = "X-Account-Address"

// verifyConcurrency bounds the role lookups after a run.
const verifyConcurrency = 8

// Generator runs one load test.
type Generator struct {
	cfg     *config.LoadGenConfig
	client  *http.Client
	baseURL string
	data    *DataSource
	mode    pattern.Mode
	logger  *slog.Logger

	groupID string
	latency *metrics.StreamingLatencyStats

	succeeded atomic.Int64
	failed    atomic.Int64

	accountsMu sync.Mutex
	accounts   []string
	accountOut io.Writer
}

// Options overrides the generator's collaborators.
type Options struct {
	// Client defaults to an http.Client with cfg.Timeout.
	Client *http.Client
	// BaseURL defaults to cfg.BaseURL().
	BaseURL string
	// Data defaults to a randomly seeded source.
	Data *DataSource
	// Accounts receives one created address per line. Defaults to cfg.AccountIDs.
	Accounts io.Writer
	Logger   *slog.Logger
}

// New creates a Generator.
func New(cfg *config.LoadGenConfig, opts Options) (*Generator, error) {
	mode, err := pattern.NewRegistry().Get(cfg.Mode, pattern.Config{
		Concurrency: cfg.Concurrency,
		BatchSize:   cfg.BatchSize,
		BatchWait:   cfg.BatchWait,
		Limiter:     ratelimit.New(cfg.Rate),
	})
	if err != nil {
		return nil, err
	}

	g := &Generator{
		cfg:        cfg,
		client:     opts.Client,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		data:       opts.Data,
		mode:       mode,
		logger:     opts.Logger,
		groupID:    uuid.NewString(),
		latency:    metrics.NewStreamingLatencyStats(),
		accountOut: opts.Accounts,
	}
	if g.client == nil {
		g.client = &http.Client{Timeout: cfg.Timeout}
	}
	if g.baseURL == "" {
		g.baseURL = cfg.BaseURL()
	}
	if g.data == nil {
		g.data = NewDataSource(0)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g, nil
}

// GroupID returns the uuid tagging every request of this run.
func (g *Generator) GroupID() string {
	return g.groupID
}

// Accounts returns the addresses created so far.
func (g *Generator) Accounts() []string {
	g.accountsMu.Lock()
	defer g.accountsMu.Unlock()
	return append([]string(nil), g.accounts...)
}

// Run sends the configured requests and returns the summary.
// Individual request failures are counted, never returned.
func (g *Generator) Run(ctx context.Context) (*types.LoadSummary, error) {
	if g.accountOut == nil && g.cfg.AccountIDs != "" {
		f, err := os.OpenFile(g.cfg.AccountIDs, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open account ids file: %w", err)
		}
		defer f.Close()
		g.accountOut = f
	}

	g.logger.Info("load test starting",
		slog.String("groupID", g.groupID),
		slog.String("mode", string(g.cfg.Mode)),
		slog.String("route", g.cfg.Route),
		slog.Int("requests", g.cfg.TotalRequests),
		slog.String("target", g.baseURL),
	)

	start := time.Now()
	err := g.mode.Run(ctx, g.cfg.TotalRequests, g.fire)
	elapsed := time.Since(start)

	summary := &types.LoadSummary{
		GroupID:    g.groupID,
		Mode:       g.cfg.Mode,
		Route:      g.cfg.Route,
		Requested:  g.cfg.TotalRequests,
		Succeeded:  int(g.succeeded.Load()),
		Failed:     int(g.failed.Load()),
		DurationMs: elapsed.Milliseconds(),
		Latency:    g.latency.GetStats(),
	}

	if err == nil && g.cfg.VerifyRoles {
		summary.RolesVerified, summary.RolesMissing, err = g.verifyRoles(ctx)
	}
	return summary, err
}

// fire sends request n. It only fails when ctx is done.
func (g *Generator) fire(ctx context.Context, n int) error {
	req := g.data.Tagged(n, g.cfg.TotalRequests, g.groupID, g.cfg.Mode)

	start := time.Now()
	addr, err := g.send(ctx, req)
	g.latency.Add(float64(time.Since(start).Milliseconds()))

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g.failed.Add(1)
		g.logger.Warn("request failed",
			slog.Int("requestNumber", n),
			slog.String("dni", req.Dni),
			slog.String("error", err.Error()),
		)
		return nil
	}

	g.succeeded.Add(1)
	if addr != "" {
		if err := g.recordAccount(addr); err != nil {
			g.logger.Warn("failed to record account", slog.String("address", addr), slog.String("error", err.Error()))
		}
	}
	g.logger.Debug("request succeeded", slog.Int("requestNumber", n), slog.String("address", addr))
	return nil
}

// send posts req and returns the created address.
func (g *Generator) send(ctx context.Context, req types.CreateUserRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+g.cfg.Route, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Header.Get(accountHeader), nil
}

func (g *Generator) recordAccount(addr string) error {
	g.accountsMu.Lock()
	defer g.accountsMu.Unlock()

	g.accounts = append(g.accounts, addr)
	if g.accountOut == nil {
		return nil
	}
	_, err := io.WriteString(g.accountOut, addr+"\n")
	return err
}

// verifyRoles queries /role for every created account.
func (g *Generator) verifyRoles(ctx context.Context) (verified, missing int, err error) {
	var found, absent atomic.Int64

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(verifyConcurrency)
	for _, addr := range g.Accounts() {
		eg.Go(func() error {
			ok, err := g.hasRole(ectx, addr)
			if err != nil {
				if ectx.Err() != nil {
					return ectx.Err()
				}
				g.logger.Warn("role lookup failed", slog.String("address", addr), slog.String("error", err.Error()))
			}
			if ok {
				found.Add(1)
			} else {
				absent.Add(1)
			}
			return nil
		})
	}
	err = eg.Wait()
	return int(found.Load()), int(absent.Load()), err
}

func (g *Generator) hasRole(ctx context.Context, addr string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/role/"+addr, nil)
	if err != nil {
		return false, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
}

// LogSummary writes the run summary through logger.
func LogSummary(logger *slog.Logger, s *types.LoadSummary) {
	attrs := []any{
		slog.String("groupID", s.GroupID),
		slog.String("mode", string(s.Mode)),
		slog.Int("requested", s.Requested),
		slog.Int("succeeded", s.Succeeded),
		slog.Int("failed", s.Failed),
		slog.Int64("durationMs", s.DurationMs),
	}
	if s.Latency != nil {
		attrs = append(attrs,
			slog.Float64("avgMs", s.Latency.Avg),
			slog.Float64("p50Ms", s.Latency.P50),
			slog.Float64("p95Ms", s.Latency.P95),
			slog.Float64("p99Ms", s.Latency.P99),
			slog.Float64("maxMs", s.Latency.Max),
		)
	}
	if s.RolesVerified+s.RolesMissing > 0 {
		attrs = append(attrs, slog.Int("rolesVerified", s.RolesVerified), slog.Int("rolesMissing", s.RolesMissing))
	}
	logger.Info("load test completed", attrs...)
}
