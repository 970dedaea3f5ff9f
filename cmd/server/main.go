// Access ledger facade server.
// Registers identities and access grants on an EVM ledger over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gateway-fm/accessledger/internal/account"
	"github.com/gateway-fm/accessledger/internal/config"
	"github.com/gateway-fm/accessledger/internal/contract"
	"github.com/gateway-fm/accessledger/internal/coordinator"
	"github.com/gateway-fm/accessledger/internal/facade"
	"github.com/gateway-fm/accessledger/internal/ledger"
	"github.com/gateway-fm/accessledger/internal/metrics"
	"github.com/gateway-fm/accessledger/internal/perflog"
	"github.com/gateway-fm/accessledger/internal/rpc"
	"github.com/gateway-fm/accessledger/internal/storage"
	"github.com/gateway-fm/accessledger/internal/submitter"
	"github.com/gateway-fm/accessledger/internal/transport"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// contractWaitTimeout bounds the startup wait for contract code.
const contractWaitTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		var initErr *types.InitializationError
		if errors.As(err, &initErr) {
			logger.Error("failed to initialize", "path", initErr.Path, "error", initErr.Err)
		} else {
			logger.Error("server failed", "error", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheusMetrics(reg)

	rpcCfg := rpc.DefaultClientConfig(cfg.RPCURL)
	rpcCfg.Logger = logger
	rpcCfg.Observer = m.ObserveRPC
	client := rpc.NewHTTPClient(rpcCfg)

	node := cfg.Node()
	logger.Info("resolved ledger node capabilities",
		"node", node.String(),
		"finalityTag", cfg.FinalityTag,
		"confirmations", cfg.Confirmations,
		"newHeads", node.SupportsNewHeads,
		"legacyTx", cfg.UseLegacyTx,
	)

	evmCfg := ledger.DefaultEVMConfig(client)
	if node.SupportsNewHeads {
		wsURL := cfg.WSURL
		if wsURL == "" {
			wsURL = ledger.WSURLFromHTTP(cfg.RPCURL)
		}
		heads := ledger.NewHeadWatcher(wsURL, logger)
		go heads.Run(ctx)
		go trackHeads(ctx, heads, m)
		evmCfg.Heads = heads
	}
	evmCfg.PollInterval = cfg.PollInterval
	evmCfg.FinalityTag = cfg.FinalityTag
	evmCfg.Confirmations = cfg.Confirmations
	evmCfg.Logger = logger
	chain := ledger.NewEVM(evmCfg)

	dev, err := cfg.DevSigner()
	if err != nil {
		return &types.InitializationError{Path: "dev signer", Err: err}
	}

	coord := coordinator.New(coordinator.Config{
		TipPolicy:    cfg.TipPolicy(),
		TotalTx:      cfg.TotalRequests,
		CounterReset: cfg.TxCounterReset,
	}, chain)

	subCfg := submitter.Config{
		Ledger:          chain,
		Coordinator:     coord,
		TipUnit:         cfg.TipUnitWei,
		UseLegacy:       cfg.UseLegacyTx,
		DefaultGasLimit: cfg.CallGasLimit,
		FinalityTimeout: cfg.FinalityTimeout,
		Recorder:        m,
		Logger:          logger,
	}
	if cfg.ChainID > 0 {
		subCfg.ChainID = big.NewInt(cfg.ChainID)
	}
	sub, err := submitter.New(ctx, subCfg)
	if err != nil {
		return &types.InitializationError{Path: cfg.RPCURL, Err: err}
	}

	parsed, err := contract.LoadABI(cfg.ContractABIPath)
	if err != nil {
		return err
	}
	ac := contract.New(parsed, cfg.Contract(), chain, dev.Address)
	if err := ac.WaitDeployed(ctx, contractWaitTimeout, logger); err != nil {
		return err
	}

	var store storage.Storage
	if cfg.DatabasePath != "" {
		sqlite, err := storage.NewSQLiteStorage(cfg.DatabasePath)
		if err != nil {
			return &types.InitializationError{Path: cfg.DatabasePath, Err: err}
		}
		defer sqlite.Close()
		store = sqlite
		logger.Info("initialized storage", "path", cfg.DatabasePath)
	}

	factory, err := account.NewFactory("")
	if err != nil {
		return &types.InitializationError{Path: "derivation path", Err: err}
	}

	svc, err := facade.New(facade.Config{
		Contract:        ac,
		Submitter:       sub,
		Coordinator:     coord,
		Factory:         factory,
		DevSigner:       dev,
		Storage:         store,
		FundingAmount:   cfg.FundingAmountWei,
		SettleDelay:     cfg.FundingSettleDelay,
		CallGasLimit:    cfg.CallGasLimit,
		DynamicGasLimit: cfg.DynamicGasLimit,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	srvCfg := transport.Config{
		API:            svc,
		Health:         transport.LedgerHealth{Ledger: chain, Contract: ac},
		Metrics:        m,
		Gatherer:       reg,
		AllowedOrigins: cfg.AllowedOrigins(),
		Logger:         logger,
	}
	if cfg.EnablePerf {
		hub := transport.NewRecordHub(cfg.AllowedOrigins(), m, logger)
		hub.Start()
		defer hub.Stop()

		sinks, closeSinks, err := perfSinks(cfg, store, hub)
		if err != nil {
			return err
		}
		defer closeSinks()

		srvCfg.Hub = hub
		srvCfg.Perf = perflog.New(perflog.Config{Sinks: sinks, Errors: m, Logger: logger})
		logger.Info("performance monitoring enabled", "logDir", cfg.LogDir, "sinks", len(sinks))
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           transport.NewServer(srvCfg).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server",
			"addr", server.Addr,
			"contract", ac.Address().Hex(),
			"chainId", sub.ChainID().String(),
			"tipPolicy", cfg.TipPolicy().String(),
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// perfSinks opens the record sinks. The returned func closes the file sinks.
func perfSinks(cfg *config.Config, store storage.Storage, hub *transport.RecordHub) ([]perflog.Sink, func(), error) {
	txt, err := perflog.NewTextSink(filepath.Join(cfg.LogDir, "performance_log.txt"))
	if err != nil {
		return nil, nil, &types.InitializationError{Path: cfg.LogDir, Err: err}
	}
	js, err := perflog.NewJSONSink(filepath.Join(cfg.LogDir, "performance_log.json"))
	if err != nil {
		txt.Close()
		return nil, nil, &types.InitializationError{Path: cfg.LogDir, Err: err}
	}

	sinks := []perflog.Sink{txt, js, perflog.NewBroadcastSink(hub)}
	if store != nil {
		sinks = append(sinks, perflog.NewStorageSink(store, 5*time.Second))
	}
	return sinks, func() {
		txt.Close()
		js.Close()
	}, nil
}

func trackHeads(ctx context.Context, heads *ledger.HeadWatcher, m *metrics.PrometheusMetrics) {
	ch, unsubscribe := heads.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case h := <-ch:
			m.SetHead(h.Number)
		}
	}
}
