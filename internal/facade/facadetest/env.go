// Package facadetest wires a facade Service over the in-memory ledger and contract.
package facadetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gateway-fm/accessledger/internal/account"
	"github.com/gateway-fm/accessledger/internal/contract"
	"github.com/gateway-fm/accessledger/internal/contract/contracttest"
	"github.com/gateway-fm/accessledger/internal/coordinator"
	"github.com/gateway-fm/accessledger/internal/facade"
	"github.com/gateway-fm/accessledger/internal/ledger/ledgertest"
	"github.com/gateway-fm/accessledger/internal/storage"
	"github.com/gateway-fm/accessledger/internal/submitter"
)

// Env is a ready facade and the fakes behind it.
type Env struct {
	Ledger      *ledgertest.Fake
	Contract    *contracttest.AccessControl
	Coordinator *coordinator.Coordinator
	Submitter   *submitter.Submitter
	Store       *storage.SQLiteStorage
	Service     *facade.Service
}

// Options adjusts the environment before the service is built.
type Options struct {
	TotalTx     int64
	SettleDelay time.Duration
	NoStorage   bool
	Recorder    submitter.Recorder
	Mutate      func(*facade.Config)
}

// New builds an Env. Storage lives in t.TempDir and is closed on cleanup.
func New(t testing.TB, opts Options) *Env {
	t.Helper()

	if opts.TotalTx == 0 {
		opts.TotalTx = 100
	}
	fake := ledgertest.New()
	sim := contracttest.Deploy(fake)
	coord := coordinator.New(coordinator.Config{TotalTx: opts.TotalTx}, fake)

	sub, err := submitter.New(context.Background(), submitter.Config{
		Ledger:          fake,
		Coordinator:     coord,
		FinalityTimeout: 10 * time.Second,
		Recorder:        opts.Recorder,
	})
	if err != nil {
		t.Fatalf("submitter.New() error = %v", err)
	}

	dev := account.DevAccount()
	env := &Env{Ledger: fake, Contract: sim, Coordinator: coord, Submitter: sub}

	cfg := facade.Config{
		Contract:    contract.New(contract.MustDefaultABI(), contracttest.Address, fake, dev.Address),
		Submitter:   sub,
		Coordinator: coord,
		DevSigner:   dev,
		SettleDelay: opts.SettleDelay,
	}
	if !opts.NoStorage {
		store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "facade.db"))
		if err != nil {
			t.Fatalf("storage.NewSQLiteStorage() error = %v", err)
		}
		t.Cleanup(func() { store.Close() })
		env.Store = store
		cfg.Storage = store
	}
	if opts.Mutate != nil {
		opts.Mutate(&cfg)
	}

	svc, err := facade.New(cfg)
	if err != nil {
		t.Fatalf("facade.New() error = %v", err)
	}
	env.Service = svc
	return env
}
