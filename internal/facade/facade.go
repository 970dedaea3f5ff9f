// Package facade orchestrates identity creation, contract registration and queries.
package facade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/accessledger/internal/account"
	"github.com/gateway-fm/accessledger/internal/contract"
	"github.com/gateway-fm/accessledger/internal/coordinator"
	"github.com/gateway-fm/accessledger/internal/perflog"
	"github.com/gateway-fm/accessledger/internal/storage"
	"github.com/gateway-fm/accessledger/internal/submitter"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// Defaults.
const (
	DefaultSettleDelay     = 6 * time.Second
	DefaultCallGasLimit    = 500000
	DefaultDynamicGasLimit = 1000000
	// TransferGasLimit covers a plain value transfer to an externally owned account.
	TransferGasLimit = 21000
)

// DefaultFundingAmount is 0.01 ether.
var DefaultFundingAmount = big.NewInt(10_000_000_000_000_000)

// ErrStorageDisabled is returned by registry and history queries when no database is configured.
var ErrStorageDisabled = errors.New("storage is disabled")

// Config configures a Service.
type Config struct {
	Contract    *contract.AccessControl
	Submitter   *submitter.Submitter
	Coordinator *coordinator.Coordinator
	Factory     *account.Factory
	// DevSigner funds new identities and signs every contract call.
	DevSigner *account.Account
	// Storage is optional. Nil disables the account registry and record history.
	Storage storage.Storage

	FundingAmount   *big.Int
	SettleDelay     time.Duration
	CallGasLimit    uint64
	DynamicGasLimit uint64
	Logger          *slog.Logger
}

// Service implements the facade operations.
type Service struct {
	contract    *contract.AccessControl
	submitter   *submitter.Submitter
	coord       *coordinator.Coordinator
	factory     *account.Factory
	dev         *account.Account
	store       storage.Storage
	funding     *big.Int
	settleDelay time.Duration
	gasLimit    uint64
	dynamicGas  uint64
	logger      *slog.Logger
}

// Registration is the outcome of a successful create_user variant.
type Registration struct {
	Address  common.Address
	Mnemonic string
	Funding  *submitter.Result
	Result   *submitter.Result
	// TransactionCount is the process transaction counter, set by the dynamic gas route.
	TransactionCount int64
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Contract == nil || cfg.Submitter == nil || cfg.Coordinator == nil {
		return nil, errors.New("facade: contract, submitter and coordinator are required")
	}
	factory := cfg.Factory
	if factory == nil {
		f, err := account.NewFactory("")
		if err != nil {
			return nil, err
		}
		factory = f
	}
	dev := cfg.DevSigner
	if dev == nil {
		dev = account.DevAccount()
	}
	funding := cfg.FundingAmount
	if funding == nil {
		funding = DefaultFundingAmount
	}
	gasLimit := cfg.CallGasLimit
	if gasLimit == 0 {
		gasLimit = DefaultCallGasLimit
	}
	dynamicGas := cfg.DynamicGasLimit
	if dynamicGas == 0 {
		dynamicGas = DefaultDynamicGasLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		contract:    cfg.Contract,
		submitter:   cfg.Submitter,
		coord:       cfg.Coordinator,
		factory:     factory,
		dev:         dev,
		store:       cfg.Storage,
		funding:     funding,
		settleDelay: cfg.SettleDelay,
		gasLimit:    gasLimit,
		dynamicGas:  dynamicGas,
		logger:      logger,
	}, nil
}

// DevAddress returns the well-known signer address.
func (s *Service) DevAddress() common.Address {
	return s.dev.Address
}

// CreateUser registers a freshly generated identity.
func (s *Service) CreateUser(ctx context.Context, req types.CreateUserRequest) (*Registration, error) {
	if err := validateUser(req); err != nil {
		return nil, err
	}
	id, err := s.factory.Create("")
	if err != nil {
		return nil, err
	}
	return s.register(ctx, id.Address, id.Mnemonic, req, true, s.gasLimit)
}

// CreateUserFromMnemonic registers the identity derived from a caller-supplied phrase.
func (s *Service) CreateUserFromMnemonic(ctx context.Context, req types.CreateUserWithMnemonicRequest) (*Registration, error) {
	if strings.TrimSpace(req.Mnemonic) == "" {
		return nil, &types.InvalidSeedError{Err: errors.New("mnemonic is required")}
	}
	if err := validateUser(req.CreateUserRequest); err != nil {
		return nil, err
	}
	id, err := s.factory.Create(req.Mnemonic)
	if err != nil {
		return nil, err
	}
	return s.register(ctx, id.Address, id.Mnemonic, req.CreateUserRequest, true, s.gasLimit)
}

// CreateUserWithAddress registers an externally held address.
func (s *Service) CreateUserWithAddress(ctx context.Context, req types.CreateUserWithAddressRequest) (*Registration, error) {
	addr, err := ParseAddress("address", req.Address)
	if err != nil {
		return nil, err
	}
	if err := validateUser(req.CreateUserRequest); err != nil {
		return nil, err
	}
	return s.register(ctx, addr, "", req.CreateUserRequest, true, s.gasLimit)
}

// CreateUserDynamicGas registers a new identity without the settle delay under the dynamic gas ceiling.
func (s *Service) CreateUserDynamicGas(ctx context.Context, req types.CreateUserRequest) (*Registration, error) {
	if err := validateUser(req); err != nil {
		return nil, err
	}
	count := s.coord.RecordTransaction()
	perflog.FromContext(ctx).RecordTransactionCount(count)

	id, err := s.factory.Create("")
	if err != nil {
		return nil, err
	}
	reg, err := s.register(ctx, id.Address, id.Mnemonic, req, false, s.dynamicGas)
	if err != nil {
		return nil, err
	}
	reg.TransactionCount = count
	return reg, nil
}

// register funds target, optionally waits for the transfer to settle, then submits addUser.
func (s *Service) register(ctx context.Context, target common.Address, mnemonic string, req types.CreateUserRequest, settle bool, gasLimit uint64) (*Registration, error) {
	logger := s.logger.With(slog.String("account", target.Hex()), slog.String("dni", req.Dni))

	funding, err := s.submitter.Submit(ctx, submitter.Call{
		Label:    "fund",
		To:       target,
		Value:    s.funding,
		GasLimit: TransferGasLimit,
	}, s.dev)
	if err != nil {
		return nil, fmt.Errorf("fund account: %w", err)
	}
	if err := failure("fund", funding); err != nil {
		return nil, err
	}
	logger.Debug("account funded", slog.String("tx", funding.TxHash.Hex()))

	if settle && s.settleDelay > 0 {
		if err := sleep(ctx, s.settleDelay); err != nil {
			return nil, &types.ChainSubmissionError{Op: contract.MethodAddUser, Err: err}
		}
	}

	call, err := s.contract.AddUser(target, req.UserInfo, req.Role, gasLimit)
	if err != nil {
		return nil, err
	}
	annotation := perflog.FromContext(ctx)
	res, err := s.submitter.Submit(submitter.WithTipObserver(ctx, annotation.RecordTip), call, s.dev)
	if err != nil {
		return nil, err
	}
	annotation.RecordSubmission(res.RefTime, res.ProofSize, res.Tip, res.Success)
	if err := failure(contract.MethodAddUser, res); err != nil {
		return nil, err
	}

	logger.Info("user registered",
		slog.String("tx", res.TxHash.Hex()),
		slog.Int("role", int(req.Role)),
		slog.Any("events", s.contract.EventNames(res.Events)),
	)
	s.saveAccount(ctx, target, req, res)

	return &Registration{Address: target, Mnemonic: mnemonic, Funding: funding, Result: res}, nil
}

func (s *Service) saveAccount(ctx context.Context, addr common.Address, req types.CreateUserRequest, res *submitter.Result) {
	if s.store == nil {
		return
	}
	err := s.store.SaveAccount(context.WithoutCancel(ctx), &storage.AccountRecord{
		Address: addr.Hex(),
		Dni:     req.Dni,
		Role:    req.Role,
		TxHash:  res.TxHash.Hex(),
	})
	if err != nil {
		s.logger.Warn("failed to save account", slog.String("account", addr.Hex()), slog.String("error", err.Error()))
	}
}

// failure converts a finalized but unsuccessful result into a submission error.
func failure(op string, res *submitter.Result) error {
	if res.Success {
		return nil
	}
	var cause error = errors.New("no success event in finalized block")
	if res.DispatchError != nil {
		cause = res.DispatchError
	}
	return &types.ChainSubmissionError{Op: op, TxHash: res.TxHash.Hex(), Err: cause}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func validateUser(req types.CreateUserRequest) error {
	fields := []struct {
		name, value string
	}{
		{"name", req.Name},
		{"lastname", req.Lastname},
		{"dni", req.Dni},
		{"email", req.Email},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &types.InvalidInputError{Field: f.name, Msg: "is required"}
		}
	}
	return nil
}

// ParseAddress validates a hex account address.
func ParseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, &types.InvalidInputError{Field: field, Msg: fmt.Sprintf("invalid address %q", s)}
	}
	return common.HexToAddress(s), nil
}
