package facade

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/accessledger/internal/storage"
	"github.com/gateway-fm/accessledger/internal/submitter"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// Transaction routes

// AssignRole changes the role of a registered account.
func (s *Service) AssignRole(ctx context.Context, req types.AssignRoleRequest) (*submitter.Result, error) {
	addr, err := ParseAddress("address", req.Address)
	if err != nil {
		return nil, err
	}
	call, err := s.contract.AssignRole(addr, req.Role, s.gasLimit)
	if err != nil {
		return nil, err
	}
	return s.transact(ctx, call)
}

// RequestAccess records that requester wants access to target's data.
func (s *Service) RequestAccess(ctx context.Context, req types.AccessRequest) (*submitter.Result, error) {
	requester, err := ParseAddress("requester", req.Requester)
	if err != nil {
		return nil, err
	}
	target, err := ParseAddress("target", req.Target)
	if err != nil {
		return nil, err
	}
	call, err := s.contract.RequestAccess(requester, target, s.gasLimit)
	if err != nil {
		return nil, err
	}
	return s.transact(ctx, call)
}

// GrantPermission delegates granter's data to grantee.
func (s *Service) GrantPermission(ctx context.Context, req types.PermissionRequest) (*submitter.Result, error) {
	granter, grantee, err := parsePair(req)
	if err != nil {
		return nil, err
	}
	call, err := s.contract.GrantPermission(granter, grantee, s.gasLimit)
	if err != nil {
		return nil, err
	}
	return s.transact(ctx, call)
}

// RevokePermission removes a delegation.
func (s *Service) RevokePermission(ctx context.Context, req types.PermissionRequest) (*submitter.Result, error) {
	granter, grantee, err := parsePair(req)
	if err != nil {
		return nil, err
	}
	call, err := s.contract.RevokePermission(granter, grantee, s.gasLimit)
	if err != nil {
		return nil, err
	}
	return s.transact(ctx, call)
}

func parsePair(req types.PermissionRequest) (granter, grantee common.Address, err error) {
	if granter, err = ParseAddress("granter", req.Granter); err != nil {
		return
	}
	grantee, err = ParseAddress("grantee", req.Grantee)
	return
}

// transact submits call from the dev signer and requires a successful finalized result.
func (s *Service) transact(ctx context.Context, call submitter.Call) (*submitter.Result, error) {
	res, err := s.submitter.Submit(ctx, call, s.dev)
	if err != nil {
		return nil, err
	}
	if err := failure(call.Label, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Queries

// GetAccounts returns the addresses registered for dni.
func (s *Service) GetAccounts(ctx context.Context, dni string) ([]common.Address, error) {
	accounts, err := s.contract.GetAccounts(ctx, dni)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, &types.NotFoundError{Kind: "accounts", Key: "dni " + dni}
	}
	return accounts, nil
}

// GetRole returns the role of addr.
func (s *Service) GetRole(ctx context.Context, addr common.Address) (uint8, error) {
	role, found, err := s.contract.GetRole(ctx, addr)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, &types.NotFoundError{Kind: "role", Key: addr.Hex()}
	}
	return role, nil
}

// HasPermission reports whether granter delegated to grantee.
// Identical addresses are passed to the contract unchanged and its answer is returned as is.
func (s *Service) HasPermission(ctx context.Context, granter, grantee common.Address) (bool, error) {
	return s.contract.HasPermission(ctx, granter, grantee)
}

// GetUserInfo returns the identity payload stored for addr.
func (s *Service) GetUserInfo(ctx context.Context, addr common.Address) (types.UserInfo, error) {
	info, found, err := s.contract.GetUserInfo(ctx, addr)
	if err != nil {
		return types.UserInfo{}, err
	}
	if !found {
		return types.UserInfo{}, &types.NotFoundError{Kind: "user", Key: addr.Hex()}
	}
	return info, nil
}

// UserExists reports whether addr is registered.
func (s *Service) UserExists(ctx context.Context, addr common.Address) (bool, error) {
	return s.contract.UserExists(ctx, addr)
}

// GetAccessRequests lists the targets requester asked for.
func (s *Service) GetAccessRequests(ctx context.Context, requester common.Address) ([]common.Address, error) {
	return s.contract.GetAccessRequests(ctx, requester)
}

// GetGrantedPermissions lists the grantees of granter.
func (s *Service) GetGrantedPermissions(ctx context.Context, granter common.Address) ([]common.Address, error) {
	return s.contract.GetGrantedPermissions(ctx, granter)
}

// Registry and history

// RegisteredAccount returns the registry entry saved when addr was created through the facade.
func (s *Service) RegisteredAccount(ctx context.Context, addr common.Address) (*storage.AccountRecord, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}
	acct, err := s.store.GetAccount(ctx, addr.Hex())
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if acct == nil {
		return nil, &types.NotFoundError{Kind: "registered account", Key: addr.Hex()}
	}
	return acct, nil
}

// RegisteredAccountsByDni lists the registry entries for dni.
func (s *Service) RegisteredAccountsByDni(ctx context.Context, dni string) ([]storage.AccountRecord, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}
	accounts, err := s.store.ListAccountsByDni(ctx, dni)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	if accounts == nil {
		accounts = []storage.AccountRecord{}
	}
	return accounts, nil
}

// Performance returns a page of stored performance records.
func (s *Service) Performance(ctx context.Context, filter storage.RecordFilter, limit, offset int) (*storage.PaginatedRecords, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}
	page, err := s.store.ListPerformanceRecords(ctx, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list performance records: %w", err)
	}
	return page, nil
}
