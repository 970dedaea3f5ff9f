package contract

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/accessledger/internal/ledger"
	"github.com/gateway-fm/accessledger/internal/submitter"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// AccessControl builds transactions for and queries a deployed AccessControl contract.
type AccessControl struct {
	abi     abi.ABI
	address common.Address
	ledger  ledger.Client
	// caller is the origin of read-only calls.
	caller common.Address
}

// New creates a contract client bound to address.
func New(parsed abi.ABI, address common.Address, client ledger.Client, caller common.Address) *AccessControl {
	return &AccessControl{
		abi:     parsed,
		address: address,
		ledger:  client,
		caller:  caller,
	}
}

// Address returns the contract address.
func (c *AccessControl) Address() common.Address {
	return c.address
}

// ABI returns the parsed contract ABI.
func (c *AccessControl) ABI() abi.ABI {
	return c.abi
}

func (c *AccessControl) call(method string, gasLimit uint64, args ...any) (submitter.Call, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return submitter.Call{}, fmt.Errorf("pack %s: %w", method, err)
	}
	return submitter.Call{
		Label:    method,
		To:       c.address,
		Data:     data,
		GasLimit: gasLimit,
	}, nil
}

// AddUser builds addUser(account, info, role).
func (c *AccessControl) AddUser(account common.Address, info types.UserInfo, role uint8, gasLimit uint64) (submitter.Call, error) {
	return c.call(MethodAddUser, gasLimit, account, info, role)
}

// AssignRole builds assignRole(account, role).
func (c *AccessControl) AssignRole(account common.Address, role uint8, gasLimit uint64) (submitter.Call, error) {
	return c.call(MethodAssignRole, gasLimit, account, role)
}

// RequestAccess builds requestAccess(requester, target).
func (c *AccessControl) RequestAccess(requester, target common.Address, gasLimit uint64) (submitter.Call, error) {
	return c.call(MethodRequestAccess, gasLimit, requester, target)
}

// GrantPermission builds grantPermission(granter, grantee).
func (c *AccessControl) GrantPermission(granter, grantee common.Address, gasLimit uint64) (submitter.Call, error) {
	return c.call(MethodGrantPermission, gasLimit, granter, grantee)
}

// RevokePermission builds revokePermission(granter, grantee).
func (c *AccessControl) RevokePermission(granter, grantee common.Address, gasLimit uint64) (submitter.Call, error) {
	return c.call(MethodRevokePermission, gasLimit, granter, grantee)
}

// query runs a read-only call and returns the unpacked outputs.
func (c *AccessControl) query(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, &types.ChainQueryError{Method: method, Err: fmt.Errorf("pack: %w", err)}
	}

	out, err := c.ledger.Call(ctx, c.caller, c.address, data)
	if err != nil {
		return nil, &types.ChainQueryError{Method: method, Err: err}
	}

	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, &types.ChainQueryError{Method: method, Err: fmt.Errorf("unpack: %w", err)}
	}
	if len(values) != len(c.abi.Methods[method].Outputs) {
		return nil, &types.ChainQueryError{Method: method, Err: errors.New("invalid output format")}
	}
	return values, nil
}

func (c *AccessControl) queryAddresses(ctx context.Context, method string, arg any) ([]common.Address, error) {
	values, err := c.query(ctx, method, arg)
	if err != nil {
		return nil, err
	}
	addrs, ok := values[0].([]common.Address)
	if !ok {
		return nil, &types.ChainQueryError{Method: method, Err: fmt.Errorf("unexpected output type %T", values[0])}
	}
	return addrs, nil
}

func (c *AccessControl) queryBool(ctx context.Context, method string, args ...any) (bool, error) {
	values, err := c.query(ctx, method, args...)
	if err != nil {
		return false, err
	}
	v, ok := values[0].(bool)
	if !ok {
		return false, &types.ChainQueryError{Method: method, Err: fmt.Errorf("unexpected output type %T", values[0])}
	}
	return v, nil
}

// GetAccounts returns the accounts registered for dni.
func (c *AccessControl) GetAccounts(ctx context.Context, dni string) ([]common.Address, error) {
	return c.queryAddresses(ctx, MethodGetAccounts, dni)
}

// GetAccessRequests returns the targets requester asked access to.
func (c *AccessControl) GetAccessRequests(ctx context.Context, requester common.Address) ([]common.Address, error) {
	return c.queryAddresses(ctx, MethodGetAccessRequests, requester)
}

// GetGrantedPermissions returns the grantees of granter.
func (c *AccessControl) GetGrantedPermissions(ctx context.Context, granter common.Address) ([]common.Address, error) {
	return c.queryAddresses(ctx, MethodGetGrantedPermissions, granter)
}

// HasPermission reports whether granter granted grantee access.
func (c *AccessControl) HasPermission(ctx context.Context, granter, grantee common.Address) (bool, error) {
	return c.queryBool(ctx, MethodHasPermission, granter, grantee)
}

// UserExists reports whether account is registered.
func (c *AccessControl) UserExists(ctx context.Context, account common.Address) (bool, error) {
	return c.queryBool(ctx, MethodUserExists, account)
}

// GetRole returns the role of account. found is false when no role is assigned.
func (c *AccessControl) GetRole(ctx context.Context, account common.Address) (role uint8, found bool, err error) {
	values, err := c.query(ctx, MethodGetRole, account)
	if err != nil {
		return 0, false, err
	}
	found, ok1 := values[0].(bool)
	role, ok2 := values[1].(uint8)
	if !ok1 || !ok2 {
		return 0, false, &types.ChainQueryError{Method: MethodGetRole, Err: errors.New("invalid output format")}
	}
	return role, found, nil
}

// GetUserInfo returns the stored identity of account. found is false for unknown accounts.
func (c *AccessControl) GetUserInfo(ctx context.Context, account common.Address) (info types.UserInfo, found bool, err error) {
	values, err := c.query(ctx, MethodGetUserInfo, account)
	if err != nil {
		return types.UserInfo{}, false, err
	}
	found, ok := values[0].(bool)
	if !ok {
		return types.UserInfo{}, false, &types.ChainQueryError{Method: MethodGetUserInfo, Err: errors.New("invalid output format")}
	}
	converted, ok := abi.ConvertType(values[1], new(types.UserInfo)).(*types.UserInfo)
	if !ok {
		return types.UserInfo{}, false, &types.ChainQueryError{Method: MethodGetUserInfo, Err: errors.New("invalid output format")}
	}
	return *converted, found, nil
}

// EventNames returns the names of the contract events among events, in order.
func (c *AccessControl) EventNames(events []ledger.Event) []string {
	var names []string
	for _, ev := range events {
		if !ev.Is(ledger.SectionContracts, ledger.MethodContractEmitted) || ev.Address != c.address || len(ev.Topics) == 0 {
			continue
		}
		if e, err := c.abi.EventByID(ev.Topics[0]); err == nil {
			names = append(names, e.Name)
		}
	}
	return names
}
