// Package contracttest simulates the AccessControl contract on a ledgertest.Fake.
package contracttest

import (
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/accessledger/internal/contract"
	"github.com/gateway-fm/accessledger/internal/ledger"
	"github.com/gateway-fm/accessledger/internal/ledger/ledgertest"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// Address is where Deploy places the contract by default.
var Address = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// Revert reasons, matching the deployed contract.
const (
	ReasonName         = "Nombre no válido"
	ReasonLastname     = "Apellido no válido"
	ReasonDni          = "DNI no válido"
	ReasonEmail        = "Email no válido"
	ReasonDniFull      = "El DNI ya tiene dos cuentas asociadas"
	ReasonSameRole     = "Ambos account_id no pueden tener el mismo rol"
	ReasonAlreadyGrant = "Permiso ya concedido"
	ReasonNoPermission = "No existe permiso para revocar"
)

var _ ledgertest.Contract = (*AccessControl)(nil)

type pair struct {
	granter, grantee common.Address
}

// AccessControl is an in-memory AccessControl contract.
type AccessControl struct {
	mu sync.Mutex

	abi     abi.ABI
	address common.Address

	accounts    map[string][]common.Address
	users       map[common.Address]types.UserInfo
	roles       map[common.Address]uint8
	permissions map[pair]bool
	grantees    map[common.Address][]common.Address
	requests    map[common.Address][]common.Address
}

// New creates an empty contract at addr.
func New(addr common.Address) *AccessControl {
	return &AccessControl{
		abi:         contract.MustDefaultABI(),
		address:     addr,
		accounts:    make(map[string][]common.Address),
		users:       make(map[common.Address]types.UserInfo),
		roles:       make(map[common.Address]uint8),
		permissions: make(map[pair]bool),
		grantees:    make(map[common.Address][]common.Address),
		requests:    make(map[common.Address][]common.Address),
	}
}

// Deploy creates a contract at Address and registers it on fake.
func Deploy(fake *ledgertest.Fake) *AccessControl {
	c := New(Address)
	fake.Deploy(Address, c)
	return c
}

// Call answers the view methods.
func (c *AccessControl) Call(_ common.Address, data []byte) ([]byte, error) {
	method, args, err := c.decode(data)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch method.Name {
	case contract.MethodGetAccounts:
		return method.Outputs.Pack(nonNil(c.accounts[args[0].(string)]))
	case contract.MethodGetUserInfo:
		info, ok := c.users[args[0].(common.Address)]
		return method.Outputs.Pack(ok, info)
	case contract.MethodGetAccessRequests:
		return method.Outputs.Pack(nonNil(c.requests[args[0].(common.Address)]))
	case contract.MethodGetGrantedPermissions:
		return method.Outputs.Pack(nonNil(c.grantees[args[0].(common.Address)]))
	case contract.MethodHasPermission:
		return method.Outputs.Pack(c.permissions[pair{args[0].(common.Address), args[1].(common.Address)}])
	case contract.MethodGetRole:
		role, ok := c.roles[args[0].(common.Address)]
		return method.Outputs.Pack(ok, role)
	case contract.MethodUserExists:
		_, ok := c.users[args[0].(common.Address)]
		return method.Outputs.Pack(ok)
	case contract.MethodAssignRole:
		return method.Outputs.Pack(assignMessage(args[0].(common.Address), args[1].(uint8)))
	default:
		return nil, nil
	}
}

// Execute applies the mutating methods.
func (c *AccessControl) Execute(_ common.Address, data []byte, _ *big.Int) ([]ledger.Event, error) {
	method, args, err := c.decode(data)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch method.Name {
	case contract.MethodAddUser:
		info, ok := abi.ConvertType(args[1], new(types.UserInfo)).(*types.UserInfo)
		if !ok {
			return nil, fmt.Errorf("decode user info: %T", args[1])
		}
		return c.addUser(args[0].(common.Address), *info, args[2].(uint8))

	case contract.MethodAssignRole:
		account, role := args[0].(common.Address), args[1].(uint8)
		c.roles[account] = role
		return []ledger.Event{c.event("RoleAssigned", account, role)}, nil

	case contract.MethodRequestAccess:
		requester, target := args[0].(common.Address), args[1].(common.Address)
		c.requests[requester] = append(c.requests[requester], target)
		return []ledger.Event{c.event("AccessRequested", requester, target)}, nil

	case contract.MethodGrantPermission:
		p := pair{args[0].(common.Address), args[1].(common.Address)}
		if c.permissions[p] {
			return nil, &ledgertest.RevertError{Reason: ReasonAlreadyGrant}
		}
		c.permissions[p] = true
		if !slices.Contains(c.grantees[p.granter], p.grantee) {
			c.grantees[p.granter] = append(c.grantees[p.granter], p.grantee)
		}
		return []ledger.Event{c.event("PermissionGranted", p.granter, p.grantee, true)}, nil

	case contract.MethodRevokePermission:
		p := pair{args[0].(common.Address), args[1].(common.Address)}
		if !c.permissions[p] {
			return nil, &ledgertest.RevertError{Reason: ReasonNoPermission}
		}
		c.permissions[p] = false
		if i := slices.Index(c.grantees[p.granter], p.grantee); i >= 0 {
			c.grantees[p.granter] = slices.Delete(c.grantees[p.granter], i, i+1)
		}
		return []ledger.Event{c.event("PermissionGranted", p.granter, p.grantee, false)}, nil

	default:
		return nil, nil
	}
}

func (c *AccessControl) addUser(account common.Address, info types.UserInfo, role uint8) ([]ledger.Event, error) {
	switch {
	case info.Name == "" || len(info.Name) > 12:
		return nil, &ledgertest.RevertError{Reason: ReasonName}
	case info.Lastname == "" || len(info.Lastname) > 12:
		return nil, &ledgertest.RevertError{Reason: ReasonLastname}
	case len(info.Dni) != 8:
		return nil, &ledgertest.RevertError{Reason: ReasonDni}
	case !strings.Contains(info.Email, "@"):
		return nil, &ledgertest.RevertError{Reason: ReasonEmail}
	}

	existing := c.accounts[info.Dni]
	if len(existing) >= 2 {
		return nil, &ledgertest.RevertError{Reason: ReasonDniFull}
	}
	for _, acc := range existing {
		if r, ok := c.roles[acc]; ok && r == role {
			return nil, &ledgertest.RevertError{Reason: ReasonSameRole}
		}
	}

	c.accounts[info.Dni] = append(existing, account)
	c.users[account] = info
	c.roles[account] = role
	return []ledger.Event{
		c.event("RoleAssigned", account, role),
		c.event("UserAdded", account),
	}, nil
}

// Role returns the stored role of account.
func (c *AccessControl) Role(account common.Address) (uint8, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.roles[account]
	return r, ok
}

// Users returns the number of registered users.
func (c *AccessControl) Users() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users)
}

func (c *AccessControl) decode(data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("calldata too short: %d bytes", len(data))
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("unpack %s: %w", method.Name, err)
	}
	return method, args, nil
}

// event encodes a contract log. The first value is the indexed topic, the rest is data.
func (c *AccessControl) event(name string, indexed common.Address, values ...any) ledger.Event {
	ev := c.abi.Events[name]
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		panic(fmt.Sprintf("pack %s: %v", name, err))
	}
	return ledger.Event{
		Section: ledger.SectionContracts,
		Method:  ledger.MethodContractEmitted,
		Address: c.address,
		Topics:  []common.Hash{ev.ID, common.BytesToHash(indexed.Bytes())},
		Data:    data,
	}
}

func assignMessage(account common.Address, role uint8) string {
	return fmt.Sprintf("Rol %d asignado a la cuenta %s", role, account.Hex())
}

func nonNil(addrs []common.Address) []common.Address {
	if addrs == nil {
		return []common.Address{}
	}
	return addrs
}
