// Package contract is the typed client of the AccessControl contract.
package contract

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/gateway-fm/accessledger/contracts"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// Method names of the AccessControl contract.
const (
	MethodAddUser               = "addUser"
	MethodAssignRole            = "assignRole"
	MethodRequestAccess         = "requestAccess"
	MethodGrantPermission       = "grantPermission"
	MethodRevokePermission      = "revokePermission"
	MethodGetAccounts           = "getAccounts"
	MethodGetUserInfo           = "getUserInfo"
	MethodGetAccessRequests     = "getAccessRequests"
	MethodGetGrantedPermissions = "getGrantedPermissions"
	MethodHasPermission         = "hasPermission"
	MethodGetRole               = "getRole"
	MethodUserExists            = "userExists"
)

var requiredMethods = []string{
	MethodAddUser, MethodAssignRole, MethodRequestAccess, MethodGrantPermission,
	MethodRevokePermission, MethodGetAccounts, MethodGetUserInfo, MethodGetAccessRequests,
	MethodGetGrantedPermissions, MethodHasPermission, MethodGetRole, MethodUserExists,
}

// LoadABI reads the contract ABI from path. An empty path selects the built-in ABI.
// Any failure is an *types.InitializationError.
func LoadABI(path string) (abi.ABI, error) {
	data := contracts.AccessControlABI
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return abi.ABI{}, &types.InitializationError{Path: path, Err: err}
		}
		data = b
	} else {
		path = "built-in ABI"
	}

	parsed, err := ParseABI(data)
	if err != nil {
		return abi.ABI{}, &types.InitializationError{Path: path, Err: err}
	}
	return parsed, nil
}

// ParseABI parses a JSON ABI and checks it exposes every AccessControl method.
func ParseABI(data []byte) (abi.ABI, error) {
	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	for _, name := range requiredMethods {
		if _, ok := parsed.Methods[name]; !ok {
			return abi.ABI{}, fmt.Errorf("abi lacks method %s", name)
		}
	}
	return parsed, nil
}

// MustDefaultABI returns the built-in ABI and panics if it does not parse.
func MustDefaultABI() abi.ABI {
	parsed, err := ParseABI(contracts.AccessControlABI)
	if err != nil {
		panic(err)
	}
	return parsed
}
