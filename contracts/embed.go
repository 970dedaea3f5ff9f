// Package contracts ships the AccessControl contract interface.
package contracts

import _ "embed"

// AccessControlABI is the JSON ABI of the AccessControl contract.
//
//go:embed access_control.abi.json
var AccessControlABI []byte
