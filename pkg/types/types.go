// Package types contains public API types for the access ledger facade and its load generator.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// TestType is the dispatch mode of a load generator run.
type TestType string

const (
	TestSequential TestType = "sequential"
	TestConcurrent TestType = "concurrent"
	TestBatch      TestType = "batch"
)

// NotAvailable is the placeholder used for perf fields the request did not carry.
const NotAvailable = "N/A"

// Role values understood by the AccessControl contract.
const (
	RoleUser  uint8 = 0
	RoleAdmin uint8 = 1
)

// UserInfo is the identity payload stored by the contract.
type UserInfo struct {
	Name     string `json:"name"`
	Lastname string `json:"lastname"`
	Dni      string `json:"dni"`
	Email    string `json:"email"`
}

// LoadTags are the optional load-test correlation fields a client may attach to any request.
type LoadTags struct {
	RequestNumber     any    `json:"requestNumber,omitempty"`
	GroupID           string `json:"groupID,omitempty"`
	TotalTransactions any    `json:"totalTransactions,omitempty"`
	TestType          string `json:"testType,omitempty"`
}

// CreateUserRequest is the body of POST /create_user and POST /create_user_with_dynamic_gas.
type CreateUserRequest struct {
	UserInfo
	Role uint8 `json:"role"`
	LoadTags
}

// CreateUserWithMnemonicRequest is the body of POST /create_user_based_on_personalized_mnemonic.
type CreateUserWithMnemonicRequest struct {
	CreateUserRequest
	Mnemonic string `json:"mnemonic"`
}

// CreateUserWithAddressRequest is the body of POST /create_user_with_existing_address.
type CreateUserWithAddressRequest struct {
	CreateUserRequest
	Address string `json:"address"`
}

// AssignRoleRequest is the body of POST /assign_role.
type AssignRoleRequest struct {
	Address string `json:"address"`
	Role    uint8  `json:"role"`
}

// PermissionRequest is the body of POST /grant_permission and POST /revoke_permission.
type PermissionRequest struct {
	Granter string `json:"granter"`
	Grantee string `json:"grantee"`
}

// AccessRequest is the body of POST /request_access.
type AccessRequest struct {
	Requester string `json:"requester"`
	Target    string `json:"target"`
}

// DynamicGasResponse is returned by POST /create_user_with_dynamic_gas.
type DynamicGasResponse struct {
	Message          string `json:"message"`
	Address          string `json:"address"`
	BlockHash        string `json:"blockHash"`
	GasUsed          uint64 `json:"gasUsed"`
	ProofSize        uint64 `json:"proofSize"`
	Tip              uint64 `json:"tip"`
	TransactionCount int64  `json:"transactionCount"`
}

// SubmissionResponse is returned by the JSON transaction routes.
type SubmissionResponse struct {
	Message   string `json:"message"`
	TxHash    string `json:"txHash"`
	BlockHash string `json:"blockHash"`
	Success   bool   `json:"success"`
}

// HasPermissionResponse is returned by GET /has_permission.
type HasPermissionResponse struct {
	HasPermission bool `json:"hasPermission"`
}

// UserExistsResponse is returned by GET /user_exists.
type UserExistsResponse struct {
	Address string `json:"address"`
	Exists  bool   `json:"exists"`
}

// UserInfoResponse is returned by GET /user_info.
type UserInfoResponse struct {
	Address string   `json:"address"`
	Info    UserInfo `json:"info"`
}

// AddressListResponse is returned by the access request and grant listing routes.
type AddressListResponse struct {
	Address   string   `json:"address"`
	Addresses []string `json:"addresses"`
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PerformanceRecord is one request observation written by the performance sidecar.
// Nil metric pointers mean the request did not produce that value.
type PerformanceRecord struct {
	Time               time.Time `json:"time"`
	RequestNumber      string    `json:"requestNumber"`
	GroupID            string    `json:"groupID"`
	TotalTransactions  string    `json:"totalTransactions"`
	Route              string    `json:"route"`
	Method             string    `json:"method"`
	Status             int       `json:"status"`
	RefTime            *uint64   `json:"refTime"`
	ProofSize          *uint64   `json:"proofSize"`
	Tip                *uint64   `json:"tip"`
	TransactionCount   *int64    `json:"transactionCount,omitempty"`
	DurationMs         int64     `json:"durationMs"`
	CPUUsageStart      float64   `json:"cpuUsageStart"`
	CPUUsageEnd        float64   `json:"cpuUsageEnd"`
	RAMUsageStart      float64   `json:"ramUsageStart"`
	RAMUsageEnd        float64   `json:"ramUsageEnd"`
	TransactionSuccess string    `json:"transactionSuccess"` // "Yes" or "No"
	ParametersLength   int       `json:"parametersLength"`
	TestType           string    `json:"testType"`
}

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"`     // ms
	Max     float64         `json:"max"`     // ms
	Avg     float64         `json:"avg"`     // ms
	P50     float64         `json:"p50"`     // ms
	P75     float64         `json:"p75"`     // ms
	P90     float64         `json:"p90"`     // ms
	P95     float64         `json:"p95"`     // ms
	P99     float64         `json:"p99"`     // ms
	Buckets []LatencyBucket `json:"buckets"` // histogram
}

// LoadSummary is the outcome of a load generator run.
type LoadSummary struct {
	GroupID       string        `json:"groupID"`
	Mode          TestType      `json:"mode"`
	Route         string        `json:"route"`
	Requested     int           `json:"requested"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	DurationMs    int64         `json:"durationMs"`
	Latency       *LatencyStats `json:"latency,omitempty"`
	RolesVerified int           `json:"rolesVerified,omitempty"`
	RolesMissing  int           `json:"rolesMissing,omitempty"`
}
