package transport

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/gateway-fm/accessledger/internal/storage"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// TestResponseTypesHaveJSONTags ensures every exported field of a response type has a JSON tag.
// Embedded structs are flattened by encoding/json and carry their own tags.
func TestResponseTypesHaveJSONTags(t *testing.T) {
	testCases := []struct {
		name     string
		instance interface{}
	}{
		{"UserInfo", types.UserInfo{}},
		{"CreateUserRequest", types.CreateUserRequest{}},
		{"CreateUserWithMnemonicRequest", types.CreateUserWithMnemonicRequest{}},
		{"CreateUserWithAddressRequest", types.CreateUserWithAddressRequest{}},
		{"AssignRoleRequest", types.AssignRoleRequest{}},
		{"PermissionRequest", types.PermissionRequest{}},
		{"AccessRequest", types.AccessRequest{}},
		{"DynamicGasResponse", types.DynamicGasResponse{}},
		{"SubmissionResponse", types.SubmissionResponse{}},
		{"HasPermissionResponse", types.HasPermissionResponse{}},
		{"UserExistsResponse", types.UserExistsResponse{}},
		{"UserInfoResponse", types.UserInfoResponse{}},
		{"AddressListResponse", types.AddressListResponse{}},
		{"ErrorResponse", types.ErrorResponse{}},
		{"PerformanceRecord", types.PerformanceRecord{}},
		{"LoadSummary", types.LoadSummary{}},
		{"StoredRecord", storage.StoredRecord{}},
		{"PaginatedRecords", storage.PaginatedRecords{}},
		{"AccountRecord", storage.AccountRecord{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			typ := reflect.TypeOf(tc.instance)
			for i := 0; i < typ.NumField(); i++ {
				field := typ.Field(i)
				if field.Anonymous || field.PkgPath != "" {
					continue
				}
				if field.Tag.Get("json") == "" {
					t.Errorf("Field %s.%s has no json tag - will serialize as PascalCase", tc.name, field.Name)
				}
			}
		})
	}
}

// TestJSONSerializationIsCamelCase verifies the wire names clients rely on.
func TestJSONSerializationIsCamelCase(t *testing.T) {
	one := uint64(1)
	testCases := []struct {
		name            string
		instance        interface{}
		expectedFields  []string
		forbiddenFields []string
	}{
		{
			name: "DynamicGasResponse",
			instance: types.DynamicGasResponse{
				Message: "User created successfully", Address: "0x1", BlockHash: "0x2",
				GasUsed: 21000, ProofSize: 120, Tip: 3, TransactionCount: 7,
			},
			expectedFields:  []string{"message", "address", "blockHash", "gasUsed", "proofSize", "tip", "transactionCount"},
			forbiddenFields: []string{"BlockHash", "GasUsed", "ProofSize", "TransactionCount"},
		},
		{
			name: "StoredRecord",
			instance: storage.StoredRecord{ID: 4, PerformanceRecord: types.PerformanceRecord{
				RequestNumber: "1", GroupID: "g", Route: "/create_user", RefTime: &one,
				TransactionSuccess: "Yes", ParametersLength: 10,
			}},
			expectedFields: []string{
				"id", "requestNumber", "groupID", "totalTransactions", "route", "refTime",
				"proofSize", "durationMs", "cpuUsageStart", "ramUsageEnd", "transactionSuccess", "parametersLength", "testType",
			},
			forbiddenFields: []string{"PerformanceRecord", "RequestNumber", "RefTime", "TransactionSuccess"},
		},
		{
			name:            "HasPermissionResponse",
			instance:        types.HasPermissionResponse{HasPermission: true},
			expectedFields:  []string{"hasPermission"},
			forbiddenFields: []string{"HasPermission"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.instance)
			if err != nil {
				t.Fatalf("Failed to marshal %s: %v", tc.name, err)
			}
			jsonStr := string(data)

			for _, field := range tc.expectedFields {
				if !strings.Contains(jsonStr, `"`+field+`"`) {
					t.Errorf("Expected camelCase field %q not found in JSON: %s", field, jsonStr)
				}
			}
			for _, field := range tc.forbiddenFields {
				if strings.Contains(jsonStr, `"`+field+`"`) {
					t.Errorf("Forbidden PascalCase field %q found in JSON: %s", field, jsonStr)
				}
			}
		})
	}
}

// TestCreateUserRequestFlattens checks that identity, role and load tags share one JSON object.
func TestCreateUserRequestFlattens(t *testing.T) {
	body := `{"name":"Ana","lastname":"Garcia","dni":"12345678","email":"ana@example.com","role":1,
		"requestNumber":3,"groupID":"g1","totalTransactions":"10","testType":"batch"}`

	var req types.CreateUserRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if req.Name != "Ana" || req.Dni != "12345678" || req.Role != types.RoleAdmin {
		t.Errorf("identity = %+v", req.UserInfo)
	}
	if req.GroupID != "g1" || req.TestType != "batch" || req.RequestNumber == nil {
		t.Errorf("tags = %+v", req.LoadTags)
	}
}
