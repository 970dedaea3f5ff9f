package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/gateway-fm/accessledger/internal/facade"
	"github.com/gateway-fm/accessledger/internal/storage"
	"github.com/gateway-fm/accessledger/internal/submitter"
	"github.com/gateway-fm/accessledger/pkg/types"
)

// decodeBody decodes the JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &types.InvalidInputError{Msg: err.Error()}
	}
	return nil
}

// handleCreateUser handles POST /create_user
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req types.CreateUserRequest
	if err := decodeBody(r, &req); err != nil {
		writeText(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	reg, err := s.api.CreateUser(r.Context(), req)
	if err != nil {
		s.writeCreateError(w, "Error assigning role: ", err)
		return
	}

	w.Header().Set(AccountHeader, reg.Address.Hex())
	writeText(w, http.StatusOK, "User and role added successfully")
}

// handleCreateUserFromMnemonic handles POST /create_user_based_on_personalized_mnemonic
func (s *Server) handleCreateUserFromMnemonic(w http.ResponseWriter, r *http.Request) {
	var req types.CreateUserWithMnemonicRequest
	if err := decodeBody(r, &req); err != nil {
		writeText(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	reg, err := s.api.CreateUserFromMnemonic(r.Context(), req)
	if err != nil {
		var seedErr *types.InvalidSeedError
		if errors.As(err, &seedErr) {
			writeText(w, http.StatusBadRequest, "Invalid mnemonic provided: "+seedErr.Err.Error())
			return
		}
		s.writeCreateError(w, "Error assigning role: ", err)
		return
	}

	w.Header().Set(AccountHeader, reg.Address.Hex())
	writeText(w, http.StatusOK, "User and role added successfully")
}

// handleCreateUserWithAddress handles POST /create_user_with_existing_address
func (s *Server) handleCreateUserWithAddress(w http.ResponseWriter, r *http.Request) {
	var req types.CreateUserWithAddressRequest
	if err := decodeBody(r, &req); err != nil {
		writeText(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	reg, err := s.api.CreateUserWithAddress(r.Context(), req)
	if err != nil {
		var inputErr *types.InvalidInputError
		if errors.As(err, &inputErr) && inputErr.Field == "address" {
			writeText(w, http.StatusBadRequest, "Invalid address provided")
			return
		}
		s.writeCreateError(w, "Error creating user: ", err)
		return
	}

	addr := reg.Address.Hex()
	w.Header().Set(AccountHeader, addr)
	writeText(w, http.StatusOK, "User created with address "+addr)
}

// handleCreateUserDynamicGas handles POST /create_user_with_dynamic_gas
func (s *Server) handleCreateUserDynamicGas(w http.ResponseWriter, r *http.Request) {
	var req types.CreateUserRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	reg, err := s.api.CreateUserDynamicGas(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadRequest {
			writeJSONError(w, err.Error(), status)
			return
		}
		s.logger.Error("dynamic gas registration failed", "error", err)
		writeJSONError(w, "Error creating user: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set(AccountHeader, reg.Address.Hex())
	writeJSON(w, http.StatusOK, types.DynamicGasResponse{
		Message:          "User created successfully",
		Address:          reg.Address.Hex(),
		BlockHash:        reg.Result.FinalizedHash.Hex(),
		GasUsed:          reg.Result.RefTime,
		ProofSize:        reg.Result.ProofSize,
		Tip:              reg.Result.Tip,
		TransactionCount: reg.TransactionCount,
	})
}

// writeCreateError writes the text response of a failed creation route.
// Input errors are 400 with their own message; everything else is 500 with prefix.
func (s *Server) writeCreateError(w http.ResponseWriter, prefix string, err error) {
	status := statusFor(err)
	if status == http.StatusBadRequest {
		writeText(w, status, "Invalid request body: "+err.Error())
		return
	}
	s.logger.Error("registration failed", "error", err)
	writeText(w, http.StatusInternalServerError, prefix+err.Error())
}

// handleAssignRole handles POST /assign_role
func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req types.AssignRoleRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.api.AssignRole(r.Context(), req)
	s.writeSubmission(w, "Role assigned", res, err)
}

// handleRequestAccess handles POST /request_access
func (s *Server) handleRequestAccess(w http.ResponseWriter, r *http.Request) {
	var req types.AccessRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.api.RequestAccess(r.Context(), req)
	s.writeSubmission(w, "Access requested", res, err)
}

// handleGrantPermission handles POST /grant_permission
func (s *Server) handleGrantPermission(w http.ResponseWriter, r *http.Request) {
	var req types.PermissionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.api.GrantPermission(r.Context(), req)
	s.writeSubmission(w, "Permission granted", res, err)
}

// handleRevokePermission handles POST /revoke_permission
func (s *Server) handleRevokePermission(w http.ResponseWriter, r *http.Request) {
	var req types.PermissionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.api.RevokePermission(r.Context(), req)
	s.writeSubmission(w, "Permission revoked", res, err)
}

func (s *Server) writeSubmission(w http.ResponseWriter, message string, res *submitter.Result, err error) {
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, types.SubmissionResponse{
		Message:   message,
		TxHash:    res.TxHash.Hex(),
		BlockHash: res.FinalizedHash.Hex(),
		Success:   res.Success,
	})
}

// handleGetAccounts handles GET /get_accounts/{dni}
func (s *Server) handleGetAccounts(w http.ResponseWriter, r *http.Request) {
	dni := chi.URLParam(r, "dni")

	accounts, err := s.api.GetAccounts(r.Context(), dni)
	if err != nil {
		if statusFor(err) == http.StatusNotFound {
			writeText(w, http.StatusNotFound, "No accounts found for dni "+dni)
			return
		}
		writeText(w, statusFor(err), "Error fetching accounts: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, hexAddresses(accounts))
}

// handleGetRole handles GET /role/{publicAddress} and its /get_role alias
func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "publicAddress")
	addr, err := facade.ParseAddress("publicAddress", raw)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid public address: "+raw)
		return
	}

	role, err := s.api.GetRole(r.Context(), addr)
	if err != nil {
		if statusFor(err) == http.StatusNotFound {
			writeText(w, http.StatusNotFound, "Role not found for account "+raw)
			return
		}
		writeText(w, http.StatusInternalServerError, "Error fetching role: "+err.Error())
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("Role for account %s: %d", raw, role))
}

// handleHasPermission handles GET /has_permission/{granter}/{grantee}
func (s *Server) handleHasPermission(w http.ResponseWriter, r *http.Request) {
	granter, ok := s.pathAddress(w, r, "granter")
	if !ok {
		return
	}
	grantee, ok := s.pathAddress(w, r, "grantee")
	if !ok {
		return
	}

	has, err := s.api.HasPermission(r.Context(), granter, grantee)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, types.HasPermissionResponse{HasPermission: has})
}

// handleDevAccount handles GET /alice_account_id
func (s *Server) handleDevAccount(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "Alice's account: "+s.api.DevAddress().Hex())
}

// handleUserInfo handles GET /user_info/{address}
func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "address")
	if !ok {
		return
	}
	info, err := s.api.GetUserInfo(r.Context(), addr)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, types.UserInfoResponse{Address: addr.Hex(), Info: info})
}

// handleUserExists handles GET /user_exists/{address}
func (s *Server) handleUserExists(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "address")
	if !ok {
		return
	}
	exists, err := s.api.UserExists(r.Context(), addr)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, types.UserExistsResponse{Address: addr.Hex(), Exists: exists})
}

// handleAccessRequests handles GET /access_requests/{address}
func (s *Server) handleAccessRequests(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "address")
	if !ok {
		return
	}
	list, err := s.api.GetAccessRequests(r.Context(), addr)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, types.AddressListResponse{Address: addr.Hex(), Addresses: hexAddresses(list)})
}

// handleGrantedPermissions handles GET /granted_permissions/{address}
func (s *Server) handleGrantedPermissions(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "address")
	if !ok {
		return
	}
	list, err := s.api.GetGrantedPermissions(r.Context(), addr)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, types.AddressListResponse{Address: addr.Hex(), Addresses: hexAddresses(list)})
}

// handleRegisteredAccount handles GET /accounts/{address}
func (s *Server) handleRegisteredAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.pathAddress(w, r, "address")
	if !ok {
		return
	}
	rec, err := s.api.RegisteredAccount(r.Context(), addr)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleRegisteredByDni handles GET /accounts?dni=
func (s *Server) handleRegisteredByDni(w http.ResponseWriter, r *http.Request) {
	dni := r.URL.Query().Get("dni")
	if dni == "" {
		writeJSONError(w, "dni query parameter is required", http.StatusBadRequest)
		return
	}
	recs, err := s.api.RegisteredAccountsByDni(r.Context(), dni)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// handlePerformance handles GET /performance
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	q := r.URL.Query()
	filter := storage.RecordFilter{
		GroupID:  q.Get("groupID"),
		Route:    q.Get("route"),
		TestType: q.Get("testType"),
	}

	page, err := s.api.Performance(r.Context(), filter, limit, offset)
	if err != nil {
		writeJSONError(w, err.Error(), statusFor(err))
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(page.Total))
	writeJSON(w, http.StatusOK, page)
}

// pathAddress parses a path address, writing a 400 and returning false when it is malformed.
func (s *Server) pathAddress(w http.ResponseWriter, r *http.Request, param string) (common.Address, bool) {
	raw := chi.URLParam(r, param)
	addr, err := facade.ParseAddress(param, raw)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Invalid public address: "+raw)
		return common.Address{}, false
	}
	return addr, true
}

func hexAddresses(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}
