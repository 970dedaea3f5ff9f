package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const testAddr = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

// facadeStub answers the routes the tools call and remembers the last request.
type facadeStub struct {
	lastPath  string
	lastQuery string
	lastBody  map[string]any
	ready     bool
}

func (f *facadeStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.lastPath, f.lastQuery = r.URL.Path, r.URL.RawQuery
	f.lastBody = nil
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &f.lastBody)
	}

	switch {
	case r.URL.Path == "/create_user" || r.URL.Path == "/create_user_based_on_personalized_mnemonic":
		w.Header().Set(accountHeader, testAddr)
		io.WriteString(w, "User and role added successfully")
	case r.URL.Path == "/role/"+testAddr:
		io.WriteString(w, "Role for account "+testAddr+": 1")
	case strings.HasPrefix(r.URL.Path, "/role/"):
		http.Error(w, "Role not found for account "+strings.TrimPrefix(r.URL.Path, "/role/"), http.StatusNotFound)
	case r.URL.Path == "/get_accounts/12345678":
		io.WriteString(w, `["`+testAddr+`"]`)
	case strings.HasPrefix(r.URL.Path, "/has_permission/"):
		io.WriteString(w, `{"hasPermission":false}`)
	case r.URL.Path == "/alice_account_id":
		io.WriteString(w, "Alice's account: 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	case r.URL.Path == "/ready":
		if !f.ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"ready":false,"checks":[{"name":"ledger-rpc","status":"failed","error":"connection refused"}]}`)
			return
		}
		io.WriteString(w, `{"ready":true,"checks":[{"name":"ledger-rpc","status":"ok","latency_ms":3}]}`)
	case r.URL.Path == "/performance":
		io.WriteString(w, `{"total":2,"limit":20,"offset":0,"records":[
			{"id":2,"time":"2026-10-14T10:00:00Z","requestNumber":"2","route":"/create_user","method":"POST","status":500,
			 "refTime":null,"tip":null,"durationMs":300,"cpuUsageEnd":10,"ramUsageEnd":50,"transactionSuccess":"No"},
			{"id":1,"time":"2026-10-14T09:59:00Z","requestNumber":"1","route":"/create_user","method":"POST","status":200,
			 "refTime":52000,"tip":100,"durationMs":100,"cpuUsageEnd":12.5,"ramUsageEnd":51,"transactionSuccess":"Yes"}]}`)
	default:
		http.NotFound(w, r)
	}
}

func toolsByName(t *testing.T, url string) map[string]server.ServerTool {
	t.Helper()
	out := map[string]server.ServerTool{}
	for _, tool := range Tools(NewClient(url)) {
		out[tool.Tool.Name] = tool
	}
	return out
}

func call(t *testing.T, tool server.ServerTool, args map[string]any) (string, bool) {
	t.Helper()
	req := gomcp.CallToolRequest{}
	req.Params.Name = tool.Tool.Name
	req.Params.Arguments = args

	res, err := tool.Handler(context.Background(), req)
	if err != nil {
		t.Fatalf("%s handler error = %v", tool.Tool.Name, err)
	}
	if len(res.Content) == 0 {
		t.Fatalf("%s returned no content", tool.Tool.Name)
	}
	text, ok := res.Content[0].(gomcp.TextContent)
	if !ok {
		t.Fatalf("%s content = %T, want text", tool.Tool.Name, res.Content[0])
	}
	return text.Text, res.IsError
}

func TestToolsRegistered(t *testing.T) {
	want := []string{
		"accessledger_create_user", "accessledger_get_role", "accessledger_get_accounts",
		"accessledger_has_permission", "accessledger_dev_account", "accessledger_health", "accessledger_performance",
	}
	tools := toolsByName(t, "http://unused")
	if len(tools) != len(want) {
		t.Errorf("Tools() = %d tools, want %d", len(tools), len(want))
	}
	for _, name := range want {
		if _, ok := tools[name]; !ok {
			t.Errorf("tool %s missing", name)
		}
	}

	s := server.NewMCPServer("accessledger", "test", server.WithToolCapabilities(true))
	RegisterTools(s, NewClient("http://unused"))
}

func TestTools(t *testing.T) {
	stub := &facadeStub{ready: true}
	srv := httptest.NewServer(stub)
	defer srv.Close()
	tools := toolsByName(t, srv.URL)

	tests := []struct {
		name     string
		tool     string
		args     map[string]any
		wantErr  bool
		wantPath string
		contains []string
	}{
		{
			name:     "create user",
			tool:     "accessledger_create_user",
			args:     map[string]any{"name": "Ana", "lastname": "Garcia", "dni": "12345678", "email": "ana@example.com", "role": float64(1)},
			wantPath: "/create_user",
			contains: []string{"User Registered", testAddr, "User and role added successfully"},
		},
		{
			name:     "create user from mnemonic",
			tool:     "accessledger_create_user",
			args:     map[string]any{"name": "Ana", "lastname": "Garcia", "dni": "12345678", "email": "ana@example.com", "mnemonic": "abandon about"},
			wantPath: "/create_user_based_on_personalized_mnemonic",
			contains: []string{testAddr},
		},
		{
			name:     "create user missing email",
			tool:     "accessledger_create_user",
			args:     map[string]any{"name": "Ana", "lastname": "Garcia", "dni": "12345678"},
			wantErr:  true,
			contains: []string{"email is required"},
		},
		{
			name:     "create user bad role",
			tool:     "accessledger_create_user",
			args:     map[string]any{"name": "Ana", "lastname": "Garcia", "dni": "12345678", "email": "a@b.c", "role": float64(7)},
			wantErr:  true,
			contains: []string{"role must be 0 or 1"},
		},
		{
			name:     "role",
			tool:     "accessledger_get_role",
			args:     map[string]any{"address": testAddr},
			wantPath: "/role/" + testAddr,
			contains: []string{"Role for account " + testAddr + ": 1"},
		},
		{
			name:     "role not found",
			tool:     "accessledger_get_role",
			args:     map[string]any{"address": "0x1"},
			wantErr:  true,
			contains: []string{"HTTP 404", "Role not found for account 0x1"},
		},
		{
			name:     "accounts",
			tool:     "accessledger_get_accounts",
			args:     map[string]any{"dni": "12345678"},
			contains: []string{"Accounts for DNI 12345678", testAddr},
		},
		{
			name:     "permission",
			tool:     "accessledger_has_permission",
			args:     map[string]any{"granter": testAddr, "grantee": testAddr},
			wantPath: "/has_permission/" + testAddr + "/" + testAddr,
			contains: []string{"false"},
		},
		{
			name:     "dev account",
			tool:     "accessledger_dev_account",
			contains: []string{"Alice's account: 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"},
		},
		{
			name:     "health",
			tool:     "accessledger_health",
			contains: []string{"Access Ledger Health: READY", "ledger-rpc", "(3ms)"},
		},
		{
			name:     "performance",
			tool:     "accessledger_performance",
			args:     map[string]any{"group_id": "g1", "limit": float64(5)},
			wantPath: "/performance",
			contains: []string{"Total:", "#2 POST /create_user", kv("Tip", "N/A"), kv("Succeeded", "1 / 2"), kv("Avg Duration", "200 ms")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isErr := call(t, tools[tt.tool], tt.args)
			if isErr != tt.wantErr {
				t.Errorf("IsError = %v, want %v (text %q)", isErr, tt.wantErr, text)
			}
			if tt.wantPath != "" && stub.lastPath != tt.wantPath {
				t.Errorf("called %s, want %s", stub.lastPath, tt.wantPath)
			}
			for _, want := range tt.contains {
				if !strings.Contains(text, want) {
					t.Errorf("output missing %q:\n%s", want, text)
				}
			}
		})
	}

	if !strings.Contains(stub.lastQuery, "groupID=g1") || !strings.Contains(stub.lastQuery, "limit=5") {
		t.Errorf("performance query = %q", stub.lastQuery)
	}
}

func TestHealthToolNotReady(t *testing.T) {
	srv := httptest.NewServer(&facadeStub{})
	defer srv.Close()

	text, isErr := call(t, toolsByName(t, srv.URL)["accessledger_health"], nil)
	if isErr {
		t.Errorf("IsError = true, want the failing checks rendered")
	}
	if !strings.Contains(text, "NOT READY") || !strings.Contains(text, "connection refused") {
		t.Errorf("output = %q", text)
	}
}

func TestFacadeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	text, isErr := call(t, toolsByName(t, url)["accessledger_dev_account"], nil)
	if !isErr || !strings.Contains(text, "Facade unreachable") {
		t.Errorf("got %q, %v", text, isErr)
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{float64(0), "0"},
		{float64(999), "999"},
		{float64(1000), "1,000"},
		{float64(1234567), "1,234,567"},
		{float64(-12345), "-12,345"},
		{1.5, "1.5"},
		{int64(50000), "50,000"},
		{"x", "x"},
	}

	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
