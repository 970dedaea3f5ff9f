package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// accountHeader carries the registered address on creation routes.
const accountHeader = "X-Account-Address"

// maxListedRecords caps the records rendered by the performance tool.
const maxListedRecords = 20

// RegisterTools registers all facade tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	s.AddTools(Tools(client)...)
}

// Tools returns the facade tools bound to client.
func Tools(client *Client) []server.ServerTool {
	return []server.ServerTool{
		createUserTool(client),
		getRoleTool(client),
		getAccountsTool(client),
		hasPermissionTool(client),
		devAccountTool(client),
		healthTool(client),
		performanceTool(client),
	}
}

func createUserTool(client *Client) server.ServerTool {
	tool := gomcp.NewTool("accessledger_create_user",
		gomcp.WithDescription("Register a new identity on the ledger. This is a MUTATING operation: it funds a fresh account and calls addUser, waiting for finality."),
		gomcp.WithString("name", gomcp.Required(), gomcp.Description("First name (max 12 chars)")),
		gomcp.WithString("lastname", gomcp.Required(), gomcp.Description("Last name (max 12 chars)")),
		gomcp.WithString("dni", gomcp.Required(), gomcp.Description("8 digit national id")),
		gomcp.WithString("email", gomcp.Required(), gomcp.Description("Email address")),
		gomcp.WithNumber("role", gomcp.Description("0 = user (default), 1 = admin")),
		gomcp.WithString("mnemonic", gomcp.Description("Optional BIP-39 phrase to derive the account from")),
	)
	return server.ServerTool{Tool: tool, Handler: func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		payload := map[string]any{}
		for _, field := range []string{"name", "lastname", "dni", "email"} {
			v, err := req.RequireString(field)
			if err != nil || v == "" {
				return gomcp.NewToolResultError(field + " is required"), nil
			}
			payload[field] = v
		}
		role := req.GetInt("role", 0)
		if role != 0 && role != 1 {
			return gomcp.NewToolResultError("role must be 0 or 1"), nil
		}
		payload["role"] = role

		path := "/create_user"
		if m := req.GetString("mnemonic", ""); m != "" {
			payload["mnemonic"] = m
			path = "/create_user_based_on_personalized_mnemonic"
		}

		resp, err := client.Post(ctx, path, payload)
		if err != nil {
			return toolError("Registration failed", err), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("User Registered"),
			kv("Address", resp.Header.Get(accountHeader)),
			kv("DNI", payload["dni"]),
			kv("Role", role),
			kv("Result", string(resp.Body)),
		)), nil
	}}
}

func getRoleTool(client *Client) server.ServerTool {
	tool := gomcp.NewTool("accessledger_get_role",
		gomcp.WithDescription("Get the role assigned to an account address."),
		gomcp.WithString("address", gomcp.Required(), gomcp.Description("0x-prefixed account address")),
	)
	return server.ServerTool{Tool: tool, Handler: func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		addr, err := req.RequireString("address")
		if err != nil {
			return gomcp.NewToolResultError("address is required"), nil
		}
		resp, err := client.Get(ctx, "/role/"+url.PathEscape(addr))
		if err != nil {
			return toolError("Role lookup failed", err), nil
		}
		return gomcp.NewToolResultText(string(resp.Body)), nil
	}}
}

func getAccountsTool(client *Client) server.ServerTool {
	tool := gomcp.NewTool("accessledger_get_accounts",
		gomcp.WithDescription("List the account addresses registered for a DNI."),
		gomcp.WithString("dni", gomcp.Required(), gomcp.Description("8 digit national id")),
	)
	return server.ServerTool{Tool: tool, Handler: func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		dni, err := req.RequireString("dni")
		if err != nil {
			return gomcp.NewToolResultError("dni is required"), nil
		}
		resp, err := client.Get(ctx, "/get_accounts/"+url.PathEscape(dni))
		if err != nil {
			return toolError("Account lookup failed", err), nil
		}
		return gomcp.NewToolResultText(formatAccounts(dni, resp.JSON())), nil
	}}
}

func hasPermissionTool(client *Client) server.ServerTool {
	tool := gomcp.NewTool("accessledger_has_permission",
		gomcp.WithDescription("Check whether granter has granted grantee access to its data."),
		gomcp.WithString("granter", gomcp.Required(), gomcp.Description("Granting account address")),
		gomcp.WithString("grantee", gomcp.Required(), gomcp.Description("Receiving account address")),
	)
	return server.ServerTool{Tool: tool, Handler: func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		granter, err := req.RequireString("granter")
		if err != nil {
			return gomcp.NewToolResultError("granter is required"), nil
		}
		grantee, err := req.RequireString("grantee")
		if err != nil {
			return gomcp.NewToolResultError("grantee is required"), nil
		}
		resp, err := client.Get(ctx, "/has_permission/"+url.PathEscape(granter)+"/"+url.PathEscape(grantee))
		if err != nil {
			return toolError("Permission check failed", err), nil
		}
		var out struct {
			HasPermission bool `json:"hasPermission"`
		}
		if err := json.Unmarshal(resp.Body, &out); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Error parsing response: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Permission"),
			kv("Granter", granter),
			kv("Grantee", grantee),
			kv("Has Permission", strconv.FormatBool(out.HasPermission)),
		)), nil
	}}
}

func devAccountTool(client *Client) server.ServerTool {
	tool := gomcp.NewTool("accessledger_dev_account",
		gomcp.WithDescription("Get the address of the well-known signer that funds accounts and signs contract calls."),
	)
	return server.ServerTool{Tool: tool, Handler: func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		resp, err := client.Get(ctx, "/alice_account_id")
		if err != nil {
			return toolError("Facade unreachable", err), nil
		}
		return gomcp.NewToolResultText(string(resp.Body)), nil
	}}
}

func healthTool(client *Client) server.ServerTool {
	tool := gomcp.NewTool("accessledger_health",
		gomcp.WithDescription("Readiness check: ledger RPC connectivity and deployed contract code."),
	)
	return server.ServerTool{Tool: tool, Handler: func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		resp, err := client.Get(ctx, "/ready")
		if err != nil {
			// /ready answers 503 with the failing checks in the body
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && httpErr.Body != "" {
				return gomcp.NewToolResultText(formatHealth([]byte(httpErr.Body))), nil
			}
			return toolError("Facade unhealthy", err), nil
		}
		return gomcp.NewToolResultText(formatHealth(resp.JSON())), nil
	}}
}

func performanceTool(client *Client) server.ServerTool {
	tool := gomcp.NewTool("accessledger_performance",
		gomcp.WithDescription("List recorded request performance, newest first. Requires performance monitoring and a database."),
		gomcp.WithString("group_id", gomcp.Description("Filter by load test group id")),
		gomcp.WithString("route", gomcp.Description("Filter by route, e.g. /create_user")),
		gomcp.WithString("test_type", gomcp.Description("Filter by test type: sequential, concurrent, batch")),
		gomcp.WithNumber("limit", gomcp.Description("Max records (default 20)")),
		gomcp.WithNumber("offset", gomcp.Description("Records to skip")),
	)
	return server.ServerTool{Tool: tool, Handler: func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(req.GetInt("limit", maxListedRecords)))
		if v := req.GetInt("offset", 0); v > 0 {
			q.Set("offset", strconv.Itoa(v))
		}
		for arg, param := range map[string]string{"group_id": "groupID", "route": "route", "test_type": "testType"} {
			if v := req.GetString(arg, ""); v != "" {
				q.Set(param, v)
			}
		}

		resp, err := client.Get(ctx, "/performance?"+q.Encode())
		if err != nil {
			return toolError("Performance query failed", err), nil
		}
		return gomcp.NewToolResultText(formatPerformance(resp.JSON())), nil
	}}
}

func toolError(prefix string, err error) *gomcp.CallToolResult {
	return gomcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// Response formatting functions

func formatAccounts(dni string, raw json.RawMessage) string {
	var addrs []string
	if err := json.Unmarshal(raw, &addrs); err != nil {
		return fmt.Sprintf("Error parsing accounts: %v", err)
	}
	lines := joinLines(
		section("Accounts for DNI "+dni),
		kv("Total", len(addrs)),
	)
	for _, a := range addrs {
		lines += "\n  " + a
	}
	return lines
}

func formatHealth(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	ready, _ := m["ready"].(bool)
	state := "READY"
	if !ready {
		state = "NOT READY"
	}

	lines := section("Access Ledger Health: " + state)

	if checks, ok := m["checks"].([]any); ok {
		for _, c := range checks {
			if check, ok := c.(map[string]any); ok {
				name := getStr(check, "name")
				status := getStr(check, "status")
				latencyMs := getNum(check, "latency_ms")
				errMsg := getStr(check, "error")
				line := fmt.Sprintf("  %-15s %s (%dms)", name, status, int64(latencyMs))
				if errMsg != "" {
					line += " - " + errMsg
				}
				lines += "\n" + line
			}
		}
	}

	return lines
}

func formatPerformance(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing performance: %v", err)
	}

	lines := joinLines(
		section("Performance Records"),
		kv("Total", formatNumber(getNum(m, "total"))),
		"",
	)

	records, ok := m["records"].([]any)
	if !ok || len(records) == 0 {
		return lines + "\nNo records found."
	}

	var okCount int
	var durationSum float64
	for i, r := range records {
		rec, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if getStr(rec, "transactionSuccess") == "Yes" {
			okCount++
		}
		durationSum += getNum(rec, "durationMs")
		if i >= maxListedRecords {
			continue
		}

		when := getStr(rec, "time")
		if t, err := time.Parse(time.RFC3339Nano, when); err == nil {
			when = t.Format("2006-01-02 15:04:05")
		}
		lines += fmt.Sprintf("\n### #%s %s %s\n", getStr(rec, "requestNumber"), getStr(rec, "method"), getStr(rec, "route"))
		lines += joinLines(
			kv("Time", when),
			kv("Status", formatNumber(getNum(rec, "status"))),
			kv("Duration", formatNumber(getNum(rec, "durationMs"))+" ms"),
			kv("Success", getStr(rec, "transactionSuccess")),
			kv("Tip", formatOptional(rec, "tip")),
			kv("Ref Time", formatOptional(rec, "refTime")),
			kv("CPU", formatPct(getNum(rec, "cpuUsageEnd"))),
			kv("RAM", formatPct(getNum(rec, "ramUsageEnd"))),
		)
		lines += "\n"
	}
	if len(records) > maxListedRecords {
		lines += fmt.Sprintf("\n... and %d more", len(records)-maxListedRecords)
	}

	lines += "\n" + joinLines(
		section("Page Summary"),
		kv("Succeeded", fmt.Sprintf("%d / %d", okCount, len(records))),
		kv("Avg Duration", fmt.Sprintf("%.0f ms", durationSum/float64(len(records)))),
	)
	return lines
}
