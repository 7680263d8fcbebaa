// Package echo provides a small MCP server used to exercise the MCP
// client integration end to end.
package echo

import (
	"context"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates an MCP server with echo and clock tools.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		"dataagent-echo",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	echoTool := mcp.NewTool("echo",
		mcp.WithDescription("Echoes the given text back"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Text to echo"),
		),
		mcp.WithBoolean("upper",
			mcp.Description("Uppercase the response"),
		),
	)
	s.AddTool(echoTool, echoHandler)

	nowTool := mcp.NewTool("now",
		mcp.WithDescription("Returns the current time in RFC3339"),
	)
	s.AddTool(nowTool, nowHandler)

	return s
}

func echoHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	text, ok := args["text"].(string)
	if !ok {
		return mcp.NewToolResultError("text argument is required"), nil
	}
	if upper, _ := args["upper"].(bool); upper {
		text = strings.ToUpper(text)
	}
	return mcp.NewToolResultText(text), nil
}

func nowHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(time.Now().Format(time.RFC3339)), nil
}
