package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// connectTimeout bounds one connection attempt.
const connectTimeout = 5 * time.Second

// sdkSession adapts an SDK client session to the pool's Session.
type sdkSession struct {
	session *sdkmcp.ClientSession
}

func (s *sdkSession) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := s.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}

	if result.IsError {
		for _, content := range result.Content {
			if text, ok := content.(*sdkmcp.TextContent); ok {
				return "", fmt.Errorf("tool error: %s", text.Text)
			}
		}
		return "", fmt.Errorf("tool execution failed")
	}

	var output strings.Builder
	for _, content := range result.Content {
		if text, ok := content.(*sdkmcp.TextContent); ok {
			output.WriteString(text.Text)
		}
	}
	return output.String(), nil
}

func (s *sdkSession) Close() error {
	return s.session.Close()
}

// headerTransport injects static headers into every request.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// SDKDialer returns the production dialer built on the official MCP Go
// SDK. Connection attempts retry briefly with exponential backoff
// before the failure is recorded on the connection.
func SDKDialer(clientName string) Dialer {
	return func(ctx context.Context, cfg ServerConfig) (Session, []ToolDescriptor, error) {
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}

		client := sdkmcp.NewClient(&sdkmcp.Implementation{
			Name:    clientName,
			Version: "1.0.0",
		}, nil)

		var session *sdkmcp.ClientSession
		operation := func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()

			transport, err := buildTransport(cfg)
			if err != nil {
				return backoff.Permanent(err)
			}

			session, err = client.Connect(attemptCtx, transport, nil)
			return err
		}

		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
		if err := backoff.Retry(operation, policy); err != nil {
			return nil, nil, fmt.Errorf("failed to connect: %w", err)
		}

		tools, err := listTools(ctx, session)
		if err != nil {
			// Non-fatal, tools might not be supported.
			tools = nil
		}

		return &sdkSession{session: session}, tools, nil
	}
}

func buildTransport(cfg ServerConfig) (sdkmcp.Transport, error) {
	if cfg.IsURL() {
		httpClient := &http.Client{}
		if len(cfg.Headers) > 0 {
			httpClient.Transport = &headerTransport{headers: cfg.Headers}
		}

		switch cfg.EffectiveTransport() {
		case TransportSSE:
			return &sdkmcp.SSEClientTransport{
				Endpoint:   cfg.URL,
				HTTPClient: httpClient,
			}, nil
		case TransportStreamableHTTP:
			return &sdkmcp.StreamableClientTransport{
				Endpoint:   cfg.URL,
				HTTPClient: httpClient,
			}, nil
		default:
			return nil, fmt.Errorf("unknown transport: %s", cfg.Transport)
		}
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for key, value := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}
	return &sdkmcp.CommandTransport{Command: cmd}, nil
}

func listTools(ctx context.Context, session *sdkmcp.ClientSession) ([]ToolDescriptor, error) {
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}

	tools := make([]ToolDescriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		var schema json.RawMessage
		if tool.InputSchema != nil {
			schema, _ = json.Marshal(tool.InputSchema)
		}
		tools = append(tools, ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}
