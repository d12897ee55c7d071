package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/ctford/lein-mcp/pkg/shared/mcpjsonrpc"
)

// Client sends JSON-RPC requests to a bridge endpoint over HTTP POST.
type Client struct {
	endpoint string
	client   *http.Client
	nextID   atomic.Int64
	logger   *slog.Logger
}

// New creates a new Client for endpoint (for example http://127.0.0.1:4321/).
func New(endpoint string, client *http.Client, logger *slog.Logger) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		endpoint: endpoint,
		client:   client,
		logger:   logger.With("component", "rpc_client"),
	}
}

// Call sends method with params and returns the decoded response. JSON-RPC
// errors are returned inside the response, not as a Go error.
func (c *Client) Call(ctx context.Context, method string, params any) (*mcpjsonrpc.Response, error) {
	id := c.nextID.Add(1)
	log := c.logger.With(slog.String("method", method), slog.Int64("id", id))

	respBody, err := c.post(ctx, log, method, json.RawMessage(strconv.FormatInt(id, 10)), params)
	if err != nil {
		return nil, err
	}

	var out mcpjsonrpc.Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		log.Error("Failed to decode JSON-RPC response", slog.Any("error", err))
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// Notify sends method as a notification: the request carries no id and any
// response body is discarded.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	_, err := c.post(ctx, c.logger.With(slog.String("method", method)), method, nil, params)
	return err
}

func (c *Client) post(ctx context.Context, log *slog.Logger, method string, id json.RawMessage, params any) ([]byte, error) {
	req := mcpjsonrpc.Request{
		Version: mcpjsonrpc.Version,
		Method:  method,
		ID:      id,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		req.Params = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		log.Error("Failed to create HTTP request", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Debug("Executing JSON-RPC request")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		log.Error("HTTP request failed", slog.Any("error", err))
		return nil, fmt.Errorf("request execution failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("Failed to read response body", slog.Any("error", err))
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	ok := resp.StatusCode == http.StatusOK
	if id == nil {
		// Notifications may be answered with 202 and no body.
		ok = resp.StatusCode/100 == 2
	}
	if !ok {
		log.Warn("Received non-success status code", slog.Int("status_code", resp.StatusCode))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// Initialize performs the MCP handshake: initialize followed by the
// initialized notification.
func (c *Client) Initialize(ctx context.Context, clientName, clientVersion string) (*mcpjsonrpc.Response, error) {
	resp, err := c.Call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": clientName, "version": clientVersion},
	})
	if err != nil || resp.Error != nil {
		return resp, err
	}
	if err := c.Notify(ctx, "notifications/initialized", nil); err != nil {
		return nil, err
	}
	return resp, nil
}
