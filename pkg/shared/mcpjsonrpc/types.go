package mcpjsonrpc

import (
	"encoding/json"
	"fmt"
)

// Based on JSON-RPC 2.0 Specification: https://www.jsonrpc.org/specification

// Version is the only protocol version accepted and emitted.
const Version = "2.0"

// Request represents a JSON-RPC request object.
type Request struct {
	Version string          `json:"jsonrpc"`          // MUST be "2.0"
	Method  string          `json:"method"`           // Method to be invoked
	Params  json.RawMessage `json:"params,omitempty"` // Parameters (structured value or array)
	ID      json.RawMessage `json:"id,omitempty"`     // Request identifier, echoed verbatim
}

// Response represents a JSON-RPC response object.
// Exactly one of Result and Error is set.
type Response struct {
	Version string          `json:"jsonrpc"`          // MUST be "2.0"
	Result  json.RawMessage `json:"result,omitempty"` // Required on success
	Error   *Error          `json:"error,omitempty"`  // Required on error
	ID      json.RawMessage `json:"id"`               // Must match request ID (or null if could not be determined)
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`           // Error code
	Message string `json:"message"`        // Error message
	Data    any    `json:"data,omitempty"` // Additional data about the error
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Error codes (JSON-RPC spec plus the MCP server range)
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// -32000 to -32099: Server error (implementation-defined)
	CodeServerNotInitialized = -32002
	CodeResourceNotFound     = -32002
)

// NullID is the id used when the request id could not be determined.
var NullID = json.RawMessage("null")

// NewResultResponse builds a successful response, marshalling result eagerly so
// encoding failures surface before anything is written.
func NewResultResponse(id json.RawMessage, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Response{
		Version: Version,
		Result:  raw,
		ID:      normalizeID(id),
	}, nil
}

// NewErrorResponse builds an error response with the given code.
func NewErrorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		Version: Version,
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: normalizeID(id),
	}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return NullID
	}
	return id
}
