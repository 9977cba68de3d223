// Package jsonrpc provides the JSON-RPC 2.0 error envelope shared by the
// router and worker HTTP surfaces.
package jsonrpc

import (
	"encoding/json"
	"net/http"
)

// Error codes used across the MCP transports.
const (
	// CodeMethodNotAllowed rejects HTTP methods the transport does not support.
	CodeMethodNotAllowed = -32000
	// CodeInternalError reports a server-side failure (worker unreachable, crash mid-request).
	CodeInternalError = -32603
)

// ErrorDetail is the error member of a JSON-RPC error response.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope is a JSON-RPC 2.0 error response with a null id, used when the
// failure happens before any request id can be associated.
type ErrorEnvelope struct {
	JSONRPC string      `json:"jsonrpc"`
	Error   ErrorDetail `json:"error"`
	ID      any         `json:"id"`
}

// NewError builds an error envelope with the given code and message.
func NewError(code int, message string) ErrorEnvelope {
	return ErrorEnvelope{
		JSONRPC: "2.0",
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
		ID: nil,
	}
}

// WriteError writes an error envelope as a JSON HTTP response.
func WriteError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(NewError(code, message))
}
