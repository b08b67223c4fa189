package errors

import (
	"fmt"
)

/*
RpcError represents a JSON-RPC error object. It doubles as a Go error so
handlers can return it directly and the dispatcher can wrap it into a
response without translation.
*/
type RpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

/*
Error implements the error interface for RpcError.
*/
func (e *RpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Convenience errors (JSON-RPC reserved codes -32700 .. -32603).
// Hub-specific codes live in the server-error band below.
var (
	ErrParseError     = &RpcError{Code: -32700, Message: "Parse error"}
	ErrInvalidRequest = &RpcError{Code: -32600, Message: "Invalid Request"}
	ErrMethodNotFound = &RpcError{Code: -32601, Message: "Method not found"}
	ErrInvalidParams  = &RpcError{Code: -32602, Message: "Invalid params"}
	ErrInternal       = &RpcError{Code: -32603, Message: "Internal error"}

	// Hub-specific errors (server-error band -32000 .. -32006). The -32000
	// code is shared by creation failures and inactive applications, matching
	// the wire contract clients already depend on.
	ErrApplicationCreateFailed = &RpcError{Code: -32000, Message: "Failed to create application"}
	ErrApplicationNotActive    = &RpcError{Code: -32000, Message: "Application is not active"}
	ErrApplicationNotFound     = &RpcError{Code: -32001, Message: "Application not found"}
	ErrApplicationUpdateFailed = &RpcError{Code: -32002, Message: "Failed to update application"}
	ErrApplicationDeleteFailed = &RpcError{Code: -32003, Message: "Failed to delete application"}
	ErrInvalidAction           = &RpcError{Code: -32004, Message: "Invalid action"}
	ErrPermissionGrantFailed   = &RpcError{Code: -32005, Message: "Failed to grant permission"}
	ErrPermissionRevokeFailed  = &RpcError{Code: -32006, Message: "Failed to revoke permission"}
)

// WithMessagef creates a *copy* of an RpcError with a formatted message.
// It does not modify the original error variable.
func (e *RpcError) WithMessagef(format string, args ...any) *RpcError {
	// Return a new error instance to avoid modifying the global variables
	newErr := *e // Create a shallow copy
	newErr.Message = fmt.Sprintf(format, args...)
	return &newErr
}

// WithData creates a copy of an RpcError carrying additional data.
func (e *RpcError) WithData(data any) *RpcError {
	newErr := *e
	newErr.Data = data
	return &newErr
}

/*
ValidRpcCode reports whether code lies in the JSON-RPC reserved set or the
server-error band [-32099, -32000]. Payload construction rejects anything
else.
*/
func ValidRpcCode(code int) bool {
	switch code {
	case -32700, -32600, -32601, -32602, -32603:
		return true
	}

	return code >= -32099 && code <= -32000
}
