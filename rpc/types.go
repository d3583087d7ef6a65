// Package rpc exposes the canvas engine via a JSON-RPC 2.0 HTTP
// endpoint plus a websocket event feed.
package rpc

import (
	"encoding/json"
	"errors"

	"github.com/artgrid/artgrid/core"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
)

// Engine error classes get stable codes so clients can branch on them.
const (
	CodeNotFound          = -32001
	CodeInvalidState      = -32002
	CodeOperationDenied   = -32003
	CodeInsufficientValue = -32004
	CodeAlreadySettled    = -32005
	CodeCapacityExceeded  = -32006
)

// errCode maps an engine error to its JSON-RPC code.
func errCode(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, core.ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, core.ErrUnauthorized):
		return CodeOperationDenied
	case errors.Is(err, core.ErrInsufficientValue):
		return CodeInsufficientValue
	case errors.Is(err, core.ErrAlreadySettled):
		return CodeAlreadySettled
	case errors.Is(err, core.ErrCapacityExceeded):
		return CodeCapacityExceeded
	}
	return CodeInternalError
}

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

func engineErr(id any, err error) Response {
	return errResponse(id, errCode(err), err.Error())
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
