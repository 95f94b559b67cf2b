// Package rpc exposes the marketplace ledger via a JSON-RPC 2.0 HTTP endpoint.
package rpc

import (
	"encoding/json"

	"github.com/tolelom/tolmart/core"
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

// Error represents a JSON-RPC error object. Data carries the ledger code
// when the failure came from the ledger itself.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData is the structured part of a ledger error.
type ErrorData struct {
	LedgerCode core.Code `json:"ledger_code"`
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUnauthorized   = -32000
	CodeNotFound       = -32004
	CodeLedgerError    = -32010
)

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

// ledgerResponse maps a coded ledger error onto a JSON-RPC error.
func ledgerResponse(id any, err error) Response {
	code := core.CodeOf(err)
	rpcCode := CodeLedgerError
	switch code {
	case core.CodeInternal:
		return errResponse(id, CodeInternalError, err.Error())
	case core.CodeInvalidParameters:
		rpcCode = CodeInvalidParams
	case core.CodeNotFound:
		rpcCode = CodeNotFound
	}
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: rpcCode, Message: err.Error(), Data: &ErrorData{LedgerCode: code}},
	}
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
