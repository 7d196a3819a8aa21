package protocol

import (
	"encoding/json"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/constants"
)

// JSON-RPC and EIP-1193 error codes.
const (
	CodeParseError      = -32700
	CodeInvalidRequest  = -32600
	CodeMethodNotFound  = -32601
	CodeInvalidParams   = -32602
	CodeInternalError   = -32603
	CodeUnauthorized    = 4100
	CodeDisconnected    = 4900
	CodeChainDisconnect = 4901
	CodeUnknownChain    = 4902
)

// Provider notification names.
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventMessage         = "message"
)

type Request struct {
	ID      uint64            `json:"id"`
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type Response struct {
	ID      uint64          `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is an unsolicited authority push; it carries no id.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

func (e *RPCError) ErrorCode() int { return e.Code }

// Inbound is the union a page-side reader decodes an RPC_RESPONSE payload into.
type Inbound struct {
	ID      *uint64         `json:"id,omitempty"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsNotification reports whether the message is a push rather than a reply.
func (m Inbound) IsNotification() bool {
	return m.ID == nil && m.Method != ""
}

func NewRequest(id uint64, method string, params []json.RawMessage) Request {
	if params == nil {
		params = []json.RawMessage{}
	}
	return Request{ID: id, JSONRPC: constants.JSONRPCV2, Method: method, Params: params}
}

// NewResult builds a success response. A nil result is encoded as JSON null so
// the response always carries exactly one of result or error.
func NewResult(id uint64, result json.RawMessage) Response {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return Response{ID: id, JSONRPC: constants.JSONRPCV2, Result: result}
}

func NewErrorResponse(id uint64, rpcErr *RPCError) Response {
	return Response{ID: id, JSONRPC: constants.JSONRPCV2, Error: rpcErr}
}

func NewNotification(method string, params any) (Notification, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Notification{}, err
	}
	return Notification{JSONRPC: constants.JSONRPCV2, Method: method, Params: raw}, nil
}
