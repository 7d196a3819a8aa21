package authority

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/accounts"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/chains"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/protocol"
)

var ErrInvalidParams = errors.New("invalid params")

// MethodNotSupportedError is returned for methods outside the served surface.
type MethodNotSupportedError struct {
	Method string
}

func (e *MethodNotSupportedError) Error() string {
	return fmt.Sprintf("method not supported: %s", e.Method)
}

func (e *MethodNotSupportedError) ErrorCode() int { return protocol.CodeMethodNotFound }

func invalidParams(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidParams, format, args...)
}

// toRPCError maps a dispatch failure onto a JSON-RPC error object.
func toRPCError(err error) *protocol.RPCError {
	var rpcErr *protocol.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var notSupported *MethodNotSupportedError
	if errors.As(err, &notSupported) {
		return &protocol.RPCError{Code: notSupported.ErrorCode(), Message: notSupported.Error()}
	}
	if errors.Is(err, accounts.ErrNoAccountSelected) {
		return &protocol.RPCError{Code: protocol.CodeUnauthorized, Message: accounts.ErrNoAccountSelected.Error()}
	}
	if errors.Is(err, ErrInvalidParams) {
		return &protocol.RPCError{Code: protocol.CodeInvalidParams, Message: err.Error()}
	}

	var ce *chains.ClientError
	if errors.As(err, &ce) {
		out := &protocol.RPCError{Code: ce.ErrorCode(), Message: ce.Error(), Data: ce.ErrorData()}
		// surface the node's own wording when it sent one
		var nodeErr rpc.Error
		if errors.As(ce.Err, &nodeErr) {
			out.Message = nodeErr.Error()
		}
		return out
	}

	return &protocol.RPCError{Code: protocol.CodeInternalError, Message: err.Error()}
}
