// Package chains derives chain clients bound to the selected network and account.
package chains

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/protocol"
)

var (
	ErrNoEndpoint      = errors.New("chain has no reachable rpc endpoint")
	ErrInvalidParams   = errors.New("invalid params")
	ErrAddressMismatch = errors.New("address is not the selected account")
)

// ReadCapability answers chain queries that need no key.
type ReadCapability interface {
	ReadCall(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error)
	Close()
}

// SigningCapability answers signing-class methods on behalf of one account.
type SigningCapability interface {
	SignedCall(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error)
	Address() common.Address
	Close()
}

// ClientError wraps a failure reported by, or on the way to, the chain node.
type ClientError struct {
	Method string
	Err    error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("chain client %s: %v", e.Method, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// ErrorCode keeps the node's JSON-RPC code when it sent one.
func (e *ClientError) ErrorCode() int {
	var rpcErr rpc.Error
	if errors.As(e.Err, &rpcErr) {
		return rpcErr.ErrorCode()
	}
	if errors.Is(e.Err, ErrInvalidParams) {
		return protocol.CodeInvalidParams
	}
	if errors.Is(e.Err, ErrAddressMismatch) {
		return protocol.CodeUnauthorized
	}
	return protocol.CodeInternalError
}

// ErrorData forwards node-provided error data.
func (e *ClientError) ErrorData() any {
	var dataErr rpc.DataError
	if errors.As(e.Err, &dataErr) {
		return dataErr.ErrorData()
	}
	return nil
}

func clientErr(method string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ClientError
	if errors.As(err, &ce) {
		return err
	}
	return &ClientError{Method: method, Err: err}
}

func invalidParams(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidParams, format, args...)
}
