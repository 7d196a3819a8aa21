package chains

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/networks"
)

// Dialer builds the capabilities for a chain. The factory calls it lazily.
type Dialer interface {
	DialRead(ctx context.Context, chain networks.Chain) (ReadCapability, error)
	DialSigning(ctx context.Context, chain networks.Chain, key *ecdsa.PrivateKey) (SigningCapability, error)
}

// RPCDialer connects to the chain's endpoints with the go-ethereum rpc client,
// trying them in order.
type RPCDialer struct{}

func (RPCDialer) DialRead(ctx context.Context, chain networks.Chain) (ReadCapability, error) {
	c, err := dialFirst(ctx, chain)
	if err != nil {
		return nil, err
	}
	return &nodeClient{rpc: c}, nil
}

func (RPCDialer) DialSigning(ctx context.Context, chain networks.Chain, key *ecdsa.PrivateKey) (SigningCapability, error) {
	c, err := dialFirst(ctx, chain)
	if err != nil {
		return nil, err
	}
	return NewLocalSigner(c, key), nil
}

func dialFirst(ctx context.Context, chain networks.Chain) (*rpc.Client, error) {
	var lastErr error
	for _, ep := range chain.RPCEndpoints {
		c, err := rpc.DialContext(ctx, ep)
		if err != nil {
			log.Warn("rpc endpoint dial failed", "chainId", chain.ID, "endpoint", ep, "err", err)
			lastErr = err
			continue
		}
		return c, nil
	}
	if lastErr == nil {
		lastErr = ErrNoEndpoint
	}
	return nil, &ClientError{Method: "dial", Err: errors.Wrapf(lastErr, "chain %d", chain.ID)}
}

// nodeClient forwards calls verbatim to the node.
type nodeClient struct {
	rpc *rpc.Client
}

// NewReadClient wraps an existing rpc client.
func NewReadClient(c *rpc.Client) ReadCapability {
	return &nodeClient{rpc: c}
}

func (n *nodeClient) ReadCall(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	return forward(ctx, n.rpc, method, params)
}

func (n *nodeClient) Close() { n.rpc.Close() }

func forward(ctx context.Context, c *rpc.Client, method string, params []json.RawMessage) (json.RawMessage, error) {
	args := make([]any, 0, len(params))
	for _, p := range params {
		args = append(args, p)
	}
	var out json.RawMessage
	if err := c.CallContext(ctx, &out, method, args...); err != nil {
		return nil, clientErr(method, err)
	}
	if len(out) == 0 {
		out = json.RawMessage("null")
	}
	return out, nil
}
