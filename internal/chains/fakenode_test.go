package chains

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/networks"
)

// fakeEth serves the eth namespace subset the signer and read path use.
type fakeEth struct {
	chainID uint64

	mu   sync.Mutex
	sent []*types.Transaction
}

type revertError struct{}

func (revertError) Error() string  { return "execution reverted" }
func (revertError) ErrorCode() int { return 3 }
func (revertError) ErrorData() any { return "0x08c379a0" }

func (f *fakeEth) ChainId() hexutil.Uint64 { return hexutil.Uint64(f.chainID) }

func (f *fakeEth) GetBalance(addr common.Address, block string) *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(1_000_000_000_000_000_000))
}

func (f *fakeEth) GetTransactionCount(addr common.Address, block string) hexutil.Uint64 {
	return 7
}

func (f *fakeEth) EstimateGas(args map[string]any, block *string) hexutil.Uint64 {
	return 21000
}

func (f *fakeEth) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(2_000_000_000))
}

func (f *fakeEth) MaxPriorityFeePerGas() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(1_000_000_000))
}

func (f *fakeEth) Call(args map[string]any, block string) (hexutil.Bytes, error) {
	return nil, revertError{}
}

func (f *fakeEth) SendRawTransaction(raw hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	f.mu.Lock()
	f.sent = append(f.sent, tx)
	f.mu.Unlock()
	return tx.Hash(), nil
}

func (f *fakeEth) Sent() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.sent...)
}

func newFakeNode(t *testing.T, chainID uint64) (*fakeEth, *rpc.Server) {
	t.Helper()
	svc := &fakeEth{chainID: chainID}
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", svc))
	t.Cleanup(srv.Stop)
	return svc, srv
}

// inProcDialer connects every chain to the same in-process node.
type inProcDialer struct {
	srv *rpc.Server

	mu           sync.Mutex
	readDials    int
	signingDials int
	lastChain    uint64
}

func (d *inProcDialer) DialRead(ctx context.Context, chain networks.Chain) (ReadCapability, error) {
	d.mu.Lock()
	d.readDials++
	d.lastChain = chain.ID
	d.mu.Unlock()
	return NewReadClient(rpc.DialInProc(d.srv)), nil
}

func (d *inProcDialer) DialSigning(ctx context.Context, chain networks.Chain, key *ecdsa.PrivateKey) (SigningCapability, error) {
	d.mu.Lock()
	d.signingDials++
	d.lastChain = chain.ID
	d.mu.Unlock()
	return NewLocalSigner(rpc.DialInProc(d.srv), key), nil
}

func (d *inProcDialer) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readDials, d.signingDials
}

func mustParams(t *testing.T, args ...any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}
