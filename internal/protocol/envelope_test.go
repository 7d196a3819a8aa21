package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeKind(t *testing.T) {
	env, err := NewEnvelope(KindRPCRequest, NewRequest(7, "eth_chainId", nil))
	require.NoError(t, err)
	require.Equal(t, "quantumauth_wallet:RPC_REQUEST", env.Type)
	require.True(t, env.Is(KindRPCRequest))
	require.False(t, env.Is(KindRPCResponse))

	k, ok := env.Kind()
	require.True(t, ok)
	require.Equal(t, KindRPCRequest, k)

	for _, foreign := range []string{"RPC_REQUEST", "other_wallet:RPC_REQUEST", "quantumauth_wallet:RPC_REQUEST_X", ""} {
		_, ok := Envelope{Type: foreign}.Kind()
		require.False(t, ok, foreign)
	}
}

func TestDecodeEnvelopeRejectsNonObjects(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`"hello"`))
	require.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"payload":{}}`))
	require.Error(t, err)

	env, err := DecodeEnvelope([]byte(`{"type":"quantumauth_wallet:RPC_RESPONSE","payload":{"id":1}}`))
	require.NoError(t, err)
	require.True(t, env.Is(KindRPCResponse))
}

func TestResponseCarriesResultOrError(t *testing.T) {
	raw, err := json.Marshal(NewResult(3, nil))
	require.NoError(t, err)
	require.JSONEq(t, `{"id":3,"jsonrpc":"2.0","result":null}`, string(raw))

	raw, err = json.Marshal(NewErrorResponse(4, &RPCError{Code: CodeInternalError, Message: "boom"}))
	require.NoError(t, err)
	require.JSONEq(t, `{"id":4,"jsonrpc":"2.0","error":{"code":-32603,"message":"boom"}}`, string(raw))
}

func TestInboundNotification(t *testing.T) {
	var in Inbound
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"chainChanged","params":"0x1"}`), &in))
	require.True(t, in.IsNotification())

	var reply Inbound
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":0,"result":"0x1"}`), &reply))
	require.False(t, reply.IsNotification())
	require.NotNil(t, reply.ID)
	require.Equal(t, uint64(0), *reply.ID)
}
