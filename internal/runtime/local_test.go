package runtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/protocol"
)

type echoHandler struct {
	feed event.Feed
	last protocol.Envelope
}

func (h *echoHandler) Handle(_ context.Context, env protocol.Envelope) (json.RawMessage, bool) {
	h.last = env
	if !env.Is(protocol.KindRPCRequest) {
		return nil, false
	}
	return env.Payload, true
}

func (h *echoHandler) SubscribeNotifications(ch chan<- protocol.Envelope) event.Subscription {
	return h.feed.Subscribe(ch)
}

func (h *echoHandler) ConnectNotification(context.Context) (protocol.Envelope, error) {
	return protocol.NotificationEnvelope(protocol.EventConnect, map[string]string{"chainId": "0x1"})
}

func next(t *testing.T, ch <-chan protocol.Envelope) protocol.Notification {
	t.Helper()
	select {
	case env := <-ch:
		var n protocol.Notification
		require.NoError(t, json.Unmarshal(env.Payload, &n))
		return n
	case <-time.After(time.Second):
		t.Fatal("no push")
		return protocol.Notification{}
	}
}

func TestLocalSendMessage(t *testing.T) {
	h := &echoHandler{}
	l := NewLocal(h)
	defer l.Close()
	ctx := context.Background()

	env, err := protocol.NewEnvelope(protocol.KindRPCRequest, protocol.NewRequest(3, "eth_chainId", nil))
	require.NoError(t, err)

	reply, err := l.SendMessage(ctx, env)
	require.NoError(t, err)
	require.JSONEq(t, string(env.Payload), string(reply))

	// the authority sees a decoded copy, not the caller's buffer
	env.Payload[0] = ' '
	require.Equal(t, byte('{'), h.last.Payload[0])

	ui, err := protocol.NewEnvelope(protocol.KindUIRequest, protocol.UIRequest{Method: "getAccounts"})
	require.NoError(t, err)
	_, err = l.SendMessage(ctx, ui)
	require.ErrorIs(t, err, ErrUnhandled)
}

func TestLocalSubscribeGreetsThenForwards(t *testing.T) {
	h := &echoHandler{}
	l := NewLocal(h)
	defer l.Close()

	ch := make(chan protocol.Envelope, 4)
	sub := l.Subscribe(ch)
	defer sub.Unsubscribe()

	require.Equal(t, protocol.EventConnect, next(t, ch).Method)

	push, err := protocol.NotificationEnvelope(protocol.EventAccountsChanged, []string{})
	require.NoError(t, err)
	// Send blocks until the forwarding goroutine picks the push up
	require.Equal(t, 1, h.feed.Send(push))

	n := next(t, ch)
	require.Equal(t, protocol.EventAccountsChanged, n.Method)
	require.JSONEq(t, `[]`, string(n.Params))
}

func TestLocalCloseEndsSubscriptions(t *testing.T) {
	h := &echoHandler{}
	l := NewLocal(h)

	ch := make(chan protocol.Envelope, 4)
	sub := l.Subscribe(ch)
	next(t, ch)

	require.NoError(t, l.Close())
	select {
	case _, ok := <-sub.Err():
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription still open")
	}

	env, err := protocol.NewEnvelope(protocol.KindRPCRequest, protocol.NewRequest(1, "eth_chainId", nil))
	require.NoError(t, err)
	_, err = l.SendMessage(context.Background(), env)
	require.ErrorIs(t, err, ErrClosed)
}
