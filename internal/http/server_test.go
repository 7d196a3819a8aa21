package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/protocol"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/runtime"
)

const dappOrigin = "https://dapp.example"

type fakeAuthority struct {
	feed event.Feed

	mu   sync.Mutex
	subs []event.Subscription
}

func (f *fakeAuthority) Handle(_ context.Context, env protocol.Envelope) (json.RawMessage, bool) {
	if !env.Is(protocol.KindRPCRequest) {
		return nil, false
	}
	var req protocol.Request
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, false
	}
	b, _ := json.Marshal(protocol.NewResult(req.ID, json.RawMessage(`"0x1"`)))
	return b, true
}

func (f *fakeAuthority) SubscribeNotifications(ch chan<- protocol.Envelope) event.Subscription {
	sub := f.feed.Subscribe(ch)
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub
}

func (f *fakeAuthority) ConnectNotification(context.Context) (protocol.Envelope, error) {
	return protocol.NotificationEnvelope(protocol.EventConnect, map[string]string{"chainId": "0x1"})
}

// kick ends every live push stream.
func (f *fakeAuthority) kick() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		s.Unsubscribe()
	}
	f.subs = nil
}

func newTestServer(t *testing.T) (*fakeAuthority, *httptest.Server) {
	t.Helper()
	fa := &fakeAuthority{}
	srv := httptest.NewServer(NewServer(fa, []string{dappOrigin + "/"}))
	t.Cleanup(srv.Close)
	return fa, srv
}

func rpcEnvelope(t *testing.T, id uint64) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.KindRPCRequest, protocol.NewRequest(id, "eth_chainId", nil))
	require.NoError(t, err)
	return env
}

func nextNotification(t *testing.T, ch <-chan protocol.Envelope) protocol.Notification {
	t.Helper()
	select {
	case env := <-ch:
		require.True(t, env.Is(protocol.KindRPCResponse))
		var n protocol.Notification
		require.NoError(t, json.Unmarshal(env.Payload, &n))
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("no push received")
		return protocol.Notification{}
	}
}

func TestHealthz(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + runtime.HealthPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body[JSONKeyStatus])
}

func TestMessageRoundTrip(t *testing.T) {
	_, srv := newTestServer(t)
	ctx := context.Background()

	ch, err := runtime.DialHTTP(ctx, srv.URL, runtime.WithOrigin(dappOrigin))
	require.NoError(t, err)
	defer ch.Close()

	reply, err := ch.SendMessage(ctx, rpcEnvelope(t, 12))
	require.NoError(t, err)
	require.JSONEq(t, `{"id":12,"jsonrpc":"2.0","result":"0x1"}`, string(reply))

	env, err := protocol.NewEnvelope(protocol.KindAccountManagement, protocol.ManagementRequest{Action: "getAccounts"})
	require.NoError(t, err)
	_, err = ch.SendMessage(ctx, env)
	require.ErrorIs(t, err, runtime.ErrUnhandled)
}

func TestOriginPolicy(t *testing.T) {
	_, srv := newTestServer(t)

	post := func(origin string) *http.Response {
		body, err := json.Marshal(rpcEnvelope(t, 1))
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, srv.URL+runtime.MessagePath, strings.NewReader(string(body)))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := post("https://evil.example")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = post(dappOrigin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, dappOrigin, resp.Header.Get("Access-Control-Allow-Origin"))

	resp = post("")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestLocalGuards(t *testing.T) {
	h := NewServer(&fakeAuthority{}, nil)

	cases := []struct {
		name   string
		remote string
		host   string
		status int
	}{
		{"loopback", "127.0.0.1:50000", "127.0.0.1:6140", http.StatusOK},
		{"loopback v6", "[::1]:50000", "[::1]:6140", http.StatusOK},
		{"localhost name", "127.0.0.1:50000", "localhost:6140", http.StatusOK},
		{"remote peer", "192.0.2.10:50000", "127.0.0.1:6140", http.StatusForbidden},
		{"rebinding host", "127.0.0.1:50000", "wallet.evil.example:6140", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, runtime.HealthPath, nil)
			req.RemoteAddr = tc.remote
			req.Host = tc.host
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestMessageRejectsBadInput(t *testing.T) {
	h := NewServer(&fakeAuthority{}, nil)

	for _, body := range []string{`not json`, `{"payload":{}}`, `{"type":"x","extra":1}`} {
		req := httptest.NewRequest(http.MethodPost, runtime.MessagePath, strings.NewReader(body))
		req.RemoteAddr = "127.0.0.1:50000"
		req.Host = "127.0.0.1:6140"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	req := httptest.NewRequest(http.MethodGet, runtime.MessagePath, nil)
	req.RemoteAddr = "127.0.0.1:50000"
	req.Host = "127.0.0.1:6140"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEventStreamGreetingPushAndReconnect(t *testing.T) {
	fa, srv := newTestServer(t)
	ctx := context.Background()

	ch, err := runtime.DialHTTP(ctx, srv.URL)
	require.NoError(t, err)
	defer ch.Close()

	pushes := make(chan protocol.Envelope, 8)
	sub := ch.Subscribe(pushes)
	defer sub.Unsubscribe()

	n := nextNotification(t, pushes)
	require.Equal(t, protocol.EventConnect, n.Method)
	require.JSONEq(t, `{"chainId":"0x1"}`, string(n.Params))

	env, err := protocol.NotificationEnvelope(protocol.EventChainChanged, "0xaa36a7")
	require.NoError(t, err)
	fa.feed.Send(env)

	n = nextNotification(t, pushes)
	require.Equal(t, protocol.EventChainChanged, n.Method)
	require.JSONEq(t, `"0xaa36a7"`, string(n.Params))

	fa.kick()

	n = nextNotification(t, pushes)
	require.Equal(t, protocol.EventDisconnect, n.Method)
	var rpcErr protocol.RPCError
	require.NoError(t, json.Unmarshal(n.Params, &rpcErr))
	require.Equal(t, protocol.CodeDisconnected, rpcErr.Code)

	n = nextNotification(t, pushes)
	require.Equal(t, protocol.EventConnect, n.Method)
}

func TestDialHTTPFailsWhenAgentIsDown(t *testing.T) {
	_, srv := newTestServer(t)
	url := srv.URL
	srv.Close()

	_, err := runtime.DialHTTP(context.Background(), url)
	require.Error(t, err)
}
