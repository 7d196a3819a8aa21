package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/websocket"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/quantumauth-io/quantum-go-utils/retry"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/protocol"
)

const (
	MessagePath = "/runtime/message"
	EventsPath  = "/runtime/events"
	HealthPath  = "/healthz"

	maxReplyBytes = 4 << 20
)

// HTTPChannel reaches an authority served by the loopback agent. Pushes arrive
// over a websocket that is redialed after every drop; each drop is surfaced to
// subscribers as a disconnect notification.
type HTTPChannel struct {
	base   *url.URL
	origin string
	client *http.Client
	dialer *websocket.Dialer

	feed  event.Feed
	scope event.SubscriptionScope
	start sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	conn *websocket.Conn
}

type HTTPOption func(*HTTPChannel)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPChannel) { h.client = c }
}

// WithOrigin sets the Origin header presented to the agent.
func WithOrigin(origin string) HTTPOption {
	return func(h *HTTPChannel) { h.origin = origin }
}

// DialHTTP checks the agent is reachable at baseURL and returns a channel
// bound to it. The push stream is opened on the first Subscribe.
func DialHTTP(ctx context.Context, baseURL string, opts ...HTTPOption) (*HTTPChannel, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse agent url %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Newf("agent url %q: unsupported scheme", baseURL)
	}

	h := &HTTPChannel{
		base:   u,
		client: &http.Client{Timeout: 60 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())

	if err := h.health(ctx); err != nil {
		h.cancel()
		return nil, err
	}
	return h, nil
}

func (h *HTTPChannel) SendMessage(ctx context.Context, env protocol.Envelope) (json.RawMessage, error) {
	if h.ctx.Err() != nil {
		return nil, ErrClosed
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "encode envelope")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint("http", MessagePath), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	h.setOrigin(req.Header)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "post runtime message")
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read runtime reply")
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return reply, nil
	case http.StatusUnprocessableEntity:
		return nil, ErrUnhandled
	default:
		return nil, errors.Newf("runtime message: %s: %s", resp.Status, strings.TrimSpace(string(reply)))
	}
}

func (h *HTTPChannel) Subscribe(ch chan<- protocol.Envelope) event.Subscription {
	sub := h.scope.Track(h.feed.Subscribe(ch))
	h.start.Do(func() {
		h.wg.Add(1)
		go h.run()
	})
	return sub
}

func (h *HTTPChannel) Close() error {
	h.cancel()
	h.mu.Lock()
	if h.conn != nil {
		_ = h.conn.Close()
	}
	h.mu.Unlock()
	h.scope.Close()
	h.wg.Wait()
	return nil
}

func (h *HTTPChannel) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint("http", HealthPath), nil)
	if err != nil {
		return err
	}
	h.setOrigin(req.Header)
	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "agent health check")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("agent health check: %s", resp.Status)
	}
	return nil
}

func (h *HTTPChannel) run() {
	defer h.wg.Done()

	cfg := retry.DefaultConfig()
	cfg.InitialDelayBeforeRetrying = 100 * time.Millisecond
	cfg.MaxDelayBeforeRetrying = 5 * time.Second

	for {
		out, err := retry.Retry(h.ctx, cfg,
			func(ctx context.Context) ([]interface{}, error) {
				conn, err := h.dial(ctx)
				if err != nil {
					return nil, err
				}
				return []interface{}{conn}, nil
			},
			nil,
			"dial runtime events")
		if h.ctx.Err() != nil {
			if err == nil && len(out) == 1 {
				_ = out[0].(*websocket.Conn).Close()
			}
			return
		}
		if err != nil {
			log.Warn("runtime event stream unavailable", "err", err)
			select {
			case <-h.ctx.Done():
				return
			case <-time.After(cfg.MaxDelayBeforeRetrying):
			}
			continue
		}

		conn := out[0].(*websocket.Conn)
		if !h.setConn(conn) {
			return
		}
		h.read(conn)
		h.setConn(nil)
		if h.ctx.Err() != nil {
			return
		}

		env, err := protocol.NotificationEnvelope(protocol.EventDisconnect, protocol.RPCError{
			Code:    protocol.CodeDisconnected,
			Message: "wallet agent disconnected",
		})
		if err == nil {
			h.feed.Send(env)
		}
	}
}

func (h *HTTPChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	h.setOrigin(header)
	conn, resp, err := h.dialer.DialContext(ctx, h.endpoint("ws", EventsPath), header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial runtime events: %s", resp.Status)
		}
		return nil, errors.Wrap(err, "dial runtime events")
	}
	return conn, nil
}

func (h *HTTPChannel) read(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if h.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("runtime event stream dropped", "err", err)
			}
			return
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			log.Warn("dropping malformed runtime push", "err", err)
			continue
		}
		h.feed.Send(env)
	}
}

// setConn records the live connection. It refuses, and closes conn, once the
// channel is closed.
func (h *HTTPChannel) setConn(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn != nil && h.ctx.Err() != nil {
		_ = conn.Close()
		return false
	}
	h.conn = conn
	return true
}

func (h *HTTPChannel) endpoint(kind, path string) string {
	u := *h.base
	if kind == "ws" {
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		default:
			u.Scheme = "ws"
		}
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func (h *HTTPChannel) setOrigin(header http.Header) {
	if h.origin != "" {
		header.Set("Origin", h.origin)
	}
}
