// Package provider is the wallet surface page scripts call. It assigns
// request ids, tracks pending calls and fans out authority notifications.
package provider

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/pagebus"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/protocol"
)

var ErrDisconnected = &protocol.RPCError{Code: protocol.CodeDisconnected, Message: "provider disconnected"}

// RequestArguments mirrors the EIP-1193 request argument. Params is sent
// positionally: an array is used as is, any other value becomes the single
// element, and nil sends an empty list.
type RequestArguments struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Event is a notification as seen by SubscribeEvents consumers.
type Event struct {
	Name   string
	Params json.RawMessage
}

// Message is the payload of the "message" event for notifications the
// provider has no dedicated name for.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Result is what Send delivers once the call settles.
type Result struct {
	Value json.RawMessage
	Err   error
}

type Listener func(params json.RawMessage)

type ListenerID uint64

type registered struct {
	id ListenerID
	fn Listener
}

var namedEvents = []string{
	protocol.EventAccountsChanged,
	protocol.EventChainChanged,
	protocol.EventConnect,
	protocol.EventDisconnect,
}

type Provider struct {
	win    *pagebus.Window
	remove func()

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan protocol.Inbound
	closed  bool

	lmu       sync.Mutex
	nextLID   ListenerID
	listeners map[string][]registered

	feed  event.Feed
	scope event.SubscriptionScope
}

func New(win *pagebus.Window) *Provider {
	p := &Provider{
		win:       win,
		pending:   make(map[uint64]chan protocol.Inbound),
		listeners: make(map[string][]registered),
	}
	p.remove = win.AddMessageListener(p.onMessage)
	return p
}

// Request sends one call and waits for the response bearing its id. There is
// no built-in timeout; bound the call with ctx. Error responses are returned
// as *protocol.RPCError.
func (p *Provider) Request(ctx context.Context, args RequestArguments) (json.RawMessage, error) {
	id, done, err := p.send(args)
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-done:
		if resp.Error != nil {
			return nil, resp.Error
		}
		if len(resp.Result) == 0 {
			return json.RawMessage("null"), nil
		}
		return resp.Result, nil
	case <-ctx.Done():
		p.forget(id)
		return nil, ctx.Err()
	}
}

// Send is the asynchronous form of Request.
func (p *Provider) Send(ctx context.Context, args RequestArguments) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		v, err := p.Request(ctx, args)
		out <- Result{Value: v, Err: err}
	}()
	return out
}

// On registers fn for a notification name. Listeners run on the window's
// event loop in registration order.
func (p *Provider) On(name string, fn Listener) ListenerID {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	p.nextLID++
	id := p.nextLID
	p.listeners[name] = append(p.listeners[name], registered{id: id, fn: fn})
	return id
}

func (p *Provider) RemoveListener(name string, id ListenerID) bool {
	p.lmu.Lock()
	defer p.lmu.Unlock()
	before := len(p.listeners[name])
	p.listeners[name] = slices.DeleteFunc(p.listeners[name], func(r registered) bool { return r.id == id })
	removed := len(p.listeners[name]) != before
	if len(p.listeners[name]) == 0 {
		delete(p.listeners, name)
	}
	return removed
}

// SubscribeEvents delivers every notification to ch. Consumers must keep
// draining ch; the page loop waits on delivery.
func (p *Provider) SubscribeEvents(ch chan<- Event) event.Subscription {
	return p.scope.Track(p.feed.Subscribe(ch))
}

// Close detaches from the window and rejects every pending call.
func (p *Provider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	pending := p.pending
	p.pending = make(map[uint64]chan protocol.Inbound)
	p.mu.Unlock()

	p.remove()
	for id, done := range pending {
		done <- protocol.Inbound{ID: &id, Error: ErrDisconnected}
	}
	p.scope.Close()
}

func (p *Provider) send(args RequestArguments) (uint64, <-chan protocol.Inbound, error) {
	params, err := positional(args.Params)
	if err != nil {
		return 0, nil, &protocol.RPCError{Code: protocol.CodeInvalidParams, Message: err.Error()}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, nil, ErrDisconnected
	}
	id := p.nextID
	p.nextID++
	done := make(chan protocol.Inbound, 1)
	p.pending[id] = done
	p.mu.Unlock()

	env, err := protocol.NewEnvelope(protocol.KindRPCRequest, protocol.NewRequest(id, args.Method, params))
	if err == nil {
		err = p.win.PostMessage(env)
	}
	if err != nil {
		p.forget(id)
		return 0, nil, errors.Wrap(err, "post request")
	}
	return id, done, nil
}

func (p *Provider) forget(id uint64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Provider) onMessage(ev pagebus.MessageEvent) {
	if ev.Source != p.win {
		return
	}
	env, err := protocol.DecodeEnvelope(ev.Data)
	if err != nil || !env.Is(protocol.KindRPCResponse) || len(env.Payload) == 0 {
		return
	}
	var msg protocol.Inbound
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		log.Warn("provider dropped malformed response", "err", err)
		return
	}

	if msg.IsNotification() {
		p.emit(msg.Method, msg.Params)
		return
	}
	if msg.ID == nil {
		return
	}

	p.mu.Lock()
	done, ok := p.pending[*msg.ID]
	delete(p.pending, *msg.ID)
	p.mu.Unlock()
	if ok {
		done <- msg
	}
}

func (p *Provider) emit(method string, params json.RawMessage) {
	name := method
	if !slices.Contains(namedEvents, method) {
		name = protocol.EventMessage
		raw, err := json.Marshal(Message{Type: method, Data: params})
		if err != nil {
			return
		}
		params = raw
	}

	p.lmu.Lock()
	ls := slices.Clone(p.listeners[name])
	p.lmu.Unlock()
	for _, l := range ls {
		l.fn(params)
	}
	p.feed.Send(Event{Name: name, Params: params})
}

func positional(params any) ([]json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 && raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return []json.RawMessage{raw}, nil
}
