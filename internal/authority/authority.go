// Package authority answers every relayed request on behalf of the wallet.
// It is the only component that touches the stores, the keyring and the
// chain clients.
package authority

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/accounts"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/chains"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/keyring"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/networks"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/protocol"
)

// ClientSource hands out the chain capabilities for the current selection.
// Each capability is closed by the caller once its call is done.
type ClientSource interface {
	ReadClient(ctx context.Context) (chains.ReadCapability, error)
	SigningClient(ctx context.Context) (chains.SigningCapability, error)
}

type Authority struct {
	accounts *accounts.Store
	networks *networks.Store
	clients  ClientSource
	keys     keyring.Keyring

	accountActions commandTable
	networkActions commandTable
	ui             commandTable

	feed      event.Feed
	lastChain atomic.Uint64
}

func New(acc *accounts.Store, nets *networks.Store, clients ClientSource, keys keyring.Keyring) *Authority {
	a := &Authority{
		accounts: acc,
		networks: nets,
		clients:  clients,
		keys:     keys,
	}
	a.buildCommands()

	acc.OnChange(a.onAccountChange)
	nets.OnChange(a.onNetworkChange)
	return a
}

// Handle answers one envelope. handled is false for tags the authority does
// not serve and for payloads that cannot be correlated to a caller.
func (a *Authority) Handle(ctx context.Context, env protocol.Envelope) (reply json.RawMessage, handled bool) {
	kind, ok := env.Kind()
	if !ok {
		return nil, false
	}

	var out any
	switch kind {
	case protocol.KindRPCRequest:
		resp, ok := a.handleRPCPayload(ctx, env.Payload)
		if !ok {
			return nil, false
		}
		out = resp
	case protocol.KindAccountManagement:
		out = a.handleManagement(ctx, env.Payload, a.accountActions)
	case protocol.KindNetworkManagement:
		out = a.handleManagement(ctx, env.Payload, a.networkActions)
	case protocol.KindUIRequest:
		out = a.handleUI(ctx, env.Payload)
	default:
		return nil, false
	}

	b, err := json.Marshal(out)
	if err != nil {
		log.Error("encode authority reply", "kind", kind, "err", err)
		b, _ = json.Marshal(protocol.Result{Success: false, Error: "internal error"})
	}
	return b, true
}

func (a *Authority) handleRPCPayload(ctx context.Context, payload json.RawMessage) (protocol.Response, bool) {
	var head struct {
		ID *uint64 `json:"id"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.ID == nil {
		log.Warn("dropping uncorrelatable rpc payload", "err", err)
		return protocol.Response{}, false
	}
	id := *head.ID

	// the id is known from here on, so every shape error gets an answer
	var body struct {
		Method json.RawMessage `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return protocol.NewErrorResponse(id, &protocol.RPCError{Code: protocol.CodeInvalidRequest, Message: err.Error()}), true
	}
	var method string
	if err := json.Unmarshal(body.Method, &method); err != nil || method == "" {
		return protocol.NewErrorResponse(id, &protocol.RPCError{
			Code:    protocol.CodeInvalidRequest,
			Message: "method must be a non-empty string",
		}), true
	}
	var params []json.RawMessage
	if len(body.Params) > 0 {
		if err := json.Unmarshal(body.Params, &params); err != nil {
			return protocol.NewErrorResponse(id, &protocol.RPCError{
				Code:    protocol.CodeInvalidParams,
				Message: "params must be an array",
			}), true
		}
	}
	return a.HandleRPC(ctx, protocol.NewRequest(id, method, params)), true
}

// HandleRPC produces exactly one response for req.
func (a *Authority) HandleRPC(ctx context.Context, req protocol.Request) protocol.Response {
	result, err := a.dispatchRPC(ctx, req.Method, req.Params)
	if err != nil {
		rpcErr := toRPCError(err)
		if rpcErr.Code == protocol.CodeInternalError {
			log.Warn("rpc request failed", "method", req.Method, "err", err)
		}
		return protocol.NewErrorResponse(req.ID, rpcErr)
	}
	return protocol.NewResult(req.ID, result)
}

func (a *Authority) handleManagement(ctx context.Context, payload json.RawMessage, actions commandTable) protocol.Result {
	var req protocol.ManagementRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return failure(invalidParams("management request: %v", err))
	}
	return toResult(actions.call(ctx, req.Action, req.Params))
}

func (a *Authority) handleUI(ctx context.Context, payload json.RawMessage) protocol.Result {
	var req protocol.UIRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return failure(invalidParams("ui request: %v", err))
	}
	return toResult(a.ui.call(ctx, req.Method, req.Params))
}

func toResult(data any, err error) protocol.Result {
	if err != nil {
		return failure(err)
	}
	return protocol.Result{Success: true, Data: data}
}

func failure(err error) protocol.Result {
	return protocol.Result{Success: false, Error: err.Error()}
}

// SubscribeNotifications delivers every pushed envelope to ch. Subscribers
// must keep draining ch; store mutations wait for delivery.
func (a *Authority) SubscribeNotifications(ch chan<- protocol.Envelope) event.Subscription {
	return a.feed.Subscribe(ch)
}

// ConnectNotification is the greeting sent to a freshly attached page.
func (a *Authority) ConnectNotification(ctx context.Context) (protocol.Envelope, error) {
	chain, err := a.networks.Current(ctx)
	if err != nil {
		return protocol.Envelope{}, errors.Wrap(err, "current network")
	}
	a.lastChain.Store(chain.ID)
	return protocol.NotificationEnvelope(protocol.EventConnect, map[string]string{"chainId": chain.HexID()})
}

func (a *Authority) onAccountChange(current *accounts.Account) {
	addrs := []string{}
	if current != nil {
		addrs = append(addrs, current.Address)
	}
	a.push(protocol.EventAccountsChanged, addrs)
}

func (a *Authority) onNetworkChange(current networks.Chain) {
	if a.lastChain.Swap(current.ID) == current.ID {
		return
	}
	a.push(protocol.EventChainChanged, current.HexID())
}

func (a *Authority) push(name string, params any) {
	env, err := protocol.NotificationEnvelope(name, params)
	if err != nil {
		log.Error("build notification", "event", name, "err", err)
		return
	}
	a.feed.Send(env)
}
