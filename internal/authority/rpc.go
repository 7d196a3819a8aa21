package authority

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/accounts"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/protocol"
)

// readOnlyMethods never need a selected account.
var readOnlyMethods = mapset.NewThreadUnsafeSet(
	"eth_getBalance",
	"eth_getTransactionCount",
	"eth_getBlockByNumber",
	"eth_getBlockByHash",
	"eth_getTransactionByHash",
	"eth_getTransactionReceipt",
	"eth_call",
	"eth_estimateGas",
	"eth_getLogs",
)

var servedNamespaces = mapset.NewThreadUnsafeSet("eth", "net", "web3", "personal", "wallet")

// IsReadOnly reports whether method is routed to the read client.
func IsReadOnly(method string) bool {
	return readOnlyMethods.Contains(method)
}

func served(method string) bool {
	ns, rest, ok := strings.Cut(method, "_")
	return ok && rest != "" && servedNamespaces.Contains(ns)
}

func (a *Authority) dispatchRPC(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	switch method {
	case "eth_accounts", "eth_requestAccounts":
		acct, ok, err := a.accounts.Current(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, accounts.ErrNoAccountSelected
		}
		return json.Marshal([]string{acct.Address})
	case "eth_chainId":
		chain, err := a.networks.Current(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(chain.HexID())
	case "net_version":
		chain, err := a.networks.Current(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(strconv.FormatUint(chain.ID, 10))
	case "wallet_switchEthereumChain":
		return a.switchChain(ctx, params)
	}

	if !served(method) {
		return nil, &MethodNotSupportedError{Method: method}
	}
	if IsReadOnly(method) {
		rc, err := a.clients.ReadClient(ctx)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return rc.ReadCall(ctx, method, params)
	}
	sc, err := a.clients.SigningClient(ctx)
	if err != nil {
		return nil, err
	}
	defer sc.Close()
	return sc.SignedCall(ctx, method, params)
}

// switchChain takes [{chainId}] and, unlike setCurrentNetwork, refuses
// unknown chains so the page can offer to add them.
func (a *Authority) switchChain(ctx context.Context, params []json.RawMessage) (json.RawMessage, error) {
	arg, err := param[struct {
		ChainID json.RawMessage `json:"chainId"`
	}](params, 0, "switch chain object")
	if err != nil {
		return nil, err
	}
	if len(arg.ChainID) == 0 {
		return nil, invalidParams("missing chainId")
	}
	id, err := parseChainID(arg.ChainID)
	if err != nil {
		return nil, err
	}
	if _, ok, err := a.networks.Get(ctx, id); err != nil {
		return nil, err
	} else if !ok {
		return nil, &protocol.RPCError{Code: protocol.CodeUnknownChain, Message: "Unrecognized chain ID " + strconv.FormatUint(id, 10)}
	}
	if _, err := a.networks.SetCurrent(ctx, id); err != nil {
		return nil, err
	}
	return json.RawMessage("null"), nil
}
