package authority

import (
	"context"
	"encoding/json"
	"maps"
	"strings"

	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/accounts"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/networks"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/protocol"
)

type handler func(ctx context.Context, params []json.RawMessage) (any, error)

// commandTable maps command names to handlers. Unknown names are rejected.
type commandTable map[string]handler

func (t commandTable) call(ctx context.Context, name string, params []json.RawMessage) (any, error) {
	h, ok := t[name]
	if !ok {
		return nil, &MethodNotSupportedError{Method: name}
	}
	return h(ctx, params)
}

// AddAccountParams creates an account from a fresh key, or from PrivateKey
// when set.
type AddAccountParams struct {
	Name       string `json:"name,omitempty"`
	PrivateKey string `json:"privateKey,omitempty"`
}

func (a *Authority) buildCommands() {
	a.accountActions = commandTable{
		"addAccount":        a.addAccount,
		"removeAccount":     a.removeAccount,
		"updateAccount":     a.updateAccount,
		"getAccounts":       a.getAccounts,
		"getAccount":        a.getAccount,
		"getCurrentAccount": a.getCurrentAccount,
		"setCurrentAccount": a.setCurrentAccount,
	}
	a.networkActions = commandTable{
		"addNetwork":        a.addNetwork,
		"removeNetwork":     a.removeNetwork,
		"updateNetwork":     a.updateNetwork,
		"getNetworks":       a.getNetworks,
		"getNetwork":        a.getNetwork,
		"getCurrentNetwork": a.getCurrentNetwork,
		"setCurrentNetwork": a.setCurrentNetwork,
	}

	a.ui = commandTable{
		"clearAccounts":       a.clearAccounts,
		"clearNetworks":       a.clearNetworks,
		"getBalance":          a.getBalance,
		"getTransactionCount": a.getTransactionCount,
		"sendTransaction":     a.sendTransaction,
		"signMessage":         a.signMessage,
		"request":             a.uiRequest,
	}
	maps.Copy(a.ui, a.accountActions)
	maps.Copy(a.ui, a.networkActions)
}

// UICommands lists every name accepted by the UI kind.
func (a *Authority) UICommands() []string {
	out := make([]string, 0, len(a.ui))
	for name := range a.ui {
		out = append(out, name)
	}
	return out
}

// accounts

func (a *Authority) addAccount(ctx context.Context, params []json.RawMessage) (any, error) {
	in, err := optionalParam(params, 0, "account", AddAccountParams{})
	if err != nil {
		return nil, err
	}

	var (
		ref  string
		addr string
	)
	if strings.TrimSpace(in.PrivateKey) != "" {
		r, address, err := a.keys.Import(ctx, in.PrivateKey)
		if err != nil {
			return nil, err
		}
		ref, addr = r, address.Hex()
	} else {
		r, address, err := a.keys.Generate(ctx)
		if err != nil {
			return nil, err
		}
		ref, addr = r, address.Hex()
	}

	acct, err := a.accounts.Add(ctx, accounts.Account{Address: addr, Name: in.Name, SecretRef: ref})
	if err != nil {
		// a partial write can still leave the record in storage
		if stored, ok, gerr := a.accounts.Get(ctx, addr); gerr == nil && ok && stored.SecretRef == ref {
			log.Warn("account stored despite add error, keeping key", "address", addr, "err", err)
			return nil, err
		}
		if derr := a.keys.Delete(ctx, ref); derr != nil {
			log.Warn("drop orphaned key", "ref", ref, "err", derr)
		}
		return nil, err
	}
	log.Info("account added", "address", acct.Address)
	return acct.Public(), nil
}

func (a *Authority) removeAccount(ctx context.Context, params []json.RawMessage) (any, error) {
	addr, err := param[string](params, 0, "address")
	if err != nil {
		return nil, err
	}
	removed, err := a.accounts.Remove(ctx, addr)
	if err != nil {
		return nil, err
	}
	a.dropKey(ctx, removed)
	return nil, nil
}

func (a *Authority) updateAccount(ctx context.Context, params []json.RawMessage) (any, error) {
	in, err := param[accounts.PublicAccount](params, 0, "account")
	if err != nil {
		return nil, err
	}
	acct, err := a.accounts.Update(ctx, accounts.Account{Address: in.Address, Name: in.Name})
	if err != nil {
		return nil, err
	}
	return acct.Public(), nil
}

func (a *Authority) getAccounts(ctx context.Context, _ []json.RawMessage) (any, error) {
	list, err := a.accounts.List(ctx)
	if err != nil {
		return nil, err
	}
	return accounts.PublicList(list), nil
}

func (a *Authority) getAccount(ctx context.Context, params []json.RawMessage) (any, error) {
	addr, err := param[string](params, 0, "address")
	if err != nil {
		return nil, err
	}
	acct, ok, err := a.accounts.Get(ctx, addr)
	if err != nil || !ok {
		return nil, err
	}
	return acct.Public(), nil
}

func (a *Authority) getCurrentAccount(ctx context.Context, _ []json.RawMessage) (any, error) {
	acct, ok, err := a.accounts.Current(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return acct.Public(), nil
}

func (a *Authority) setCurrentAccount(ctx context.Context, params []json.RawMessage) (any, error) {
	addr, err := param[string](params, 0, "address")
	if err != nil {
		return nil, err
	}
	acct, err := a.accounts.SetCurrent(ctx, addr)
	if err != nil {
		return nil, err
	}
	return acct.Public(), nil
}

func (a *Authority) clearAccounts(ctx context.Context, _ []json.RawMessage) (any, error) {
	removed, err := a.accounts.Clear(ctx)
	if err != nil {
		return nil, err
	}
	for _, acct := range removed {
		a.dropKey(ctx, acct)
	}
	return nil, nil
}

func (a *Authority) dropKey(ctx context.Context, acct accounts.Account) {
	if acct.SecretRef == "" {
		return
	}
	if err := a.keys.Delete(ctx, acct.SecretRef); err != nil {
		log.Warn("delete key for removed account", "address", acct.Address, "err", err)
	}
}

// networks

func (a *Authority) addNetwork(ctx context.Context, params []json.RawMessage) (any, error) {
	c, err := param[networks.Chain](params, 0, "network")
	if err != nil {
		return nil, err
	}
	return a.networks.Add(ctx, c)
}

func (a *Authority) removeNetwork(ctx context.Context, params []json.RawMessage) (any, error) {
	id, err := chainIDParam(params, 0)
	if err != nil {
		return nil, err
	}
	return nil, a.networks.Remove(ctx, id)
}

func (a *Authority) updateNetwork(ctx context.Context, params []json.RawMessage) (any, error) {
	c, err := param[networks.Chain](params, 0, "network")
	if err != nil {
		return nil, err
	}
	return a.networks.Update(ctx, c)
}

func (a *Authority) getNetworks(ctx context.Context, _ []json.RawMessage) (any, error) {
	return a.networks.List(ctx)
}

func (a *Authority) getNetwork(ctx context.Context, params []json.RawMessage) (any, error) {
	id, err := chainIDParam(params, 0)
	if err != nil {
		return nil, err
	}
	c, ok, err := a.networks.Get(ctx, id)
	if err != nil || !ok {
		return nil, err
	}
	return c, nil
}

func (a *Authority) getCurrentNetwork(ctx context.Context, _ []json.RawMessage) (any, error) {
	return a.networks.Current(ctx)
}

func (a *Authority) setCurrentNetwork(ctx context.Context, params []json.RawMessage) (any, error) {
	id, err := chainIDParam(params, 0)
	if err != nil {
		return nil, err
	}
	return a.networks.SetCurrent(ctx, id)
}

func (a *Authority) clearNetworks(ctx context.Context, _ []json.RawMessage) (any, error) {
	return nil, a.networks.Clear(ctx)
}

// wallet helpers

// getBalance takes [address?, block?] and defaults to the current account at latest.
func (a *Authority) getBalance(ctx context.Context, params []json.RawMessage) (any, error) {
	return a.accountQuery(ctx, "eth_getBalance", params)
}

func (a *Authority) getTransactionCount(ctx context.Context, params []json.RawMessage) (any, error) {
	return a.accountQuery(ctx, "eth_getTransactionCount", params)
}

func (a *Authority) accountQuery(ctx context.Context, method string, params []json.RawMessage) (any, error) {
	addr, err := optionalParam(params, 0, "address", "")
	if err != nil {
		return nil, err
	}
	if addr == "" {
		acct, ok, err := a.accounts.Current(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, accounts.ErrNoAccountSelected
		}
		addr = acct.Address
	}
	block, err := optionalParam(params, 1, "block", "latest")
	if err != nil {
		return nil, err
	}
	args, err := protocol.Positional(addr, block)
	if err != nil {
		return nil, err
	}
	return a.dispatchRPC(ctx, method, args)
}

func (a *Authority) sendTransaction(ctx context.Context, params []json.RawMessage) (any, error) {
	if len(params) == 0 {
		return nil, invalidParams("missing transaction object")
	}
	return a.dispatchRPC(ctx, "eth_sendTransaction", params[:1])
}

// signMessage takes [message] and signs it with the current account.
func (a *Authority) signMessage(ctx context.Context, params []json.RawMessage) (any, error) {
	msg, err := param[string](params, 0, "message")
	if err != nil {
		return nil, err
	}
	acct, ok, err := a.accounts.Current(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, accounts.ErrNoAccountSelected
	}
	args, err := protocol.Positional(msg, acct.Address)
	if err != nil {
		return nil, err
	}
	return a.dispatchRPC(ctx, "personal_sign", args)
}

// uiRequest takes [method, params] and runs it through the RPC path.
func (a *Authority) uiRequest(ctx context.Context, params []json.RawMessage) (any, error) {
	method, err := param[string](params, 0, "method")
	if err != nil {
		return nil, err
	}
	inner, err := optionalParam[[]json.RawMessage](params, 1, "params", nil)
	if err != nil {
		return nil, err
	}
	return a.dispatchRPC(ctx, method, inner)
}
