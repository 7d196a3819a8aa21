package chains

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/accounts"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/keyring"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/networks"
)

// Factory hands out clients bound to the current chain and account. Cached
// clients are dropped on every store change and rebuilt on next use. Callers
// Close what they get; a dropped client stays open until its last holder
// releases it.
type Factory struct {
	accounts *accounts.Store
	networks *networks.Store
	keys     keyring.Keyring
	dialer   Dialer

	mu         sync.Mutex
	generation uint64
	read       *sharedRead
	signing    *sharedSigning
}

// NewFactory subscribes to both stores.
func NewFactory(acc *accounts.Store, nets *networks.Store, keys keyring.Keyring, dialer Dialer) *Factory {
	if dialer == nil {
		dialer = RPCDialer{}
	}
	f := &Factory{accounts: acc, networks: nets, keys: keys, dialer: dialer}
	acc.OnChange(func(*accounts.Account) { f.Invalidate() })
	nets.OnChange(func(networks.Chain) { f.Invalidate() })
	return f
}

// Invalidate forgets the cached clients. Calls already holding them finish
// before they are closed.
func (f *Factory) Invalidate() {
	f.mu.Lock()
	read, signing := f.read, f.signing
	f.read, f.signing = nil, nil
	f.generation++
	f.mu.Unlock()

	if read != nil {
		read.l.retire()
	}
	if signing != nil {
		signing.l.retire()
	}
}

// ReadClient never requires a selected account.
func (f *Factory) ReadClient(ctx context.Context) (ReadCapability, error) {
	for {
		f.mu.Lock()
		if f.read != nil {
			r := f.read
			r.l.acquire()
			f.mu.Unlock()
			return r, nil
		}
		gen := f.generation
		f.mu.Unlock()

		chain, err := f.networks.Current(ctx)
		if err != nil {
			return nil, err
		}
		built, err := f.dialer.DialRead(ctx, chain)
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		switch {
		case f.generation != gen:
			// a store changed while dialing
			f.mu.Unlock()
			built.Close()
			continue
		case f.read != nil:
			existing := f.read
			existing.l.acquire()
			f.mu.Unlock()
			built.Close()
			return existing, nil
		}
		shared := newSharedRead(built)
		shared.l.acquire()
		f.read = shared
		f.mu.Unlock()
		log.Info("read client built", "chainId", chain.ID)
		return shared, nil
	}
}

// SigningClient fails with accounts.ErrNoAccountSelected when nothing is selected.
func (f *Factory) SigningClient(ctx context.Context) (SigningCapability, error) {
	for {
		f.mu.Lock()
		if f.signing != nil {
			s := f.signing
			s.l.acquire()
			f.mu.Unlock()
			return s, nil
		}
		gen := f.generation
		f.mu.Unlock()

		acct, ok, err := f.accounts.Current(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, accounts.ErrNoAccountSelected
		}
		chain, err := f.networks.Current(ctx)
		if err != nil {
			return nil, err
		}
		key, err := f.keys.Resolve(ctx, acct.SecretRef)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve key for %s", acct.Address)
		}
		built, err := f.dialer.DialSigning(ctx, chain, key)
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		switch {
		case f.generation != gen:
			f.mu.Unlock()
			built.Close()
			continue
		case f.signing != nil:
			existing := f.signing
			existing.l.acquire()
			f.mu.Unlock()
			built.Close()
			return existing, nil
		}
		shared := newSharedSigning(built)
		shared.l.acquire()
		f.signing = shared
		f.mu.Unlock()
		log.Info("signing client built", "chainId", chain.ID, "account", acct.Address)
		return shared, nil
	}
}

// Close retires cached clients on shutdown.
func (f *Factory) Close() {
	f.Invalidate()
}
