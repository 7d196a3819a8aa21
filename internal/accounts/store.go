package accounts

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/constants"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/storage"
)

// ChangeFunc receives the current account after a mutation, or nil when
// nothing is selected.
type ChangeFunc func(current *Account)

// Store owns the account set and the selected account. State is cached from
// durable storage on first access and every mutation writes through before
// returning.
//
// Change callbacks run synchronously in registration order. A callback must
// not mutate the Store.
type Store struct {
	kv storage.KV

	mu       sync.Mutex
	loaded   bool
	accounts []Account
	current  string

	notifyMu  sync.Mutex
	cbMu      sync.Mutex
	callbacks []ChangeFunc
}

func NewStore(kv storage.KV) (*Store, error) {
	if kv == nil {
		return nil, errors.New("accounts: nil storage")
	}
	return &Store{kv: kv}, nil
}

// OnChange registers fn. Callbacks run synchronously after each committed
// mutation, in registration order, and must not mutate the store.
func (s *Store) OnChange(fn ChangeFunc) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Invalidate drops the cache; the next call reloads from storage.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.accounts = nil
	s.current = ""
}

func (s *Store) List(ctx context.Context) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(s.accounts), nil
}

func (s *Store) Get(ctx context.Context, address string) (Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return Account{}, false, err
	}
	i := s.indexOf(address)
	if i < 0 {
		return Account{}, false, nil
	}
	return s.accounts[i], true, nil
}

func (s *Store) Current(ctx context.Context) (Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return Account{}, false, err
	}
	a := s.currentLocked()
	if a == nil {
		return Account{}, false, nil
	}
	return *a, true, nil
}

// Add stores a and selects it.
func (s *Store) Add(ctx context.Context, a Account) (Account, error) {
	addr, err := NormalizeAddress(a.Address)
	if err != nil {
		return Account{}, err
	}
	a.Address = addr
	a.Name = strings.TrimSpace(a.Name)

	err = s.mutate(ctx, func() error {
		if s.indexOf(addr) >= 0 {
			return errors.Wrapf(ErrDuplicateAccount, "%s", addr)
		}
		next := append(slices.Clone(s.accounts), a)
		if err := s.persist(ctx, next, addr); err != nil {
			return err
		}
		s.accounts, s.current = next, addr
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

// Remove deletes the account. Removing the selected account leaves nothing
// selected.
func (s *Store) Remove(ctx context.Context, address string) (Account, error) {
	var removed Account
	err := s.mutate(ctx, func() error {
		i := s.indexOf(address)
		if i < 0 {
			return errors.Wrapf(ErrAccountNotFound, "%s", address)
		}
		removed = s.accounts[i]
		cur := s.current
		if strings.EqualFold(cur, removed.Address) {
			cur = ""
		}
		next := slices.Delete(slices.Clone(s.accounts), i, i+1)
		if err := s.persist(ctx, next, cur); err != nil {
			return err
		}
		s.accounts, s.current = next, cur
		return nil
	})
	return removed, err
}

// Update replaces the stored record. An empty SecretRef keeps the stored one.
func (s *Store) Update(ctx context.Context, a Account) (Account, error) {
	var out Account
	err := s.mutate(ctx, func() error {
		i := s.indexOf(a.Address)
		if i < 0 {
			return errors.Wrapf(ErrAccountNotFound, "%s", a.Address)
		}
		out = s.accounts[i]
		out.Name = strings.TrimSpace(a.Name)
		if a.SecretRef != "" {
			out.SecretRef = a.SecretRef
		}
		next := slices.Clone(s.accounts)
		next[i] = out
		if err := s.persist(ctx, next, s.current); err != nil {
			return err
		}
		s.accounts = next
		return nil
	})
	return out, err
}

func (s *Store) SetCurrent(ctx context.Context, address string) (Account, error) {
	var out Account
	err := s.mutate(ctx, func() error {
		i := s.indexOf(address)
		if i < 0 {
			return errors.Wrapf(ErrAccountNotFound, "%s", address)
		}
		out = s.accounts[i]
		if err := s.persist(ctx, s.accounts, out.Address); err != nil {
			return err
		}
		s.current = out.Address
		return nil
	})
	return out, err
}

// Clear removes every account and the selection. The removed records are
// returned so their keys can be dropped from the keyring.
func (s *Store) Clear(ctx context.Context) ([]Account, error) {
	var removed []Account
	err := s.mutate(ctx, func() error {
		if err := s.persist(ctx, []Account{}, ""); err != nil {
			return err
		}
		removed = s.accounts
		s.accounts, s.current = nil, ""
		return nil
	})
	return removed, err
}

func (s *Store) mutate(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	if err := s.ensureLoaded(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	var cur *Account
	if a := s.currentLocked(); a != nil {
		c := *a
		cur = &c
	}

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.cbMu.Lock()
	cbs := slices.Clone(s.callbacks)
	s.cbMu.Unlock()
	for _, cb := range cbs {
		if cur == nil {
			cb(nil)
			continue
		}
		c := *cur
		cb(&c)
	}
	return nil
}

func (s *Store) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	accts, _, err := storage.GetJSON[[]Account](ctx, s.kv, constants.StorageKeyAccounts)
	if err != nil {
		return errors.Wrap(err, "load accounts")
	}
	current, _, err := storage.GetJSON[string](ctx, s.kv, constants.StorageKeyCurrentAccount)
	if err != nil {
		return errors.Wrap(err, "load current account")
	}

	s.accounts = accts
	s.current = ""
	if i := s.indexOf(current); i >= 0 {
		s.current = s.accounts[i].Address
	}
	s.loaded = true
	return nil
}

// persist writes the records through to storage. The writes are not bound to
// the caller's cancellation. A failed write drops the cache so the next call
// reloads whatever storage holds.
func (s *Store) persist(ctx context.Context, accts []Account, current string) error {
	if err := s.write(context.WithoutCancel(ctx), accts, current); err != nil {
		s.loaded = false
		return err
	}
	return nil
}

func (s *Store) write(ctx context.Context, accts []Account, current string) error {
	if accts == nil {
		accts = []Account{}
	}
	if err := storage.SetJSON(ctx, s.kv, constants.StorageKeyAccounts, accts); err != nil {
		return errors.Wrap(err, "persist accounts")
	}
	if current == "" {
		if err := s.kv.Delete(ctx, constants.StorageKeyCurrentAccount); err != nil {
			return errors.Wrap(err, "clear current account")
		}
		return nil
	}
	if err := storage.SetJSON(ctx, s.kv, constants.StorageKeyCurrentAccount, current); err != nil {
		return errors.Wrap(err, "persist current account")
	}
	return nil
}

func (s *Store) currentLocked() *Account {
	if s.current == "" {
		return nil
	}
	if i := s.indexOf(s.current); i >= 0 {
		return &s.accounts[i]
	}
	return nil
}

// indexOf compares addresses case-insensitively.
func (s *Store) indexOf(address string) int {
	address = strings.TrimSpace(address)
	if address == "" {
		return -1
	}
	return slices.IndexFunc(s.accounts, func(a Account) bool {
		return strings.EqualFold(a.Address, address)
	})
}
