package networks

import (
	"context"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/constants"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/storage"
)

// ChangeFunc receives the current chain after a mutation.
type ChangeFunc func(current Chain)

// Store owns the chain set and the selected chain. Durable storage is the
// source of truth; the in-memory copy is a cache filled on first access and
// dropped by Invalidate.
//
// Change callbacks run synchronously in registration order after the mutation
// is persisted. A callback must not mutate the Store.
type Store struct {
	kv    storage.KV
	seeds []Chain

	mu      sync.Mutex
	loaded  bool
	chains  []Chain
	current uint64

	notifyMu  sync.Mutex
	cbMu      sync.Mutex
	callbacks []ChangeFunc
}

// NewStore builds a store over kv. seeds must hold the mainnet chain first and
// the testnet chain second; both are protected. With no seeds, DefaultSeeds is used.
func NewStore(kv storage.KV, seeds ...Chain) (*Store, error) {
	if kv == nil {
		return nil, errors.New("networks: nil storage")
	}
	if len(seeds) == 0 {
		seeds = DefaultSeeds()
	}
	if len(seeds) != 2 {
		return nil, errors.Newf("networks: want 2 protected seeds, got %d", len(seeds))
	}
	norm := make([]Chain, 0, len(seeds))
	for _, c := range seeds {
		n, err := Normalize(c)
		if err != nil {
			return nil, errors.Wrapf(err, "seed %d", c.ID)
		}
		n.Protected = true
		norm = append(norm, n)
	}
	if norm[0].ID == norm[1].ID {
		return nil, errors.Newf("networks: duplicate seed id %d", norm[0].ID)
	}
	return &Store{kv: kv, seeds: norm}, nil
}

func (s *Store) MainnetID() uint64 { return s.seeds[0].ID }

// OnChange registers fn. Registrations do not survive a restart.
func (s *Store) OnChange(fn ChangeFunc) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Invalidate drops the cached state so the next call reloads from storage.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
	s.chains = nil
	s.current = 0
}

func (s *Store) List(ctx context.Context) ([]Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	out := make([]Chain, 0, len(s.chains))
	for _, c := range s.chains {
		out = append(out, c.clone())
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id uint64) (Chain, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return Chain{}, false, err
	}
	i := s.indexOf(id)
	if i < 0 {
		return Chain{}, false, nil
	}
	return s.chains[i].clone(), true, nil
}

// Current always resolves to a chain in the set once loaded.
func (s *Store) Current(ctx context.Context) (Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return Chain{}, err
	}
	return s.currentLocked(), nil
}

func (s *Store) Add(ctx context.Context, c Chain) (Chain, error) {
	c, err := Normalize(c)
	if err != nil {
		return Chain{}, err
	}
	c = enrich(c)
	c.Protected = false

	return s.mutate(ctx, func() (Chain, error) {
		if s.indexOf(c.ID) >= 0 {
			return Chain{}, errors.Wrapf(ErrDuplicateNetwork, "chain id %d", c.ID)
		}
		next := append(slices.Clone(s.chains), c)
		if err := s.persist(ctx, next, s.current); err != nil {
			return Chain{}, err
		}
		s.chains = next
		return c.clone(), nil
	})
}

func (s *Store) Update(ctx context.Context, c Chain) (Chain, error) {
	c, err := Normalize(c)
	if err != nil {
		return Chain{}, err
	}
	c = enrich(c)

	return s.mutate(ctx, func() (Chain, error) {
		i := s.indexOf(c.ID)
		if i < 0 {
			return Chain{}, errors.Wrapf(ErrNetworkNotFound, "chain id %d", c.ID)
		}
		if s.chains[i].Protected {
			return Chain{}, errors.Wrapf(ErrProtectedNetwork, "chain id %d", c.ID)
		}
		c.Protected = false
		next := slices.Clone(s.chains)
		next[i] = c
		if err := s.persist(ctx, next, s.current); err != nil {
			return Chain{}, err
		}
		s.chains = next
		return c.clone(), nil
	})
}

// Remove deletes a user-added chain. Removing the selected chain moves the
// selection to mainnet first.
func (s *Store) Remove(ctx context.Context, id uint64) error {
	_, err := s.mutate(ctx, func() (Chain, error) {
		i := s.indexOf(id)
		if i < 0 {
			return Chain{}, errors.Wrapf(ErrNetworkNotFound, "chain id %d", id)
		}
		if s.chains[i].Protected {
			return Chain{}, errors.Wrapf(ErrProtectedNetwork, "chain id %d", id)
		}
		cur := s.current
		if cur == id {
			cur = s.MainnetID()
		}
		next := slices.Delete(slices.Clone(s.chains), i, i+1)
		if err := s.persist(ctx, next, cur); err != nil {
			return Chain{}, err
		}
		s.chains, s.current = next, cur
		return Chain{}, nil
	})
	return err
}

// SetCurrent selects id. An unknown id selects mainnet instead of failing.
func (s *Store) SetCurrent(ctx context.Context, id uint64) (Chain, error) {
	return s.mutate(ctx, func() (Chain, error) {
		if s.indexOf(id) < 0 {
			log.Warn("unknown chain selected, falling back to mainnet", "chainId", id)
			id = s.MainnetID()
		}
		if err := s.persist(ctx, s.chains, id); err != nil {
			return Chain{}, err
		}
		s.current = id
		return s.currentLocked(), nil
	})
}

// Clear keeps only the protected chains.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.mutate(ctx, func() (Chain, error) {
		next := make([]Chain, 0, len(s.seeds))
		for _, c := range s.chains {
			if c.Protected {
				next = append(next, c)
			}
		}
		cur := s.current
		if !slices.ContainsFunc(next, func(c Chain) bool { return c.ID == cur }) {
			cur = s.MainnetID()
		}
		if err := s.persist(ctx, next, cur); err != nil {
			return Chain{}, err
		}
		s.chains, s.current = next, cur
		return Chain{}, nil
	})
	return err
}

// mutate runs fn under the store lock, then fans out the new selection.
func (s *Store) mutate(ctx context.Context, fn func() (Chain, error)) (Chain, error) {
	s.mu.Lock()
	if err := s.ensureLoaded(ctx); err != nil {
		s.mu.Unlock()
		return Chain{}, err
	}
	out, err := fn()
	if err != nil {
		s.mu.Unlock()
		return Chain{}, err
	}
	cur := s.currentLocked()

	// notifyMu is taken before mu is released so callbacks observe mutations in order.
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.cbMu.Lock()
	cbs := slices.Clone(s.callbacks)
	s.cbMu.Unlock()
	for _, cb := range cbs {
		cb(cur.clone())
	}
	return out, nil
}

func (s *Store) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	chains, _, err := storage.GetJSON[[]Chain](ctx, s.kv, constants.StorageKeyNetworks)
	if err != nil {
		return errors.Wrap(err, "load networks")
	}
	current, hasCurrent, err := storage.GetJSON[uint64](ctx, s.kv, constants.StorageKeyCurrentChainID)
	if err != nil {
		return errors.Wrap(err, "load current network")
	}

	dirty := false
	if len(chains) == 0 {
		chains = nil
		for _, c := range s.seeds {
			chains = append(chains, c.clone())
		}
		dirty = true
	}

	// protection follows the seed ids, never the persisted flag
	for i := range chains {
		chains[i].Protected = s.isSeed(chains[i].ID)
	}
	for i, seed := range s.seeds {
		if !slices.ContainsFunc(chains, func(c Chain) bool { return c.ID == seed.ID }) {
			log.Warn("protected network missing from storage, restoring", "chainId", seed.ID)
			chains = slices.Insert(chains, min(i, len(chains)), seed.clone())
			dirty = true
		}
	}

	if !hasCurrent || !slices.ContainsFunc(chains, func(c Chain) bool { return c.ID == current }) {
		current = s.MainnetID()
		hasCurrent = false
	}

	if dirty || !hasCurrent {
		if err := s.persist(ctx, chains, current); err != nil {
			return err
		}
	}

	s.chains = chains
	s.current = current
	s.loaded = true
	return nil
}

// persist writes through to storage regardless of the caller's cancellation.
// On failure the cache is dropped and the next call reloads from storage.
func (s *Store) persist(ctx context.Context, chains []Chain, current uint64) error {
	ctx = context.WithoutCancel(ctx)
	if err := storage.SetJSON(ctx, s.kv, constants.StorageKeyNetworks, chains); err != nil {
		s.loaded = false
		return errors.Wrap(err, "persist networks")
	}
	if err := storage.SetJSON(ctx, s.kv, constants.StorageKeyCurrentChainID, current); err != nil {
		s.loaded = false
		return errors.Wrap(err, "persist current network")
	}
	return nil
}

func (s *Store) currentLocked() Chain {
	if i := s.indexOf(s.current); i >= 0 {
		return s.chains[i].clone()
	}
	return s.chains[s.indexOf(s.MainnetID())].clone()
}

func (s *Store) indexOf(id uint64) int {
	return slices.IndexFunc(s.chains, func(c Chain) bool { return c.ID == id })
}

func (s *Store) isSeed(id uint64) bool {
	return s.seeds[0].ID == id || s.seeds[1].ID == id
}
