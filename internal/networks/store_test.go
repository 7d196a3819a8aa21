package networks

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/constants"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/storage"
)

func optimism() Chain {
	return Chain{
		ID:                   10,
		Name:                 "OP Mainnet",
		RPCEndpoints:         []string{"https://mainnet.optimism.io"},
		NativeCurrencySymbol: "ETH",
	}
}

func newStore(t *testing.T, kv storage.KV) *Store {
	t.Helper()
	s, err := NewStore(kv)
	require.NoError(t, err)
	return s
}

func ids(chains []Chain) []uint64 {
	out := make([]uint64, 0, len(chains))
	for _, c := range chains {
		out = append(out, c.ID)
	}
	return out
}

func TestFirstLoadSeedsProtectedChains(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	s := newStore(t, kv)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 11155111}, ids(list))
	for _, c := range list {
		assert.True(t, c.Protected)
	}

	cur, err := s.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cur.ID)

	persisted, found, err := storage.GetJSON[uint64](ctx, kv, constants.StorageKeyCurrentChainID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), persisted)
}

func TestAddNetworkKeepsSeeds(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	added, err := s.Add(ctx, optimism())
	require.NoError(t, err)
	require.False(t, added.Protected)
	require.Equal(t, "https://optimistic.etherscan.io", added.ExplorerURL)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 11155111, 10}, ids(list))

	_, err = s.Add(ctx, optimism())
	require.True(t, errors.Is(err, ErrDuplicateNetwork))
}

func TestAddNetworkCannotClaimProtection(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	c := optimism()
	c.Protected = true
	_, err := s.Add(ctx, c)
	require.NoError(t, err)

	require.NoError(t, s.Remove(ctx, 10))
}

func TestAddNetworkValidatesShape(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	cases := map[string]func(c *Chain){
		"zero id":     func(c *Chain) { c.ID = 0 },
		"no name":     func(c *Chain) { c.Name = "  " },
		"no rpc":      func(c *Chain) { c.RPCEndpoints = nil },
		"bad rpc":     func(c *Chain) { c.RPCEndpoints = []string{"ftp://x"} },
		"no currency": func(c *Chain) { c.NativeCurrencySymbol = "" },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			c := optimism()
			mut(&c)
			_, err := s.Add(ctx, c)
			require.True(t, errors.Is(err, ErrInvalidNetwork))
		})
	}
}

func TestRemoveProtectedAlwaysFails(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	for _, current := range []uint64{1, 11155111} {
		_, err := s.SetCurrent(ctx, current)
		require.NoError(t, err)
		for _, id := range []uint64{1, 11155111} {
			err := s.Remove(ctx, id)
			require.True(t, errors.Is(err, ErrProtectedNetwork), "remove %d while %d selected", id, current)
		}
	}

	require.True(t, errors.Is(s.Remove(ctx, 999), ErrNetworkNotFound))
}

func TestRemoveSelectedFallsBackToMainnet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	_, err := s.Add(ctx, optimism())
	require.NoError(t, err)
	_, err = s.SetCurrent(ctx, 10)
	require.NoError(t, err)

	var seen []uint64
	s.OnChange(func(c Chain) { seen = append(seen, c.ID) })

	require.NoError(t, s.Remove(ctx, 10))
	cur, err := s.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cur.ID)
	require.Equal(t, []uint64{1}, seen)
}

func TestUpdateNetwork(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	_, err := s.Add(ctx, optimism())
	require.NoError(t, err)

	c := optimism()
	c.Name = "Optimism"
	c.RPCEndpoints = []string{"https://a.example", "https://a.example", " https://b.example "}
	got, err := s.Update(ctx, c)
	require.NoError(t, err)
	require.Equal(t, "Optimism", got.Name)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, got.RPCEndpoints)

	mainnet := Mainnet
	mainnet.Name = "Renamed"
	_, err = s.Update(ctx, mainnet)
	require.True(t, errors.Is(err, ErrProtectedNetwork))

	missing := optimism()
	missing.ID = 4242
	_, err = s.Update(ctx, missing)
	require.True(t, errors.Is(err, ErrNetworkNotFound))
}

func TestSetCurrentUnknownFallsBackToMainnet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	_, err := s.SetCurrent(ctx, 11155111)
	require.NoError(t, err)

	got, err := s.SetCurrent(ctx, 123456)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.ID)

	cur, err := s.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cur.ID)
}

func TestInvalidateReloadsFromStorage(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()

	s := newStore(t, kv)
	_, err := s.Add(ctx, optimism())
	require.NoError(t, err)
	_, err = s.SetCurrent(ctx, 10)
	require.NoError(t, err)

	s.Invalidate()
	cur, err := s.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(10), cur.ID)

	restarted := newStore(t, kv)
	list, err := restarted.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 11155111, 10}, ids(list))
}

func TestLoadRepairsDanglingSelectionAndMissingSeed(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()

	require.NoError(t, storage.SetJSON(ctx, kv, constants.StorageKeyNetworks, []Chain{Sepolia, optimism()}))
	require.NoError(t, storage.SetJSON(ctx, kv, constants.StorageKeyCurrentChainID, uint64(77)))

	s := newStore(t, kv)
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 11155111, 10}, ids(list))

	cur, err := s.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cur.ID)
}

func TestClearKeepsProtected(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	_, err := s.Add(ctx, optimism())
	require.NoError(t, err)
	_, err = s.SetCurrent(ctx, 10)
	require.NoError(t, err)

	require.NoError(t, s.Clear(ctx))
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 11155111}, ids(list))

	cur, err := s.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cur.ID)
}

func TestCallbacksRunInRegistrationOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	var order []string
	s.OnChange(func(Chain) { order = append(order, "first") })
	s.OnChange(func(Chain) { order = append(order, "second") })

	_, err := s.SetCurrent(ctx, 11155111)
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, order)
}

func TestCustomSeeds(t *testing.T) {
	_, err := NewStore(storage.NewMemory(), Mainnet)
	require.Error(t, err)

	local := Chain{ID: 31337, Name: "Hardhat", RPCEndpoints: []string{"http://127.0.0.1:8545"}, NativeCurrencySymbol: "ETH"}
	s, err := NewStore(storage.NewMemory(), local, Sepolia)
	require.NoError(t, err)
	require.Equal(t, uint64(31337), s.MainnetID())

	cur, err := s.Current(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0x7a69", cur.HexID())
}

// flakyKV fails every Set of failKey while failing is on.
type flakyKV struct {
	*storage.Memory
	failKey string
	failing atomic.Bool
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	if key == f.failKey && f.failing.Load() {
		return errors.New("disk full")
	}
	return f.Memory.Set(ctx, key, value)
}

func TestPartialWriteReloadsFromStorage(t *testing.T) {
	ctx := context.Background()
	kv := &flakyKV{Memory: storage.NewMemory(), failKey: constants.StorageKeyCurrentChainID}
	s := newStore(t, kv)
	_, err := s.List(ctx)
	require.NoError(t, err)

	kv.failing.Store(true)
	_, err = s.Add(ctx, optimism())
	require.ErrorContains(t, err, "disk full")

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 11155111, 10}, ids(list))

	_, err = s.SetCurrent(ctx, 10)
	require.ErrorContains(t, err, "disk full")
	cur, err := s.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cur.ID)

	kv.failing.Store(false)
	_, err = s.Add(ctx, optimism())
	require.True(t, errors.Is(err, ErrDuplicateNetwork))
	_, err = s.SetCurrent(ctx, 10)
	require.NoError(t, err)

	fresh := newStore(t, kv)
	cur, err = fresh.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(10), cur.ID)
}

func TestCancelledCallerStillPersists(t *testing.T) {
	kv := storage.NewMemory()
	s := newStore(t, kv)
	_, err := s.List(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Add(ctx, optimism())
	require.NoError(t, err)

	list, err := newStore(t, kv).List(context.Background())
	require.NoError(t, err)
	require.Contains(t, ids(list), uint64(10))
}
