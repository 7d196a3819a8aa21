package accounts

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/constants"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/storage"
)

const (
	addrA = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	addrB = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func newStore(t *testing.T, kv storage.KV) *Store {
	t.Helper()
	s, err := NewStore(kv)
	require.NoError(t, err)
	return s
}

func TestAddSelectsNewAccount(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	_, err := s.Add(ctx, Account{Address: strings.ToLower(addrA), SecretRef: "ref-a"})
	require.NoError(t, err)
	cur, ok, err := s.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, addrA, cur.Address)

	_, err = s.Add(ctx, Account{Address: addrB, SecretRef: "ref-b"})
	require.NoError(t, err)
	cur, ok, err = s.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, addrB, cur.Address)
}

func TestAddRejectsDuplicateAndBadAddress(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	_, err := s.Add(ctx, Account{Address: addrA})
	require.NoError(t, err)

	_, err = s.Add(ctx, Account{Address: strings.ToUpper(addrA[2:])})
	require.True(t, errors.Is(err, ErrDuplicateAccount))

	_, err = s.Add(ctx, Account{Address: "0xabc"})
	require.True(t, errors.Is(err, ErrInvalidAddress))
}

func TestSetCurrentAndUpdateRequireExisting(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	_, err := s.SetCurrent(ctx, addrA)
	require.True(t, errors.Is(err, ErrAccountNotFound))

	_, err = s.Update(ctx, Account{Address: addrA, Name: "x"})
	require.True(t, errors.Is(err, ErrAccountNotFound))

	_, err = s.Remove(ctx, addrA)
	require.True(t, errors.Is(err, ErrAccountNotFound))
}

func TestUpdateKeepsSecretRef(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	_, err := s.Add(ctx, Account{Address: addrA, Name: "old", SecretRef: "ref-a"})
	require.NoError(t, err)

	got, err := s.Update(ctx, Account{Address: addrA, Name: " new "})
	require.NoError(t, err)
	require.Equal(t, "new", got.Name)
	require.Equal(t, "ref-a", got.SecretRef)
}

func TestRemoveCurrentClearsSelection(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	s := newStore(t, kv)

	_, err := s.Add(ctx, Account{Address: addrA})
	require.NoError(t, err)
	_, err = s.Add(ctx, Account{Address: addrB})
	require.NoError(t, err)

	var notified []*Account
	s.OnChange(func(a *Account) { notified = append(notified, a) })

	removed, err := s.Remove(ctx, addrB)
	require.NoError(t, err)
	require.Equal(t, addrB, removed.Address)

	_, ok, err := s.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, notified, 1)
	require.Nil(t, notified[0])

	_, err = kv.Get(ctx, constants.StorageKeyCurrentAccount)
	require.True(t, errors.Is(err, storage.ErrNotFound))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, addrA, list[0].Address)
}

func TestRemoveOtherKeepsSelection(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	_, err := s.Add(ctx, Account{Address: addrA})
	require.NoError(t, err)
	_, err = s.Add(ctx, Account{Address: addrB})
	require.NoError(t, err)

	_, err = s.Remove(ctx, addrA)
	require.NoError(t, err)
	cur, ok, err := s.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, addrB, cur.Address)
}

func TestCallbacksSeeNewCurrentInOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	var order []string
	s.OnChange(func(a *Account) { order = append(order, "1:"+a.Address) })
	s.OnChange(func(a *Account) { order = append(order, "2:"+a.Address) })

	_, err := s.Add(ctx, Account{Address: addrA})
	require.NoError(t, err)
	require.Equal(t, []string{"1:" + addrA, "2:" + addrA}, order)
}

func TestFailedMutationDoesNotNotify(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	calls := 0
	s.OnChange(func(*Account) { calls++ })

	_, err := s.SetCurrent(ctx, addrA)
	require.Error(t, err)
	require.Zero(t, calls)
}

func TestStateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()

	s := newStore(t, kv)
	_, err := s.Add(ctx, Account{Address: addrA, SecretRef: "ref-a"})
	require.NoError(t, err)
	_, err = s.Add(ctx, Account{Address: addrB, SecretRef: "ref-b"})
	require.NoError(t, err)
	_, err = s.SetCurrent(ctx, addrA)
	require.NoError(t, err)

	s.Invalidate()
	cur, ok, err := s.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, addrA, cur.Address)
	assert.Equal(t, "ref-a", cur.SecretRef)

	fresh := newStore(t, kv)
	list, err := fresh.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemory())

	_, err := s.Add(ctx, Account{Address: addrA, SecretRef: "ref-a"})
	require.NoError(t, err)

	removed, err := s.Clear(ctx)
	require.NoError(t, err)
	require.Len(t, removed, 1)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
	_, ok, err := s.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConcurrentSetCurrentOnColdStart(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	require.NoError(t, storage.SetJSON(ctx, kv, constants.StorageKeyAccounts, []Account{
		{Address: addrA, SecretRef: "ref-a"},
		{Address: addrB, SecretRef: "ref-b"},
	}))

	for i := 0; i < 50; i++ {
		s := newStore(t, kv)

		var wg sync.WaitGroup
		for _, addr := range []string{addrA, addrB} {
			wg.Add(1)
			go func(addr string) {
				defer wg.Done()
				_, err := s.SetCurrent(ctx, addr)
				assert.NoError(t, err)
			}(addr)
		}
		wg.Wait()

		cur, ok, err := s.Current(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Contains(t, []string{addrA, addrB}, cur.Address)

		persisted, found, err := storage.GetJSON[string](ctx, kv, constants.StorageKeyCurrentAccount)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, cur.Address, persisted)

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
	}
}

func TestPublicViewHidesSecretRef(t *testing.T) {
	pub := PublicList([]Account{{Address: addrA, Name: "main", SecretRef: "ref-a"}})
	require.Equal(t, []PublicAccount{{Address: addrA, Name: "main"}}, pub)
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
	kv := &flakyKV{Memory: storage.NewMemory(), failKey: constants.StorageKeyCurrentAccount}
	kv.failing.Store(true)
	s := newStore(t, kv)

	_, err := s.Add(ctx, Account{Address: addrA, SecretRef: "ref-a"})
	require.ErrorContains(t, err, "disk full")

	// the list write landed, so the store follows storage
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, addrA, list[0].Address)
	_, ok, err := s.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	s.Invalidate()
	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	kv.failing.Store(false)
	_, err = s.Add(ctx, Account{Address: addrA, SecretRef: "ref-a2"})
	require.True(t, errors.Is(err, ErrDuplicateAccount))
	_, err = s.SetCurrent(ctx, addrA)
	require.NoError(t, err)

	fresh := newStore(t, kv)
	cur, ok, err := fresh.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ref-a", cur.SecretRef)
}

func TestCancelledCallerStillPersists(t *testing.T) {
	kv := storage.NewMemory()
	s := newStore(t, kv)
	_, err := s.List(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Add(ctx, Account{Address: addrA, SecretRef: "ref-a"})
	require.NoError(t, err)

	fresh := newStore(t, kv)
	cur, ok, err := fresh.Current(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, addrA, cur.Address)
}
