package keyring

import (
	"context"
	"crypto/ecdsa"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Memory is an unencrypted in-process keyring.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Generate(ctx context.Context) (string, common.Address, error) {
	e, err := randomEntry()
	if err != nil {
		return "", common.Address{}, err
	}
	return m.put(e), e.Address(), nil
}

func (m *Memory) Import(ctx context.Context, privKeyHex string) (string, common.Address, error) {
	e, err := importEntry(privKeyHex)
	if err != nil {
		return "", common.Address{}, err
	}
	return m.put(e), e.Address(), nil
}

func (m *Memory) Resolve(ctx context.Context, ref string) (*ecdsa.PrivateKey, error) {
	m.mu.RLock()
	e, ok := m.entries[ref]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrKeyNotFound, "ref %s", ref)
	}
	return e.PrivateKey()
}

func (m *Memory) Delete(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, ref)
	return nil
}

func (m *Memory) put(e Entry) string {
	ref := uuid.NewString()
	m.mu.Lock()
	m.entries[ref] = e
	m.mu.Unlock()
	return ref
}
