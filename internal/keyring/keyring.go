// Package keyring holds account private keys outside the account records.
// Accounts only carry an opaque reference into a keyring.
package keyring

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrKeyNotFound = errors.New("keyring: key not found")
	ErrInvalidKey  = errors.New("keyring: invalid private key")
)

// Keyring stores secp256k1 keys under opaque references.
type Keyring interface {
	Generate(ctx context.Context) (ref string, addr common.Address, err error)
	Import(ctx context.Context, privKeyHex string) (ref string, addr common.Address, err error)
	Resolve(ctx context.Context, ref string) (*ecdsa.PrivateKey, error)
	Delete(ctx context.Context, ref string) error
}

// Entry is the serialized key record.
type Entry struct {
	Version    int    `json:"version"`
	AddressHex string `json:"address"`
	PrivKeyHex string `json:"priv_key_hex"`
	CreatedAt  string `json:"created_at,omitempty"`
}

func (e *Entry) Address() common.Address {
	return common.HexToAddress(e.AddressHex)
}

func (e *Entry) PrivateKey() (*ecdsa.PrivateKey, error) {
	return hexToKey(e.PrivKeyHex)
}

func newEntry(key *ecdsa.PrivateKey) Entry {
	return Entry{
		Version:    1,
		AddressHex: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivKeyHex: hex.EncodeToString(crypto.FromECDSA(key)),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

func randomEntry() (Entry, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return Entry{}, errors.Wrap(err, "generate key")
	}
	return newEntry(key), nil
}

func importEntry(privKeyHex string) (Entry, error) {
	key, err := hexToKey(privKeyHex)
	if err != nil {
		return Entry{}, err
	}
	return newEntry(key), nil
}

// hexToKey accepts 64 hex chars with or without a 0x prefix.
func hexToKey(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "parse private key"), ErrInvalidKey)
	}
	return key, nil
}
