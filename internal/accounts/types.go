// Package accounts owns the wallet's account set and the selected account.
package accounts

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrDuplicateAccount  = errors.New("account already exists")
	ErrAccountNotFound   = errors.New("account not found")
	ErrNoAccountSelected = errors.New("no account selected")
	ErrInvalidAddress    = errors.New("invalid account address")
)

// Account is the stored record. SecretRef points into the keyring and never
// leaves the authority process; use Public for anything sent outward.
type Account struct {
	Address   string `json:"address"`
	Name      string `json:"name,omitempty"`
	SecretRef string `json:"secretMaterialRef"`
}

// PublicAccount is the view of an Account safe to hand to pages and UI.
type PublicAccount struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

func (a Account) Public() PublicAccount {
	return PublicAccount{Address: a.Address, Name: a.Name}
}

func (a Account) CommonAddress() common.Address {
	return common.HexToAddress(a.Address)
}

func PublicList(in []Account) []PublicAccount {
	out := make([]PublicAccount, 0, len(in))
	for _, a := range in {
		out = append(out, a.Public())
	}
	return out
}

// NormalizeAddress returns the EIP-55 checksummed form of s.
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", errors.Wrapf(ErrInvalidAddress, "%q", s)
	}
	return common.HexToAddress(s).Hex(), nil
}
