package networks

import (
	"net/url"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrDuplicateNetwork = errors.New("network already exists")
	ErrNetworkNotFound  = errors.New("network not found")
	ErrProtectedNetwork = errors.New("network is protected")
	ErrInvalidNetwork   = errors.New("invalid network")
)

// Chain is one selectable EVM network.
type Chain struct {
	ID                   uint64   `json:"id" yaml:"id"`
	Name                 string   `json:"name" yaml:"name"`
	RPCEndpoints         []string `json:"rpcEndpoints" yaml:"rpcEndpoints"`
	NativeCurrencySymbol string   `json:"nativeCurrencySymbol" yaml:"nativeCurrencySymbol"`
	ExplorerURL          string   `json:"explorerUrl,omitempty" yaml:"explorerUrl"`
	Protected            bool     `json:"protected" yaml:"-"`
}

// HexID is the EIP-695 form of the chain id.
func (c Chain) HexID() string {
	return hexutil.EncodeUint64(c.ID)
}

func (c Chain) clone() Chain {
	c.RPCEndpoints = slices.Clone(c.RPCEndpoints)
	return c
}

// Mainnet and Sepolia are the protected seeds used when no config overrides them.
var (
	Mainnet = Chain{
		ID:                   1,
		Name:                 "Ethereum",
		RPCEndpoints:         []string{"https://eth.merkle.io"},
		NativeCurrencySymbol: "ETH",
		ExplorerURL:          "https://etherscan.io",
	}
	Sepolia = Chain{
		ID:                   11155111,
		Name:                 "Sepolia",
		RPCEndpoints:         []string{"https://sepolia.drpc.org"},
		NativeCurrencySymbol: "ETH",
		ExplorerURL:          "https://sepolia.etherscan.io",
	}
)

func DefaultSeeds() []Chain {
	return []Chain{Mainnet.clone(), Sepolia.clone()}
}

// Normalize trims fields and validates the chain shape.
func Normalize(c Chain) (Chain, error) {
	c = c.clone()
	c.Name = strings.TrimSpace(c.Name)
	c.NativeCurrencySymbol = strings.TrimSpace(c.NativeCurrencySymbol)
	c.ExplorerURL = strings.TrimRight(strings.TrimSpace(c.ExplorerURL), "/")
	c.RPCEndpoints = normalizeRPCs(c.RPCEndpoints)

	if c.ID == 0 {
		return Chain{}, errors.Wrap(ErrInvalidNetwork, "id must be positive")
	}
	if c.Name == "" {
		return Chain{}, errors.Wrap(ErrInvalidNetwork, "name is required")
	}
	if c.NativeCurrencySymbol == "" {
		return Chain{}, errors.Wrap(ErrInvalidNetwork, "nativeCurrencySymbol is required")
	}
	if len(c.RPCEndpoints) == 0 {
		return Chain{}, errors.Wrap(ErrInvalidNetwork, "at least one rpc endpoint is required")
	}
	for _, ep := range c.RPCEndpoints {
		if !validEndpoint(ep) {
			return Chain{}, errors.Wrapf(ErrInvalidNetwork, "bad rpc endpoint %q", ep)
		}
	}
	if c.ExplorerURL != "" && !validEndpoint(c.ExplorerURL) {
		return Chain{}, errors.Wrapf(ErrInvalidNetwork, "bad explorer url %q", c.ExplorerURL)
	}
	return c, nil
}

func normalizeRPCs(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func validEndpoint(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return true
	}
	return false
}
