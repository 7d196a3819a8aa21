package config

import (
	_ "embed"
	"fmt"
	"net"
	"os"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/networks"
)

// EnvPrefix namespaces every setting, e.g. QA_WALLET_PORT.
const EnvPrefix = "QA_WALLET"

const (
	StorageMemory  = "memory"
	StorageFile    = "file"
	StorageLevelDB = "leveldb"
)

//go:embed seeds.yaml
var EmbeddedSeedsYAML []byte

type Settings struct {
	Host           string   `envconfig:"HOST" default:"127.0.0.1"`
	Port           string   `envconfig:"PORT" default:"6140"`
	Storage        string   `envconfig:"STORAGE" default:"file"`
	StoragePath    string   `envconfig:"STORAGE_PATH"`
	KeyringDir     string   `envconfig:"KEYRING_DIR"`
	Passphrase     string   `envconfig:"PASSPHRASE"`
	InfuraKey      string   `envconfig:"INFURA_KEY"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
	SeedsFile      string   `envconfig:"SEEDS_FILE"`
}

// SeedChain is a protected network as written in the seeds file. Infura is
// the network slug used when an Infura key is injected.
type SeedChain struct {
	networks.Chain `yaml:",inline"`
	Infura         string `yaml:"infura"`
}

type seedsDoc struct {
	Networks []SeedChain `yaml:"networks"`
}

type Config struct {
	Settings Settings
	Seeds    []SeedChain
}

func infuraRPC(chain string, key string) string {
	return fmt.Sprintf("https://%s.infura.io/v3/%s", chain, key)
}

// Load reads the environment and the seeds file, falling back to the embedded
// seeds when QA_WALLET_SEEDS_FILE is unset.
func Load() (*Config, error) {
	var s Settings
	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return nil, errors.Wrap(err, "process env")
	}

	raw := EmbeddedSeedsYAML
	if s.SeedsFile != "" {
		b, err := os.ReadFile(s.SeedsFile)
		if err != nil {
			return nil, errors.Wrap(err, "read seeds file")
		}
		raw = b
	}
	seeds, err := ParseSeeds(raw)
	if err != nil {
		return nil, err
	}

	cfg := &Config{Settings: s, Seeds: seeds}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.InfuraKey) != "" {
		if err := cfg.InjectInfuraKey(s.InfuraKey); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func ParseSeeds(raw []byte) ([]SeedChain, error) {
	var doc seedsDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "parse seeds")
	}
	if len(doc.Networks) != 2 {
		return nil, errors.Newf("seeds: want mainnet and testnet, got %d networks", len(doc.Networks))
	}
	return doc.Networks, nil
}

// InjectInfuraKey puts the Infura endpoint first on every seed with a slug.
func (c *Config) InjectInfuraKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("infura api key is empty")
	}
	for i, seed := range c.Seeds {
		if seed.Infura == "" {
			continue
		}
		rpcURL := infuraRPC(seed.Infura, key)
		rest := slices.DeleteFunc(slices.Clone(seed.RPCEndpoints), func(u string) bool { return u == rpcURL })
		c.Seeds[i].RPCEndpoints = append([]string{rpcURL}, rest...)
	}
	return nil
}

// Chains returns the normalized seeds in store order.
func (c *Config) Chains() ([]networks.Chain, error) {
	out := make([]networks.Chain, 0, len(c.Seeds))
	for _, s := range c.Seeds {
		n, err := networks.Normalize(s.Chain)
		if err != nil {
			return nil, errors.Wrapf(err, "seed %q", s.Name)
		}
		out = append(out, n)
	}
	return out, nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Settings.Host, c.Settings.Port)
}

func (c *Config) validate() error {
	switch c.Settings.Storage {
	case StorageMemory, StorageFile, StorageLevelDB:
	default:
		return errors.Newf("invalid %s_STORAGE %q (allowed: memory, file, leveldb)", EnvPrefix, c.Settings.Storage)
	}
	if c.Settings.Port == "" {
		return errors.New("port must not be empty")
	}
	return nil
}
