package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"golang.org/x/sync/errgroup"

	walletconfig "github.com/quantumauth-io/quantum-wallet-bridge/cmd/wallet-authority/config"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/accounts"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/authority"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/chains"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/constants"
	wallethttp "github.com/quantumauth-io/quantum-wallet-bridge/internal/http"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/keyring"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/networks"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/securefile"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/storage"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	log.Info("wallet-authority",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := walletconfig.Load()
	if err != nil {
		log.Fatal("failed to parse config", "error", err)
	}

	if err = run(ctx, cfg); err != nil {
		log.Error("wallet authority stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *walletconfig.Config) error {
	kv, err := openStorage(cfg.Settings)
	if err != nil {
		return err
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Error("storage close failed", "error", err)
		}
	}()

	keys, err := openKeyring(cfg.Settings)
	if err != nil {
		return err
	}

	seeds, err := cfg.Chains()
	if err != nil {
		return err
	}
	acc, err := accounts.NewStore(kv)
	if err != nil {
		return err
	}
	nets, err := networks.NewStore(kv, seeds...)
	if err != nil {
		return err
	}

	factory := chains.NewFactory(acc, nets, keys, nil)
	defer factory.Close()

	auth := authority.New(acc, nets, factory, keys)
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           wallethttp.NewServer(auth, cfg.Settings.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", "addr", server.Addr, "storage", cfg.Settings.Storage)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "HTTP server error")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "HTTP server shutdown failed")
		}
		log.Info("HTTP server gracefully stopped")
		return nil
	})
	return g.Wait()
}

func openStorage(s walletconfig.Settings) (storage.KV, error) {
	switch s.Storage {
	case walletconfig.StorageMemory:
		return storage.NewMemory(), nil
	case walletconfig.StorageLevelDB:
		path := s.StoragePath
		if path == "" {
			p, err := securefile.ResolvePath(constants.AppName, constants.StorageDB)
			if err != nil {
				return nil, err
			}
			path = p
		}
		return storage.OpenLevelDB(path)
	default:
		if s.StoragePath != "" {
			return storage.NewFile(s.StoragePath)
		}
		return storage.NewDefaultFile()
	}
}

// openKeyring keeps keys in memory alongside memory storage; every other
// backend gets the encrypted on-disk keyring.
func openKeyring(s walletconfig.Settings) (keyring.Keyring, error) {
	if s.Storage == walletconfig.StorageMemory {
		return keyring.NewMemory(), nil
	}
	dir := s.KeyringDir
	if dir == "" {
		if s.StoragePath != "" {
			dir = filepath.Join(filepath.Dir(s.StoragePath), constants.KeyringDir)
		} else {
			d, err := keyring.DefaultDir()
			if err != nil {
				return nil, err
			}
			dir = d
		}
	}
	pass, err := keyringPassphrase(s.Passphrase)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(pass)
	return keyring.NewFile(dir, pass)
}
