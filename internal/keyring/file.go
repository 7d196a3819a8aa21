package keyring

import (
	"context"
	"crypto/ecdsa"
	"os"
	"path/filepath"
	"regexp"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/constants"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/securefile"
)

var refPattern = regexp.MustCompile(`^[0-9a-f-]{36}$`)

// File keeps one passphrase-encrypted record per key inside Dir.
type File struct {
	Dir string
	Opt securefile.Options

	passphrase []byte
}

func NewFile(dir string, passphrase []byte, opt ...securefile.Options) (*File, error) {
	if dir == "" {
		return nil, errors.New("keyring dir is empty")
	}
	if len(passphrase) == 0 {
		return nil, errors.New("keyring passphrase is empty")
	}
	o := securefile.Options{AAD: []byte(constants.KeyringAAD)}
	if len(opt) > 0 {
		o = opt[0]
		if o.AAD == nil {
			o.AAD = []byte(constants.KeyringAAD)
		}
	}
	if err := os.MkdirAll(dir, constants.DirectoryPerm); err != nil {
		return nil, errors.Wrap(err, "mkdir keyring dir")
	}
	return &File{Dir: dir, Opt: o, passphrase: append([]byte(nil), passphrase...)}, nil
}

// DefaultDir resolves the keyring directory next to the storage document.
func DefaultDir() (string, error) {
	p, err := securefile.ResolvePath(constants.AppName, constants.KeyringDir)
	if err != nil {
		return "", err
	}
	return p, nil
}

func (f *File) Generate(ctx context.Context) (string, common.Address, error) {
	e, err := randomEntry()
	if err != nil {
		return "", common.Address{}, err
	}
	return f.store(ctx, e)
}

func (f *File) Import(ctx context.Context, privKeyHex string) (string, common.Address, error) {
	e, err := importEntry(privKeyHex)
	if err != nil {
		return "", common.Address{}, err
	}
	return f.store(ctx, e)
}

func (f *File) Resolve(ctx context.Context, ref string) (*ecdsa.PrivateKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := f.path(ref)
	if err != nil {
		return nil, err
	}
	e, err := securefile.ReadEncryptedJSON[Entry](path, f.passphrase, f.Opt)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(ErrKeyNotFound, "ref %s", ref)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load key %s", ref)
	}
	return e.PrivateKey()
}

func (f *File) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "remove key %s", ref)
	}
	return nil
}

func (f *File) store(ctx context.Context, e Entry) (string, common.Address, error) {
	if err := ctx.Err(); err != nil {
		return "", common.Address{}, err
	}
	ref := uuid.NewString()
	path, err := f.path(ref)
	if err != nil {
		return "", common.Address{}, err
	}
	if err := securefile.WriteEncryptedJSON(path, e, f.passphrase, f.Opt); err != nil {
		return "", common.Address{}, errors.Wrap(err, "write key")
	}
	return ref, e.Address(), nil
}

func (f *File) path(ref string) (string, error) {
	if !refPattern.MatchString(ref) {
		return "", errors.Wrapf(ErrKeyNotFound, "malformed ref %q", ref)
	}
	return filepath.Join(f.Dir, ref+constants.KeyringExt), nil
}
