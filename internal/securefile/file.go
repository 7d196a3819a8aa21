// Package securefile provides atomic file writes, config path resolution and
// passphrase-encrypted JSON records (Argon2id KDF, XChaCha20-Poly1305 AEAD).
package securefile

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidPassphraseOrCorrupt is returned when decryption fails.
// Keep this generic to avoid leaking details.
var ErrInvalidPassphraseOrCorrupt = errors.New("invalid passphrase or corrupted file")

// Envelope is the on-disk encrypted record.
type Envelope struct {
	Version int `json:"version"`

	ArgonTime    uint32 `json:"argon_time"`
	ArgonMemory  uint32 `json:"argon_memory_kib"`
	ArgonThreads uint8  `json:"argon_threads"`
	ArgonKeyLen  uint32 `json:"argon_key_len"`
	SaltB64      string `json:"salt_b64"`

	NonceB64 string `json:"nonce_b64"`
	CTB64    string `json:"ct_b64"`
}

// KDFParams are the Argon2id cost parameters used when sealing.
type KDFParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
}

var DefaultKDF = KDFParams{
	Time:    2,
	Memory:  64 * 1024,
	Threads: 1,
	KeyLen:  32,
}

// Options controls encryption behavior.
type Options struct {
	KDF KDFParams

	FilePerm      os.FileMode
	DirectoryPerm os.FileMode

	// AAD binds the ciphertext to a purpose; must be identical for read + write.
	AAD []byte
}

func defaultOptions() Options {
	return Options{
		KDF:           DefaultKDF,
		FilePerm:      0o600,
		DirectoryPerm: 0o700,
	}
}

func mergeOptions(opt ...Options) Options {
	o := defaultOptions()
	if len(opt) == 0 {
		return o
	}
	in := opt[0]
	if in.KDF.KeyLen != 0 {
		o.KDF = in.KDF
	}
	if in.FilePerm != 0 {
		o.FilePerm = in.FilePerm
	}
	if in.DirectoryPerm != 0 {
		o.DirectoryPerm = in.DirectoryPerm
	}
	if in.AAD != nil {
		o.AAD = in.AAD
	}
	return o
}

// WriteEncryptedJSON seals v under a key derived from passphrase.
func WriteEncryptedJSON[T any](path string, v T, passphrase []byte, opt ...Options) error {
	o := mergeOptions(opt...)

	if len(passphrase) == 0 {
		return errors.New("securefile w: empty passphrase")
	}
	if isAllZero(passphrase) {
		return errors.New("securefile w: zeroed passphrase buffer")
	}

	if err := os.MkdirAll(filepath.Dir(path), o.DirectoryPerm); err != nil {
		return errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}

	plain, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal json")
	}
	defer zeroBytes(plain)

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return errors.Wrap(err, "rand salt")
	}

	key := argon2.IDKey(passphrase, salt, o.KDF.Time, o.KDF.Memory, o.KDF.Threads, o.KDF.KeyLen)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return errors.Wrap(err, "aead")
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return errors.Wrap(err, "rand nonce")
	}

	ct := aead.Seal(nil, nonce, plain, o.AAD)

	out := Envelope{
		Version:      1,
		ArgonTime:    o.KDF.Time,
		ArgonMemory:  o.KDF.Memory,
		ArgonThreads: o.KDF.Threads,
		ArgonKeyLen:  o.KDF.KeyLen,
		SaltB64:      base64.StdEncoding.EncodeToString(salt),
		NonceB64:     base64.StdEncoding.EncodeToString(nonce),
		CTB64:        base64.StdEncoding.EncodeToString(ct),
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal enc file")
	}

	return AtomicWriteFile(path, b, o.FilePerm)
}

// ReadEncryptedJSON opens a record written by WriteEncryptedJSON.
func ReadEncryptedJSON[T any](path string, passphrase []byte, opt ...Options) (T, error) {
	var zero T
	o := mergeOptions(opt...)

	if len(passphrase) == 0 {
		return zero, errors.New("securefile r: empty passphrase")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return zero, errors.Wrap(err, "read file")
	}

	var ef Envelope
	if err := json.Unmarshal(b, &ef); err != nil {
		return zero, errors.Wrap(err, "unmarshal enc file")
	}
	if ef.Version != 1 {
		return zero, errors.Newf("unsupported file version: %d", ef.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(ef.SaltB64)
	if err != nil {
		return zero, errors.Wrap(err, "decode salt")
	}
	nonce, err := base64.StdEncoding.DecodeString(ef.NonceB64)
	if err != nil {
		return zero, errors.Wrap(err, "decode nonce")
	}
	ct, err := base64.StdEncoding.DecodeString(ef.CTB64)
	if err != nil {
		return zero, errors.Wrap(err, "decode ciphertext")
	}

	key := argon2.IDKey(passphrase, salt, ef.ArgonTime, ef.ArgonMemory, ef.ArgonThreads, ef.ArgonKeyLen)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return zero, errors.Wrap(err, "aead")
	}

	plain, err := aead.Open(nil, nonce, ct, o.AAD)
	if err != nil {
		return zero, ErrInvalidPassphraseOrCorrupt
	}
	defer zeroBytes(plain)

	var out T
	if err := json.Unmarshal(plain, &out); err != nil {
		return zero, errors.Wrap(err, "unmarshal json")
	}
	return out, nil
}

// AtomicWriteFile writes data to a sibling temp file and renames it into place.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"

	// Best effort cleanup if something already exists.
	_ = os.Remove(tmp)

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// ConfigPathCandidates returns config paths to try, in priority order.
// Uses QA_ENV to optionally add a subfolder: local/ or develop/.
func ConfigPathCandidates(app, filename string) ([]string, error) {
	envFolder, err := EnvFolder()
	if err != nil {
		return nil, err
	}
	return configPathCandidatesForEnvFolder(app, filename, envFolder)
}

// configPathCandidatesForEnvFolder builds candidates for a specific envFolder.
// envFolder == "" means production layout (no subfolder).
func configPathCandidatesForEnvFolder(app, filename, envFolder string) ([]string, error) {
	if app == "" {
		return nil, errors.New("app must not be empty")
	}
	if filename == "" {
		return nil, errors.New("filename must not be empty")
	}

	var paths []string
	seen := map[string]bool{}
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		paths = append(paths, p)
	}

	joinHomeStyle := func(homeLike string) string {
		dir := filepath.Join(homeLike, ".config", app)
		if envFolder != "" {
			dir = filepath.Join(dir, envFolder)
		}
		return filepath.Join(dir, filename)
	}

	// snap installs keep the real home here
	if realHome := os.Getenv("SNAP_REAL_HOME"); realHome != "" {
		add(joinHomeStyle(realHome))
	}
	if home := os.Getenv("HOME"); home != "" {
		add(joinHomeStyle(home))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		baseDir := filepath.Join(dir, app)
		if envFolder != "" {
			baseDir = filepath.Join(baseDir, envFolder)
		}
		add(filepath.Join(baseDir, filename))
	} else if len(paths) == 0 {
		return nil, errors.Wrap(err, "UserConfigDir")
	}

	return paths, nil
}

// ResolvePath picks the first existing candidate, or the first candidate when
// none exists yet.
func ResolvePath(app, filename string) (string, error) {
	cands, err := ConfigPathCandidates(app, filename)
	if err != nil {
		return "", err
	}
	if len(cands) == 0 {
		return "", errors.New("no config path candidates returned")
	}
	for _, p := range cands {
		if Exists(p) {
			return p, nil
		}
	}
	return cands[0], nil
}

func EnvFolder() (string, error) {
	raw := strings.TrimSpace(os.Getenv("QA_ENV"))
	switch strings.ToLower(raw) {
	case "", "prod", "production":
		return "", nil
	case "local":
		return "local", nil
	case "dev", "develop", "development":
		return "develop", nil
	default:
		return "", errors.Newf("invalid QA_ENV %q (allowed: local, develop, empty)", raw)
	}
}

func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
