package securefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

var fastKDF = Options{KDF: KDFParams{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32}, AAD: []byte("test:aad")}

type secret struct {
	Key string `json:"key"`
}

func TestEncryptedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secret.json")

	require.NoError(t, WriteEncryptedJSON(path, secret{Key: "abc"}, []byte("pass"), fastKDF))

	got, err := ReadEncryptedJSON[secret](path, []byte("pass"), fastKDF)
	require.NoError(t, err)
	require.Equal(t, "abc", got.Key)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "abc")
}

func TestEncryptedWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, WriteEncryptedJSON(path, secret{Key: "abc"}, []byte("pass"), fastKDF))

	_, err := ReadEncryptedJSON[secret](path, []byte("nope"), fastKDF)
	require.True(t, errors.Is(err, ErrInvalidPassphraseOrCorrupt))

	wrongAAD := fastKDF
	wrongAAD.AAD = []byte("other")
	_, err = ReadEncryptedJSON[secret](path, []byte("pass"), wrongAAD)
	require.True(t, errors.Is(err, ErrInvalidPassphraseOrCorrupt))
}

func TestEncryptedRejectsEmptyPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.json")
	require.Error(t, WriteEncryptedJSON(path, secret{}, nil, fastKDF))
	require.Error(t, WriteEncryptedJSON(path, secret{}, make([]byte, 4), fastKDF))
}

func TestAtomicWriteFileReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.json")
	require.NoError(t, AtomicWriteFile(path, []byte("one"), 0o600))
	require.NoError(t, AtomicWriteFile(path, []byte("two"), 0o600))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "two", string(b))
	require.False(t, Exists(path+".tmp"))
}

func TestConfigPathCandidatesEnvFolder(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SNAP_REAL_HOME", "")
	t.Setenv("QA_ENV", "local")

	cands, err := ConfigPathCandidates("app", "file.json")
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	require.Equal(t, filepath.Join(home, ".config", "app", "local", "file.json"), cands[0])

	t.Setenv("QA_ENV", "staging")
	_, err = ConfigPathCandidates("app", "file.json")
	require.Error(t, err)
}
