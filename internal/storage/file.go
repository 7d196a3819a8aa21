package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/constants"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/securefile"
)

// fileLayout is the on-disk shape of a File store.
type fileLayout struct {
	Schema int                        `json:"schema"`
	Values map[string]json.RawMessage `json:"values"`
}

// File keeps every key in one JSON document. The document is re-read on each
// access, so writes from another process are observed; each Set rewrites the
// whole document atomically.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("storage file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), constants.DirectoryPerm); err != nil {
		return nil, errors.Wrap(err, "mkdir storage dir")
	}
	return &File{path: path}, nil
}

// NewDefaultFile resolves the storage document under the user config dir.
func NewDefaultFile() (*File, error) {
	path, err := securefile.ResolvePath(constants.AppName, constants.StorageFile)
	if err != nil {
		return nil, err
	}
	return NewFile(path)
}

func (f *File) Path() string { return f.path }

func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	v, ok := doc.Values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

func (f *File) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !json.Valid(value) {
		return errors.Newf("value for %q is not valid JSON", key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	doc.Values[key] = json.RawMessage(value)
	return f.persist(doc)
}

func (f *File) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Values[key]; !ok {
		return nil
	}
	delete(doc.Values, key)
	return f.persist(doc)
}

func (f *File) Close() error { return nil }

func (f *File) load() (fileLayout, error) {
	doc := fileLayout{Schema: constants.SchemaV1, Values: map[string]json.RawMessage{}}

	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, errors.Wrap(err, "read storage file")
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, errors.Wrap(err, "unmarshal storage file")
	}
	if doc.Values == nil {
		doc.Values = map[string]json.RawMessage{}
	}
	return doc, nil
}

func (f *File) persist(doc fileLayout) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal storage file")
	}
	return securefile.AtomicWriteFile(f.path, b, constants.FilePerm)
}
