package storage

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDB stores each logical key as its own record.
type LevelDB struct {
	db *leveldb.DB
}

func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{NoSync: false})
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb %s", path)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

func (l *LevelDB) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Put([]byte(key), value, &opt.WriteOptions{Sync: true})
}

func (l *LevelDB) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Delete([]byte(key), nil)
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
