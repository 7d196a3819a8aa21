// Package storage is the durable key-value layer the authority's stores write
// through to. Backends hold raw JSON values under logical keys.
package storage

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

var ErrNotFound = errors.New("storage: key not found")

// KV is an opaque durable key-value store. Implementations must be safe for
// concurrent use; there is no compare-and-swap, the last writer wins.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// GetJSON decodes key into T. found is false when the key is absent.
func GetJSON[T any](ctx context.Context, kv KV, key string) (out T, found bool, err error) {
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return out, false, nil
	}
	if err != nil {
		return out, false, errors.Wrapf(err, "get %q", key)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, errors.Wrapf(err, "decode %q", key)
	}
	return out, true, nil
}

func SetJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %q", key)
	}
	if err := kv.Set(ctx, key, raw); err != nil {
		return errors.Wrapf(err, "set %q", key)
	}
	return nil
}
