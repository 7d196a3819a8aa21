package chains

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// lease shares one cached client between callers. The client is closed once
// the factory has retired it and every holder has released it.
type lease struct {
	mu      sync.Mutex
	refs    int
	retired bool
	closed  bool
	closeFn func()
}

func (l *lease) acquire() {
	l.mu.Lock()
	l.refs++
	l.mu.Unlock()
}

func (l *lease) release() {
	l.mu.Lock()
	if l.refs > 0 {
		l.refs--
	}
	done := l.finishLocked()
	l.mu.Unlock()
	if done {
		l.closeFn()
	}
}

func (l *lease) retire() {
	l.mu.Lock()
	l.retired = true
	done := l.finishLocked()
	l.mu.Unlock()
	if done {
		l.closeFn()
	}
}

func (l *lease) finishLocked() bool {
	if l.closed || !l.retired || l.refs > 0 {
		return false
	}
	l.closed = true
	return true
}

// sharedRead is the ReadCapability handed out by the factory. Close releases
// the caller's hold; call it once per ReadClient.
type sharedRead struct {
	cap ReadCapability
	l   lease
}

func newSharedRead(c ReadCapability) *sharedRead {
	return &sharedRead{cap: c, l: lease{closeFn: c.Close}}
}

func (s *sharedRead) ReadCall(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	return s.cap.ReadCall(ctx, method, params)
}

func (s *sharedRead) Close() { s.l.release() }

// sharedSigning is the SigningCapability handed out by the factory. Close
// releases the caller's hold; call it once per SigningClient.
type sharedSigning struct {
	cap SigningCapability
	l   lease
}

func newSharedSigning(c SigningCapability) *sharedSigning {
	return &sharedSigning{cap: c, l: lease{closeFn: c.Close}}
}

func (s *sharedSigning) SignedCall(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error) {
	return s.cap.SignedCall(ctx, method, params)
}

func (s *sharedSigning) Address() common.Address { return s.cap.Address() }

func (s *sharedSigning) Close() { s.l.release() }
