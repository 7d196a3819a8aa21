package runtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/protocol"
)

// Local reaches an in-process authority. Envelopes are re-encoded on the way
// in and out so neither side shares memory with the other.
type Local struct {
	h Handler

	mu     sync.Mutex
	closed bool
	scope  event.SubscriptionScope
}

func NewLocal(h Handler) *Local {
	return &Local{h: h}
}

func (l *Local) SendMessage(ctx context.Context, env protocol.Envelope) (json.RawMessage, error) {
	if l.isClosed() {
		return nil, ErrClosed
	}
	in, err := clone(env)
	if err != nil {
		return nil, err
	}
	reply, ok := l.h.Handle(ctx, in)
	if !ok {
		return nil, ErrUnhandled
	}
	return append(json.RawMessage(nil), reply...), nil
}

func (l *Local) Subscribe(ch chan<- protocol.Envelope) event.Subscription {
	return l.scope.Track(event.NewSubscription(func(quit <-chan struct{}) error {
		pushes := make(chan protocol.Envelope, 16)
		sub := l.h.SubscribeNotifications(pushes)
		defer sub.Unsubscribe()

		greeting, err := l.h.ConnectNotification(context.Background())
		if err != nil {
			log.Warn("runtime connect greeting", "err", err)
		} else if !deliver(ch, greeting, quit) {
			return nil
		}

		for {
			select {
			case env := <-pushes:
				out, err := clone(env)
				if err != nil {
					log.Error("clone pushed envelope", "err", err)
					continue
				}
				if !deliver(ch, out, quit) {
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}))
}

func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.scope.Close()
	return nil
}

func (l *Local) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func deliver(ch chan<- protocol.Envelope, env protocol.Envelope, quit <-chan struct{}) bool {
	select {
	case ch <- env:
		return true
	case <-quit:
		return false
	}
}

func clone(env protocol.Envelope) (protocol.Envelope, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.DecodeEnvelope(b)
}
