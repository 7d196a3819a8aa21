// Package runtime is the message channel between the content relay and the
// background authority.
package runtime

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/event"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/protocol"
)

var (
	// ErrUnhandled means the authority does not serve the envelope's tag.
	ErrUnhandled = errors.New("envelope not handled")
	ErrClosed    = errors.New("runtime channel closed")
)

// Channel carries envelopes to the authority and authority pushes back.
type Channel interface {
	// SendMessage delivers env and returns the authority's reply payload.
	SendMessage(ctx context.Context, env protocol.Envelope) (json.RawMessage, error)
	// Subscribe delivers pushed envelopes. A connect greeting is pushed each
	// time the link to the authority is established.
	Subscribe(ch chan<- protocol.Envelope) event.Subscription
	Close() error
}

// Handler is the authority side of a Channel.
type Handler interface {
	Handle(ctx context.Context, env protocol.Envelope) (json.RawMessage, bool)
	SubscribeNotifications(ch chan<- protocol.Envelope) event.Subscription
	ConnectNotification(ctx context.Context) (protocol.Envelope, error)
}
