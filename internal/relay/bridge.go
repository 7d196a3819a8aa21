// Package relay is the content context: the only piece that speaks both the
// page message bus and the runtime channel. It forwards and never interprets.
package relay

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/pagebus"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/protocol"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/runtime"
)

const pushBuffer = 16

type Bridge struct {
	win     *pagebus.Window
	channel runtime.Channel

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	remove  func()
}

func New(win *pagebus.Window, channel runtime.Channel) *Bridge {
	return &Bridge{win: win, channel: channel}
}

// Start wires both directions. The bridge stops when ctx ends or Close is
// called.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return errors.New("relay already started")
	}
	b.started = true
	b.ctx, b.cancel = context.WithCancel(ctx)

	pushes := make(chan protocol.Envelope, pushBuffer)
	sub := b.channel.Subscribe(pushes)
	b.remove = b.win.AddMessageListener(b.onPageMessage)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer sub.Unsubscribe()
		for {
			select {
			case env := <-pushes:
				b.forwardPush(env)
			case err := <-sub.Err():
				if err != nil {
					log.Warn("relay push stream ended", "err", err)
				}
				return
			case <-b.ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Close detaches from the page and waits for in-flight forwards.
func (b *Bridge) Close() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.cancel()
	if b.remove != nil {
		b.remove()
		b.remove = nil
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bridge) onPageMessage(ev pagebus.MessageEvent) {
	if ev.Source != b.win {
		return
	}
	env, err := protocol.DecodeEnvelope(ev.Data)
	if err != nil || !env.Is(protocol.KindRPCRequest) {
		return
	}

	b.mu.Lock()
	if b.ctx.Err() != nil {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		b.forwardRequest(env)
	}()
}

func (b *Bridge) forwardRequest(env protocol.Envelope) {
	reply, err := b.channel.SendMessage(b.ctx, env)
	if err != nil {
		if b.ctx.Err() == nil {
			log.Warn("relay dropped request", "err", err)
		}
		return
	}
	if err := b.win.PostMessage(protocol.Envelope{Type: protocol.Tag(protocol.KindRPCResponse), Payload: reply}); err != nil {
		log.Warn("relay could not post response", "err", err)
	}
}

func (b *Bridge) forwardPush(env protocol.Envelope) {
	if !env.Is(protocol.KindRPCResponse) {
		return
	}
	if err := b.win.PostMessage(env); err != nil {
		log.Warn("relay could not post push", "err", err)
	}
}
