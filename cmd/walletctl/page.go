package main

import (
	"context"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/announcer"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/pagebus"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/provider"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/relay"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/runtime"
)

// page is an in-process stand-in for a browser tab: the provider and the
// announcer live in the page world, the bridge relays to the agent.
type page struct {
	win       *pagebus.Window
	provider  *provider.Provider
	announcer *announcer.Announcer

	channel runtime.Channel
	bridge  *relay.Bridge
}

func newPage(origin string) *page {
	win := pagebus.NewWindow(origin)
	p := provider.New(win)
	return &page{
		win:       win,
		provider:  p,
		announcer: announcer.New(win, p, announcer.DefaultInfo()),
	}
}

// connect dials the agent and starts relaying. Listeners registered on the
// provider before connect see the connect greeting.
func (p *page) connect(ctx context.Context, agentURL, origin string) error {
	var opts []runtime.HTTPOption
	if origin != "" {
		opts = append(opts, runtime.WithOrigin(origin))
	}
	ch, err := runtime.DialHTTP(ctx, agentURL, opts...)
	if err != nil {
		return err
	}
	b := relay.New(p.win, ch)
	if err := b.Start(ctx); err != nil {
		_ = ch.Close()
		return err
	}
	p.channel, p.bridge = ch, b
	return nil
}

func (p *page) Close() {
	p.announcer.Close()
	if p.bridge != nil {
		p.bridge.Close()
	}
	p.provider.Close()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	p.win.Close()
}
