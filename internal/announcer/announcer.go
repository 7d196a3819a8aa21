// Package announcer implements EIP-6963 multi-wallet discovery on a page.
package announcer

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/constants"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/pagebus"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/provider"
)

type ProviderInfo struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Icon string `json:"icon"`
	RDNS string `json:"rdns"`
}

// ProviderDetail is the detail of an announce event. Provider is shared by
// reference with every listener.
type ProviderDetail struct {
	Info     ProviderInfo       `json:"info"`
	Provider *provider.Provider `json:"-"`
}

type Announcer struct {
	win    *pagebus.Window
	detail ProviderDetail
	remove func()
}

// DefaultInfo describes this wallet under a fresh uuid.
func DefaultInfo() ProviderInfo {
	return ProviderInfo{
		UUID: uuid.NewString(),
		Name: constants.WalletName,
		Icon: constants.WalletIcon,
		RDNS: constants.WalletRDNS,
	}
}

// New announces p on win immediately and again on every request event.
func New(win *pagebus.Window, p *provider.Provider, info ProviderInfo) *Announcer {
	if info.UUID == "" {
		info.UUID = uuid.NewString()
	}
	a := &Announcer{
		win:    win,
		detail: ProviderDetail{Info: info, Provider: p},
	}
	a.remove = win.AddEventListener(constants.EventRequestProvider, func(pagebus.CustomEvent) {
		a.announce()
	})
	a.announce()
	return a
}

func (a *Announcer) Info() ProviderInfo { return a.detail.Info }

func (a *Announcer) Close() { a.remove() }

func (a *Announcer) announce() {
	if err := a.win.DispatchEvent(constants.EventAnnounceProvider, a.detail); err != nil {
		log.Warn("announce provider", "rdns", a.detail.Info.RDNS, "err", err)
	}
}

// Discover asks every wallet on win to announce itself and collects the
// answers that arrive within wait, de-duplicated by uuid.
func Discover(win *pagebus.Window, wait time.Duration) ([]ProviderDetail, error) {
	var (
		mu    sync.Mutex
		found []ProviderDetail
	)
	remove := win.AddEventListener(constants.EventAnnounceProvider, func(ev pagebus.CustomEvent) {
		d, ok := ev.Detail.(ProviderDetail)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if !slices.ContainsFunc(found, func(x ProviderDetail) bool { return x.Info.UUID == d.Info.UUID }) {
			found = append(found, d)
		}
	})
	defer remove()

	if err := win.DispatchEvent(constants.EventRequestProvider, nil); err != nil {
		return nil, err
	}
	time.Sleep(wait)

	mu.Lock()
	defer mu.Unlock()
	return slices.Clone(found), nil
}
