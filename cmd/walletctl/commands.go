package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/announcer"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/networks"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/protocol"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/provider"
	"github.com/quantumauth-io/quantum-wallet-bridge/internal/runtime"
)

var requestCommand = &cli.Command{
	Name:      "request",
	Usage:     "send one EIP-1193 request through the page provider",
	ArgsUsage: "<method> [param ...]",
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return errors.New("method is required")
		}
		return withPage(c, nil, func(ctx context.Context, p *page) error {
			out, err := p.provider.Request(ctx, provider.RequestArguments{
				Method: c.Args().First(),
				Params: parseArgs(c.Args().Tail()),
			})
			if err != nil {
				return err
			}
			return printValue(c, out)
		})
	},
}

var accountsCommand = &cli.Command{
	Name:  "accounts",
	Usage: "manage wallet accounts",
	Subcommands: []*cli.Command{
		manageCommand(protocol.KindAccountManagement, "list", "getAccounts", "list accounts", ""),
		manageCommand(protocol.KindAccountManagement, "current", "getCurrentAccount", "show the selected account", ""),
		manageCommand(protocol.KindAccountManagement, "get", "getAccount", "show one account", "<address>"),
		manageCommand(protocol.KindAccountManagement, "select", "setCurrentAccount", "select an account", "<address>"),
		manageCommand(protocol.KindAccountManagement, "remove", "removeAccount", "remove an account and its key", "<address>"),
		manageCommand(protocol.KindUIRequest, "clear", "clearAccounts", "remove every account", ""),
		{
			Name:  "add",
			Usage: "generate a new account, or import one with --private-key",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "name", Usage: "display name"},
				&cli.StringFlag{Name: "private-key", Usage: "hex key to import", EnvVars: []string{"QA_WALLET_IMPORT_KEY"}},
			},
			Action: func(c *cli.Context) error {
				in := map[string]string{"name": c.String("name")}
				if k := c.String("private-key"); k != "" {
					in["privateKey"] = k
				}
				return runManage(c, protocol.KindAccountManagement, "addAccount", in)
			},
		},
		{
			Name:      "rename",
			Usage:     "change an account's display name",
			ArgsUsage: "<address> <name>",
			Action: func(c *cli.Context) error {
				if c.NArg() != 2 {
					return errors.New("address and name are required")
				}
				in := map[string]string{"address": c.Args().Get(0), "name": c.Args().Get(1)}
				return runManage(c, protocol.KindAccountManagement, "updateAccount", in)
			},
		},
	},
}

var networksCommand = &cli.Command{
	Name:  "networks",
	Usage: "manage selectable networks",
	Subcommands: []*cli.Command{
		manageCommand(protocol.KindNetworkManagement, "list", "getNetworks", "list networks", ""),
		manageCommand(protocol.KindNetworkManagement, "current", "getCurrentNetwork", "show the selected network", ""),
		manageCommand(protocol.KindNetworkManagement, "get", "getNetwork", "show one network", "<chain-id>"),
		manageCommand(protocol.KindNetworkManagement, "select", "setCurrentNetwork", "select a network", "<chain-id>"),
		manageCommand(protocol.KindNetworkManagement, "remove", "removeNetwork", "remove a custom network", "<chain-id>"),
		manageCommand(protocol.KindUIRequest, "clear", "clearNetworks", "reset to the protected networks", ""),
		{
			Name:  "add",
			Usage: "add a custom network",
			Flags: []cli.Flag{
				&cli.Uint64Flag{Name: "id", Usage: "chain id", Required: true},
				&cli.StringFlag{Name: "name", Usage: "display name", Required: true},
				&cli.StringSliceFlag{Name: "rpc", Usage: "RPC endpoint, repeatable", Required: true},
				&cli.StringFlag{Name: "symbol", Usage: "native currency symbol", Value: "ETH"},
				&cli.StringFlag{Name: "explorer", Usage: "block explorer URL"},
			},
			Action: func(c *cli.Context) error {
				return runManage(c, protocol.KindNetworkManagement, "addNetwork", networks.Chain{
					ID:                   c.Uint64("id"),
					Name:                 c.String("name"),
					RPCEndpoints:         c.StringSlice("rpc"),
					NativeCurrencySymbol: c.String("symbol"),
					ExplorerURL:          c.String("explorer"),
				})
			},
		},
	},
}

var uiCommand = &cli.Command{
	Name:      "ui",
	Usage:     "send a wallet UI command",
	ArgsUsage: "<command> [param ...]",
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return errors.New("command is required")
		}
		return runManage(c, protocol.KindUIRequest, c.Args().First(), parseArgs(c.Args().Tail())...)
	},
}

var watchCommand = &cli.Command{
	Name:  "watch",
	Usage: "print provider notifications until interrupted",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "count", Usage: "stop after this many notifications (0 = forever)"},
	},
	Action: func(c *cli.Context) error {
		events := make(chan provider.Event, 16)
		subscribe := func(p *page) { p.provider.SubscribeEvents(events) }

		// the call timeout does not apply; watch runs until interrupted
		return withPage(c, subscribe, func(context.Context, *page) error {
			ctx := c.Context
			limit := c.Int("count")
			for seen := 0; limit == 0 || seen < limit; seen++ {
				select {
				case ev := <-events:
					if err := printValue(c, map[string]any{"event": ev.Name, "params": ev.Params}); err != nil {
						return err
					}
				case <-ctx.Done():
					return nil
				}
			}
			return nil
		})
	},
}

var discoverCommand = &cli.Command{
	Name:  "discover",
	Usage: "list the wallets announced on the page",
	Flags: []cli.Flag{
		&cli.DurationFlag{Name: "wait", Usage: "how long to collect announcements", Value: 200 * time.Millisecond},
	},
	Action: func(c *cli.Context) error {
		p := newPage(c.String(originFlag.Name))
		defer p.Close()

		found, err := announcer.Discover(p.win, c.Duration("wait"))
		if err != nil {
			return err
		}
		infos := make([]announcer.ProviderInfo, 0, len(found))
		for _, d := range found {
			infos = append(infos, d.Info)
		}
		return printValue(c, infos)
	},
}

func manageCommand(kind protocol.Kind, name, action, usage, argsUsage string) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: argsUsage,
		Action: func(c *cli.Context) error {
			return runManage(c, kind, action, parseArgs(c.Args().Slice())...)
		},
	}
}

func runManage(c *cli.Context, kind protocol.Kind, action string, args ...any) error {
	return withPage(c, nil, func(ctx context.Context, p *page) error {
		data, err := manage(ctx, p.channel, kind, action, args...)
		if err != nil {
			return err
		}
		return printValue(c, data)
	})
}

// manage sends a management or UI command the way the wallet UI does and
// unwraps the normalized result.
func manage(ctx context.Context, ch runtime.Channel, kind protocol.Kind, action string, args ...any) (json.RawMessage, error) {
	params, err := protocol.Positional(args...)
	if err != nil {
		return nil, errors.Wrap(err, "encode params")
	}

	var payload any = protocol.ManagementRequest{Action: action, Params: params}
	if kind == protocol.KindUIRequest {
		payload = protocol.UIRequest{Method: action, Params: params}
	}
	env, err := protocol.NewEnvelope(kind, payload)
	if err != nil {
		return nil, err
	}
	reply, err := ch.SendMessage(ctx, env)
	if err != nil {
		return nil, err
	}

	var res protocol.RawResult
	if err := json.Unmarshal(reply, &res); err != nil {
		return nil, errors.Wrap(err, "decode result")
	}
	if !res.Success {
		return nil, errors.Newf("%s: %s", action, res.Error)
	}
	return res.Data, nil
}

// withPage opens a page, lets before register listeners, connects to the
// agent and runs fn under the call timeout.
func withPage(c *cli.Context, before func(*page), fn func(ctx context.Context, p *page) error) error {
	p := newPage(c.String(originFlag.Name))
	defer p.Close()
	if before != nil {
		before(p)
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration(timeoutFlag.Name))
	defer cancel()
	if err := p.connect(c.Context, c.String(agentFlag.Name), c.String(originFlag.Name)); err != nil {
		return errors.Wrap(err, "connect to wallet agent")
	}
	return fn(ctx, p)
}
