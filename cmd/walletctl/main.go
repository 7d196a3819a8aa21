// Command walletctl hosts a page against a running wallet agent: it relays
// provider calls, drives the management commands and watches notifications.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/urfave/cli/v2"

	"github.com/quantumauth-io/quantum-wallet-bridge/internal/constants"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	agentFlag = &cli.StringFlag{
		Name:    "agent",
		Usage:   "base URL of the wallet agent",
		Value:   "http://" + constants.DefaultHost + ":" + constants.DefaultPort,
		EnvVars: []string{"QA_WALLET_AGENT"},
	}
	originFlag = &cli.StringFlag{
		Name:  "origin",
		Usage: "page origin sent to the agent (must be allowed there)",
	}
	outputFlag = &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "output format: json or yaml",
		Value:   formatJSON,
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "bound for a single call",
		Value: 30 * time.Second,
	}
)

func newApp() *cli.App {
	return &cli.App{
		Name:    "walletctl",
		Usage:   "talk to a QuantumAuth wallet agent the way a page does",
		Version: Version + " (" + Commit + ", " + BuildDate + ")",
		Flags:   []cli.Flag{agentFlag, originFlag, outputFlag, timeoutFlag},
		Commands: []*cli.Command{
			requestCommand,
			accountsCommand,
			networksCommand,
			uiCommand,
			watchCommand,
			discoverCommand,
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Error("walletctl failed", "error", err)
		os.Exit(1)
	}
}
