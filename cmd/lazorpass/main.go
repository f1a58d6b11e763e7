package main

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/brojonat/lazorpass/client"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "lazorpass",
		Usage: "Passkey Solana wallet CLI",
		Description: `A command-line tool for the lazorpass wallet service.

Connect a passkey wallet through the Lazorkit portal, check balances, send SOL
and SPL tokens, swap, and follow transfer confirmations.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Session commands
			connectCommand(),
			disconnectCommand(),
			statusCommand(),
			// Wallet commands
			balanceCommand(),
			historyCommand(),
			// Transfer commands
			sendCommand(),
			{
				Name:    "transfers",
				Aliases: []string{"tx"},
				Usage:   "Inspect submitted transfers",
				Subcommands: []*cli.Command{
					listTransfersCommand(),
					getTransferCommand(),
					awaitTransferCommand(),
				},
			},
			{
				Name:  "swap",
				Usage: "Token swap commands",
				Subcommands: []*cli.Command{
					swapQuoteCommand(),
					swapExecCommand(),
				},
			},
			// SSE streaming commands
			streamCommand(),
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Aliases: []string{"s"},
				Usage:   "Wallet service URL",
				EnvVars: []string{"LAZORPASS_SERVER_URL", "SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log client requests to stderr",
			},
		},
	}
}

// newClient builds an API client from the global flags.
func newClient(c *cli.Context, timeout time.Duration) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set LAZORPASS_SERVER_URL env var or use --server-url)")
	}

	level := slog.LevelError
	if c.Bool("debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return client.NewClient(serverURL, &http.Client{Timeout: timeout}, logger), nil
}
