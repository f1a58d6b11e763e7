package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/lazorpass/client"
	"github.com/urfave/cli/v2"
)

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream transfer status events via SSE (HTTP)",
		ArgsUsage: "[wallet_address]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq expression each event must satisfy (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			walletAddress := c.Args().First()
			jsonOutput := c.Bool("json")
			out := c.App.Writer

			filter, err := compileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}
			cl, err := newClient(c, 30*time.Second)
			if err != nil {
				return err
			}

			// Create context that cancels on interrupt
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !jsonOutput {
				if walletAddress != "" {
					fmt.Fprintf(os.Stderr, "Streaming transfers for wallet %s... (Ctrl+C to stop)\n\n", walletAddress)
				} else {
					fmt.Fprintf(os.Stderr, "Streaming transfers for all wallets... (Ctrl+C to stop)\n\n")
				}
			}

			err = cl.Stream(ctx, walletAddress, func(ev *client.TransferEvent) error {
				if !filter.Match(ev) {
					return nil
				}
				if jsonOutput {
					data, err := json.Marshal(ev)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(data))
					return nil
				}
				printEvent(out, ev)
				return nil
			})
			if err != nil {
				return fmt.Errorf("stream failed: %w", err)
			}
			if ctx.Err() != nil && !jsonOutput {
				fmt.Fprintf(os.Stderr, "\nDisconnected\n")
			}
			return nil
		},
	}
}

func printEvent(out io.Writer, ev *client.TransferEvent) {
	fmt.Fprintln(out, rule)
	fmt.Fprintf(out, "%s %s %s\n", statusMark(ev.Status), ev.Kind, ev.Status)
	fmt.Fprintf(out, "Signature:  %s\n", ev.Signature)
	fmt.Fprintf(out, "Wallet:     %s\n", ev.WalletAddress)
	if ev.ToAddress != "" {
		fmt.Fprintf(out, "To:         %s\n", ev.ToAddress)
	}
	fmt.Fprintf(out, "Amount:     %d %s\n", ev.Amount, ev.Token)
	if ev.Slot != 0 {
		fmt.Fprintf(out, "Slot:       %d\n", ev.Slot)
	}
	if ev.Error != "" {
		fmt.Fprintf(out, "Error:      %s\n", ev.Error)
	}
	if !ev.PublishedAt.IsZero() {
		fmt.Fprintf(out, "Published:  %s\n", ev.PublishedAt.Format(time.RFC3339))
	}
}
