package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/brojonat/lazorpass/client"
	"github.com/urfave/cli/v2"
)

func waitFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "wait",
			Aliases: []string{"w"},
			Usage:   "Block until the transaction is confirmed or fails",
		},
		&cli.DurationFlag{
			Name:  "wait-timeout",
			Value: 90 * time.Second,
			Usage: "How long --wait blocks before giving up",
		},
		&cli.DurationFlag{
			Name:  "poll-interval",
			Value: 2 * time.Second,
			Usage: "How often --wait checks the transfer status",
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send SOL or an SPL token from the connected wallet",
		ArgsUsage: "TO_ADDRESS AMOUNT",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "token",
				Aliases: []string{"t"},
				Value:   "SOL",
				Usage:   "SOL, USDC, or an SPL mint address",
			},
		}, waitFlags()...),
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("destination address and amount are required")
			}
			to := c.Args().Get(0)
			amount, err := strconv.ParseFloat(c.Args().Get(1), 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", c.Args().Get(1), err)
			}

			cl, err := newClient(c, 60*time.Second)
			if err != nil {
				return err
			}

			t, err := cl.SendTransfer(c.Context, to, amount, c.String("token"))
			if err != nil {
				return fmt.Errorf("failed to send transfer: %w", err)
			}
			return finishSubmit(c, cl, t)
		},
	}
}

// finishSubmit prints a freshly submitted transfer and, with --wait, follows
// it to a final status.
func finishSubmit(c *cli.Context, cl *client.Client, t *client.Transfer) error {
	out := c.App.Writer
	jsonOutput := c.Bool("json")

	if !c.Bool("wait") {
		if jsonOutput {
			return printJSON(out, t)
		}
		printTransfer(out, t)
		return nil
	}

	if !jsonOutput {
		fmt.Fprintf(out, "Submitted %s, waiting for confirmation...\n", t.Signature)
	}
	settled, err := awaitTransfer(c.Context, cl, t.Signature, c.Duration("wait-timeout"), c.Duration("poll-interval"))
	if settled == nil {
		settled = t
	}
	if jsonOutput {
		if perr := printJSON(out, settled); perr != nil {
			return perr
		}
	} else {
		printTransfer(out, settled)
	}
	if err != nil {
		return err
	}
	if settled.Status == "failed" {
		return fmt.Errorf("transaction failed: %s", settled.Error)
	}
	return nil
}

// awaitTransfer polls until the transfer settles. Running out of time is
// reported as a timeout; the transfer stays pending on the server.
func awaitTransfer(ctx context.Context, cl *client.Client, signature string, timeout, interval time.Duration) (*client.Transfer, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t, err := cl.AwaitTransfer(ctx, signature, interval)
	if errors.Is(err, context.DeadlineExceeded) {
		return t, fmt.Errorf("confirmation timed out after %v; transaction %s is still pending", timeout, signature)
	}
	if err != nil {
		return t, fmt.Errorf("failed to await transaction: %w", err)
	}
	return t, nil
}

func listTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List submitted transfers, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "wallet",
				Usage: "Sending wallet address (default: the connected wallet)",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq expression each transfer must satisfy (repeatable), e.g. '.status == \"failed\"'",
			},
		},
		Action: func(c *cli.Context) error {
			filter, err := compileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}
			cl, err := newClient(c, 30*time.Second)
			if err != nil {
				return err
			}

			transfers, err := cl.ListTransfers(c.Context, c.String("wallet"))
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}
			matched := make([]*client.Transfer, 0, len(transfers))
			for _, t := range transfers {
				if filter.Match(t) {
					matched = append(matched, t)
				}
			}

			out := c.App.Writer
			if c.Bool("json") {
				return printJSON(out, matched)
			}
			if len(matched) == 0 {
				fmt.Fprintln(out, "No transfers found")
				return nil
			}
			for _, t := range matched {
				printTransferLine(out, t)
			}
			fmt.Fprintf(out, "\n%d transfer(s)\n", len(matched))
			return nil
		},
	}
}

func getTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one transfer",
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("signature is required")
			}
			cl, err := newClient(c, 30*time.Second)
			if err != nil {
				return err
			}

			t, err := cl.GetTransfer(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get transfer: %w", err)
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, t)
			}
			printTransfer(c.App.Writer, t)
			return nil
		},
	}
}

func awaitTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a transfer is confirmed or fails",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   90 * time.Second,
				Usage:   "How long to wait",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Value: 2 * time.Second,
				Usage: "How often to check the transfer status",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("signature is required")
			}
			cl, err := newClient(c, 30*time.Second)
			if err != nil {
				return err
			}

			t, err := awaitTransfer(c.Context, cl, c.Args().First(), c.Duration("timeout"), c.Duration("poll-interval"))
			if t != nil {
				if c.Bool("json") {
					if perr := printJSON(c.App.Writer, t); perr != nil {
						return perr
					}
				} else {
					printTransfer(c.App.Writer, t)
				}
			}
			if err != nil {
				return err
			}
			if t.Status == "failed" {
				return fmt.Errorf("transaction failed: %s", t.Error)
			}
			return nil
		},
	}
}
