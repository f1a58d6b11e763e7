package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/lazorpass/client"
	"github.com/urfave/cli/v2"
)

func slippageFlag() cli.Flag {
	return &cli.IntFlag{
		Name:  "slippage-bps",
		Value: -1,
		Usage: "Maximum slippage in basis points (default: server setting)",
	}
}

// swapArgs parses FROM TO AMOUNT.
func swapArgs(c *cli.Context) (from, to string, amount float64, err error) {
	if c.NArg() < 3 {
		return "", "", 0, fmt.Errorf("from token, to token, and amount are required")
	}
	amount, err = strconv.ParseFloat(c.Args().Get(2), 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid amount %q: %w", c.Args().Get(2), err)
	}
	return c.Args().Get(0), c.Args().Get(1), amount, nil
}

func swapQuoteCommand() *cli.Command {
	return &cli.Command{
		Name:      "quote",
		Usage:     "Price a swap without submitting it",
		ArgsUsage: "FROM TO AMOUNT",
		Flags:     []cli.Flag{slippageFlag()},
		Action: func(c *cli.Context) error {
			from, to, amount, err := swapArgs(c)
			if err != nil {
				return err
			}
			cl, err := newClient(c, 30*time.Second)
			if err != nil {
				return err
			}

			q, err := cl.SwapQuote(c.Context, from, to, amount, c.Int("slippage-bps"))
			if err != nil {
				return fmt.Errorf("failed to get quote: %w", err)
			}

			out := c.App.Writer
			if c.Bool("json") {
				return printJSON(out, q)
			}
			printQuote(c, q, from, to)
			return nil
		},
	}
}

func swapExecCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Swap tokens in the connected wallet",
		ArgsUsage: "FROM TO AMOUNT",
		Flags:     append([]cli.Flag{slippageFlag()}, waitFlags()...),
		Action: func(c *cli.Context) error {
			from, to, amount, err := swapArgs(c)
			if err != nil {
				return err
			}
			cl, err := newClient(c, 60*time.Second)
			if err != nil {
				return err
			}

			t, err := cl.Swap(c.Context, from, to, amount, c.Int("slippage-bps"))
			if err != nil {
				return fmt.Errorf("failed to swap: %w", err)
			}
			return finishSubmit(c, cl, t)
		},
	}
}

func printQuote(c *cli.Context, q *client.Quote, from, to string) {
	out := c.App.Writer
	fmt.Fprintf(out, "%g %s → %g %s\n", q.UIInAmount, from, q.UIOutAmount, to)
	fmt.Fprintf(out, "  Minimum out:   %d base units\n", q.MinOutAmount)
	fmt.Fprintf(out, "  Slippage:      %d bps\n", q.SlippageBps)
	fmt.Fprintf(out, "  Price impact:  %s%%\n", q.PriceImpactPct)
	if len(q.Routes) > 0 {
		fmt.Fprintf(out, "  Route:         %s\n", strings.Join(q.Routes, " → "))
	}
}
