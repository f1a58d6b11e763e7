package main

import (
	"fmt"
	"io"
	"time"

	"github.com/brojonat/lazorpass/client"
	"github.com/urfave/cli/v2"
)

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show the connected wallet's balance",
		ArgsUsage: "[TOKEN]",
		Description: `TOKEN is SOL, USDC, or an SPL mint address. The SOL balance is always
shown; a token balance is added when TOKEN names an SPL token.`,
		Action: func(c *cli.Context) error {
			cl, err := newClient(c, 30*time.Second)
			if err != nil {
				return err
			}

			bal, err := cl.Balance(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}

			out := c.App.Writer
			if c.Bool("json") {
				return printJSON(out, bal)
			}
			fmt.Fprintf(out, "Wallet:  %s\n", bal.Address)
			fmt.Fprintf(out, "SOL:     %.9f (%d lamports)\n", bal.SOL, bal.Lamports)
			if bal.Token != nil {
				fmt.Fprintf(out, "%-8s %g (%d base units, mint %s)\n",
					bal.Token.Symbol+":", bal.Token.UIAmount, bal.Token.Amount, bal.Token.Mint)
			}
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent on-chain transfers of the connected wallet",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   10,
				Usage:   "Maximum number of transactions to retrieve (1-100)",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq expression each transaction must satisfy (repeatable), e.g. '.memo != null'",
			},
		},
		Action: func(c *cli.Context) error {
			limit := c.Int("limit")
			if limit < 1 || limit > 100 {
				return fmt.Errorf("limit must be between 1 and 100")
			}
			filter, err := compileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			cl, err := newClient(c, 30*time.Second)
			if err != nil {
				return err
			}
			txns, err := cl.History(c.Context, limit)
			if err != nil {
				return fmt.Errorf("failed to get history: %w", err)
			}

			matched := make([]*client.HistoryEntry, 0, len(txns))
			for _, txn := range txns {
				if filter.Match(txn) {
					matched = append(matched, txn)
				}
			}

			out := c.App.Writer
			if c.Bool("json") {
				return printJSON(out, matched)
			}
			if len(matched) == 0 {
				fmt.Fprintln(out, "No transactions found")
				return nil
			}
			for _, txn := range matched {
				printHistoryEntry(out, txn)
			}
			return nil
		},
	}
}

func printHistoryEntry(out io.Writer, txn *client.HistoryEntry) {
	mark := "✓"
	if txn.Err != nil {
		mark = "✗"
	}
	token := "SOL"
	if txn.TokenMint != nil {
		token = *txn.TokenMint
	}
	fmt.Fprintf(out, "%s %s  %d %s", mark, txn.BlockTime.Format(time.RFC3339), txn.Amount, token)
	if txn.FromAddress != nil && txn.ToAddress != nil {
		fmt.Fprintf(out, "  %s → %s", *txn.FromAddress, *txn.ToAddress)
	}
	if txn.Memo != nil {
		fmt.Fprintf(out, "  memo=%q", *txn.Memo)
	}
	fmt.Fprintf(out, "\n  %s\n", txn.Signature)
}
