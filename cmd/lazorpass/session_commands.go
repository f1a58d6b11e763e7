package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/brojonat/lazorpass/client"
	"github.com/pkg/browser"
	"github.com/skip2/go-qrcode"
	"github.com/urfave/cli/v2"
)

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Connect a passkey wallet through the portal",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "open",
				Value: true,
				Usage: "Open the portal link in the default browser",
			},
			&cli.BoolFlag{
				Name:  "qr",
				Value: true,
				Usage: "Print a QR code of the portal link (for a phone passkey)",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Value: time.Second,
				Usage: "How often to check whether the connect finished",
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newClient(c, 30*time.Second)
			if err != nil {
				return err
			}
			out := c.App.Writer
			jsonOutput := c.Bool("json")

			req, err := cl.Connect(c.Context)
			if err != nil {
				return fmt.Errorf("failed to start connect: %w", err)
			}

			if !jsonOutput {
				fmt.Fprintf(out, "Approve the connection with your passkey:\n\n  %s\n\n", req.PortalURL)
				if c.Bool("qr") {
					if qr, err := qrcode.New(req.PortalURL, qrcode.Medium); err == nil {
						fmt.Fprintln(out, qr.ToSmallString(false))
					}
				}
				fmt.Fprintf(out, "Waiting until %s...\n", req.Deadline.Local().Format(time.Kitchen))
			}
			if c.Bool("open") {
				browser.Stdout = os.Stderr
				if err := browser.OpenURL(req.PortalURL); err != nil {
					fmt.Fprintf(os.Stderr, "could not open browser: %v\n", err)
				}
			}

			// The server enforces the deadline; the slack covers the last poll.
			ctx, cancel := context.WithDeadline(c.Context, req.Deadline.Add(5*time.Second))
			defer cancel()

			session, err := cl.WaitConnected(ctx, c.Duration("poll-interval"))
			if err != nil {
				return fmt.Errorf("connect failed: %w", err)
			}

			if jsonOutput {
				return printJSON(out, session)
			}
			fmt.Fprintf(out, "✓ Connected: %s\n", session.Identity.Address)
			return nil
		},
	}
}

func disconnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "disconnect",
		Usage: "Forget the connected wallet",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c, 10*time.Second)
			if err != nil {
				return err
			}
			if err := cl.Disconnect(c.Context); err != nil {
				return fmt.Errorf("failed to disconnect: %w", err)
			}
			if !c.Bool("json") {
				fmt.Fprintln(c.App.Writer, "✓ Disconnected")
			}
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the wallet connection state",
		Action: func(c *cli.Context) error {
			cl, err := newClient(c, 10*time.Second)
			if err != nil {
				return err
			}
			session, err := cl.Session(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get session: %w", err)
			}

			out := c.App.Writer
			if c.Bool("json") {
				return printJSON(out, session)
			}
			printSession(out, session)
			return nil
		},
	}
}

func printSession(out io.Writer, s *client.Session) {
	fmt.Fprintf(out, "State:      %s\n", s.State)
	if s.Identity != nil {
		fmt.Fprintf(out, "Wallet:     %s\n", s.Identity.Address)
		if !s.Identity.ConnectedAt.IsZero() {
			fmt.Fprintf(out, "Connected:  %s\n", s.Identity.ConnectedAt.Format(time.RFC3339))
		}
	}
	if s.LastError != "" {
		fmt.Fprintf(out, "Last error: %s (%s)\n", s.LastError, s.LastErrorCode)
	}
}
