package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			cl, err := newClient(c, c.Duration("timeout"))
			if err != nil {
				return err
			}

			h, err := cl.Health(c.Context)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			if h.Status != "ok" {
				return fmt.Errorf("server reported unhealthy status: %s", h.Status)
			}

			out := c.App.Writer
			if c.Bool("json") {
				return printJSON(out, h)
			}
			fmt.Fprintf(out, "✓ Server is healthy\n")
			fmt.Fprintf(out, "  URL:     %s\n", c.String("server-url"))
			fmt.Fprintf(out, "  Version: %s\n", h.Version)
			fmt.Fprintf(out, "  Network: %s\n", h.Network)
			fmt.Fprintf(out, "  Signer:  %s\n", h.Signer)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			out := c.App.Writer
			fmt.Fprintf(out, "lazorpass CLI\n")
			fmt.Fprintf(out, "  Version: %s\n", version)
			fmt.Fprintf(out, "  Commit:  %s\n", commit)
			fmt.Fprintf(out, "  Built:   %s\n", date)
			return nil
		},
	}
}
