package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/brojonat/lazorpass/client"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func statusMark(status string) string {
	switch status {
	case "confirmed":
		return "✓"
	case "failed":
		return "✗"
	default:
		return "…"
	}
}

func printTransfer(w io.Writer, t *client.Transfer) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%s %s %s\n", statusMark(t.Status), t.Kind, t.Status)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Signature:  %s\n", t.Signature)
	fmt.Fprintf(w, "From:       %s\n", t.From)
	if t.To != "" {
		fmt.Fprintf(w, "To:         %s\n", t.To)
	}
	fmt.Fprintf(w, "Amount:     %g %s (%d base units)\n", t.UIAmount, t.Token, t.Amount)
	if t.Signer != "" {
		fmt.Fprintf(w, "Signer:     %s\n", t.Signer)
	}
	if t.Slot != 0 {
		fmt.Fprintf(w, "Slot:       %d\n", t.Slot)
	}
	if t.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", t.Error)
	}
	if !t.SubmittedAt.IsZero() {
		fmt.Fprintf(w, "Submitted:  %s\n", t.SubmittedAt.Format(time.RFC3339))
	}
	if t.ExplorerURL != "" {
		fmt.Fprintf(w, "Explorer:   %s\n", t.ExplorerURL)
	}
}

func printTransferLine(w io.Writer, t *client.Transfer) {
	fmt.Fprintf(w, "%s %-9s %-8s %12g %-5s %s\n",
		statusMark(t.Status), t.Status, t.Kind, t.UIAmount, t.Token, t.Signature)
}
