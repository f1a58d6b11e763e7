package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TransferEvent is a status change of a submitted transfer, as delivered
// over the event stream.
type TransferEvent struct {
	Signature     string    `json:"signature"`
	WalletAddress string    `json:"wallet_address"`
	ToAddress     string    `json:"to_address,omitempty"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	Amount        uint64    `json:"amount"`
	Token         string    `json:"token"`
	Slot          uint64    `json:"slot,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
	PublishedAt   time.Time `json:"published_at"`
}

// Stream subscribes to transfer events for wallet (all wallets when empty)
// and calls handle for each until ctx is done or handle returns an error.
// It returns nil when ctx is cancelled.
func (c *Client) Stream(ctx context.Context, wallet string, handle func(*TransferEvent) error) error {
	u := c.baseURL + "/api/v1/stream/transfers"
	if wallet != "" {
		u += "/" + url.PathEscape(wallet)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// Same transport, no timeout: the stream is long-lived.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if err := c.dispatch(event, data, handle); err != nil {
				return err
			}
			event, data = "", ""
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("error reading event stream: %w", err)
	}
	return nil
}

func (c *Client) dispatch(event, data string, handle func(*TransferEvent) error) error {
	switch event {
	case "connected":
		c.logger.Debug("event stream connected", "data", data)
		return nil

	case "transfer":
		var ev TransferEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.logger.Warn("failed to decode transfer event", "error", err)
			return nil
		}
		return handle(&ev)

	case "error":
		var errInfo struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal([]byte(data), &errInfo)
		return fmt.Errorf("server error: %s", errInfo.Error)

	default:
		// keepalives and unknown events
		return nil
	}
}
