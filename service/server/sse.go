package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/lazorpass/service/metrics"
	natspkg "github.com/brojonat/lazorpass/service/nats"
	"github.com/brojonat/lazorpass/service/transfer"
)

const sseKeepaliveInterval = 10 * time.Second

// handleStreamTransfers streams transfer events as Server-Sent Events.
// If the address path parameter is empty, streams all wallets.
func handleStreamTransfers(events EventStream, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		walletDesc := address
		if address == "" {
			walletDesc = "all wallets"
		}

		// Streams outlive the server's write timeout.
		rc := http.NewResponseController(w)
		_ = rc.SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ctx := r.Context()
		eventCh := make(chan *natspkg.TransferEvent, 10)
		errCh := make(chan error, 1)

		go func() {
			errCh <- events.Consume(ctx, address, func(event *natspkg.TransferEvent) {
				select {
				case eventCh <- event:
				case <-ctx.Done():
				}
			})
		}()

		m.RecordSSEConnectionChange(1)
		defer m.RecordSSEConnectionChange(-1)

		logger.DebugContext(ctx, "SSE client connected",
			"wallet", walletDesc,
			"remote_addr", r.RemoteAddr,
		)

		fmt.Fprintf(w, "event: connected\ndata: {\"wallet\":%q}\n\n", walletDesc)
		rc.Flush()

		keepalive := time.NewTicker(sseKeepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				rc.Flush()

			case event := <-eventCh:
				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(ctx, "failed to marshal event", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: transfer\ndata: %s\n\n", data)
				rc.Flush()
				m.RecordSSEEventSent("transfer")

				logger.DebugContext(ctx, "sent transfer event",
					"wallet", walletDesc,
					"signature", event.Signature,
					"status", event.Status,
				)

			case err := <-errCh:
				if err != nil {
					logger.ErrorContext(ctx, "event stream failed", "wallet", walletDesc, "error", err)
					fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
					rc.Flush()
				}
				return

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected",
					"wallet", walletDesc,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}

// consumeStatusEvents applies terminal statuses published by confirmation
// workflows to the record store until ctx is done.
func consumeStatusEvents(ctx context.Context, events EventStream, submitter *transfer.Submitter, logger *slog.Logger) {
	logger.Info("consuming transfer status events")
	err := events.Consume(ctx, "", func(event *natspkg.TransferEvent) {
		status := transfer.Status(event.Status)
		if !status.Terminal() {
			return
		}
		if rec, changed := submitter.ApplyStatus(ctx, event.Signature, status, event.Slot, event.Error); changed {
			logger.InfoContext(ctx, "transfer resolved by workflow",
				"signature", rec.Signature,
				"status", rec.Status,
				"slot", rec.Slot,
			)
		}
	})
	if err != nil {
		logger.Error("transfer status consumer stopped", "error", err)
	}
}
