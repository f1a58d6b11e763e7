package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Subscriber consumes transfer events from the TRANSFERS stream.
type Subscriber struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSubscriber connects to NATS and ensures the stream exists.
func NewSubscriber(natsURL string, logger *slog.Logger) (*Subscriber, error) {
	nc, js, err := Connect(natsURL, "lazorpass-subscriber")
	if err != nil {
		return nil, err
	}
	if err := EnsureStream(context.Background(), js, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}
	logger.Info("NATS subscriber initialized", "url", natsURL)
	return &Subscriber{nc: nc, js: js, logger: logger}, nil
}

// Consume delivers new events for wallet (all wallets when empty) to handle
// until ctx is done. Each message is acked after handle returns.
func (s *Subscriber) Consume(ctx context.Context, wallet string, handle func(*TransferEvent)) error {
	// Ephemeral consumer; removed by the server once inactive.
	cons, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: Subject(wallet),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		defer msg.Ack()
		var event TransferEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			s.logger.WarnContext(ctx, "failed to unmarshal transfer event", "error", err)
			return
		}
		handle(&event)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	<-ctx.Done()
	cc.Stop()
	return nil
}

// Close closes the connection to NATS.
func (s *Subscriber) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS subscriber closed")
	}
	return nil
}
