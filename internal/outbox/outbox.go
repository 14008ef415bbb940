package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/alexandernizov/accounts/internal/domain"
	"github.com/alexandernizov/accounts/internal/pkg/logger/sl"
	"github.com/alexandernizov/accounts/internal/storage"
)

var (
	ErrNoConnection = errors.New("can't establish connection to kafka")
)

type OutboxProvider interface {
	NextOutbox(ctx context.Context) (*domain.Outbox, error)
	ConfirmOutboxSent(ctx context.Context, id int64) error
}

// Publisher relays pending outbox rows to Kafka. Every row is confirmed only
// after the broker acknowledged it, so delivery is at least once.
type Publisher struct {
	log      *slog.Logger
	producer sarama.SyncProducer
	outboxes OutboxProvider
	interval time.Duration
}

type ConnectOptions struct {
	Brokers  []string
	ClientID string
}

// NewProducer connects a synchronous producer that waits for all in-sync
// replicas.
func NewProducer(cOpts ConnectOptions) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = cOpts.ClientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 100 * time.Millisecond

	producer, err := sarama.NewSyncProducer(cOpts.Brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("can't connect to Kafka: %w: %w", ErrNoConnection, err)
	}
	return producer, nil
}

func New(log *slog.Logger, producer sarama.SyncProducer, outboxes OutboxProvider, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Publisher{log: log, producer: producer, outboxes: outboxes, interval: interval}
}

// Run publishes pending rows every interval until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	const op = "outbox.Run"
	log := p.log.With(slog.String("op", op))

	log.Info("outbox publisher is running", slog.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("outbox publisher is stopping")
			return
		case <-ticker.C:
			if _, err := p.PublishPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("can't publish outbox", sl.Err(err))
			}
		}
	}
}

// PublishPending sends rows in id order until none is left or one fails. It
// returns the number of rows sent.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	const op = "outbox.PublishPending"
	log := p.log.With(slog.String("op", op))

	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		outbox, err := p.outboxes.NextOutbox(ctx)
		if errors.Is(err, storage.ErrNoOutbox) {
			return sent, nil
		}
		if err != nil {
			return sent, fmt.Errorf("%s: %w", op, err)
		}

		partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
			Topic: outbox.Topic,
			Key:   sarama.StringEncoder(outbox.Key.String()),
			Value: sarama.ByteEncoder(outbox.Message),
		})
		if err != nil {
			return sent, fmt.Errorf("%s: %w", op, err)
		}

		if err := p.outboxes.ConfirmOutboxSent(ctx, outbox.ID); err != nil {
			return sent, fmt.Errorf("%s: %w", op, err)
		}

		log.Debug("produced event to topic",
			slog.String("topic", outbox.Topic),
			slog.Int64("id", outbox.ID),
			slog.Int("partition", int(partition)),
			slog.Int64("offset", offset),
		)
		sent++
	}
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
