package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"docchat/internal/model"
	"docchat/internal/platform/rabbitmq"
)

var errMalformed = errors.New("malformed transcript message")

type ExchangeWriter interface {
	Create(ctx context.Context, exchange *model.Exchange) error
}

// TranscriptWorker drains the transcript queue into the repository. Malformed or
// unpersistable messages are dropped (nack without requeue).
type TranscriptWorker struct {
	conn      *amqp.Connection
	repo      ExchangeWriter
	queueName string
	logger    zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTranscriptWorker(conn *amqp.Connection, repo ExchangeWriter, queueName string, logger zerolog.Logger) *TranscriptWorker {
	return &TranscriptWorker{
		conn:      conn,
		repo:      repo,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *TranscriptWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if _, err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := w.handle(workerCtx, d.Body); err != nil {
					w.logger.Error().Err(err).Msg("transcript worker dropped message")
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	w.logger.Info().Str("queue", w.queueName).Msg("transcript worker started")
	return nil
}

func (w *TranscriptWorker) handle(ctx context.Context, body []byte) error {
	var exchange model.Exchange
	if err := json.Unmarshal(body, &exchange); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if exchange.IndexID == "" || exchange.Question == "" {
		return fmt.Errorf("%w: missing index id or question", errMalformed)
	}
	exchange.ID = 0
	return w.repo.Create(ctx, &exchange)
}

func (w *TranscriptWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
