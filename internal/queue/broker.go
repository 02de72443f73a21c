package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subjects carrying background jobs. All workers join one queue group so a
// published job is handled by exactly one of them.
const (
	SubjectCampaignSend   = "aluno.jobs.campaign.send"
	SubjectWebhookProcess = "aluno.jobs.webhook.process"
	SubjectSalesSync      = "aluno.jobs.sales.sync"

	workerQueueGroup = "aluno-workers"
)

// Hard wall-clock limits per job kind. A campaign send sleeps between every
// recipient, so large batches legitimately run for hours.
const (
	CampaignSendTimeout   = 4 * time.Hour
	WebhookProcessTimeout = 1 * time.Minute
	SalesSyncTimeout      = 30 * time.Minute
)

// Publisher enqueues background jobs. Services depend on this rather than on
// the NATS connection so tests can capture published jobs.
type Publisher interface {
	Publish(subject string, payload any) error
}

// Handler processes one decoded job. Returning an error only logs it; jobs
// are not redelivered — resumability lives in the DB rows, not the broker.
type Handler func(ctx context.Context, data []byte) error

// Broker wraps the NATS connection for publishing and worker subscriptions.
type Broker struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewBroker constructs a broker over an established NATS connection.
func NewBroker(conn *nats.Conn, logger zerolog.Logger) *Broker {
	return &Broker{
		conn:   conn,
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

// Publish serialises the payload and emits it on the subject.
func (b *Broker) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}

	return nil
}

// Subscribe starts a worker loop on the subject. Jobs are pulled off a
// channel and handled strictly one at a time, each under its own timeout;
// this keeps per-worker memory bounded and makes campaign throttling local.
func (b *Broker) Subscribe(ctx context.Context, subject string, timeout time.Duration, handler Handler) error {
	messages := make(chan *nats.Msg, 64)
	sub, err := b.conn.ChanQueueSubscribe(subject, workerQueueGroup, messages)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	go func() {
		defer func() {
			if err := sub.Unsubscribe(); err != nil {
				b.logger.Warn().Err(err).Str("subject", subject).Msg("failed to unsubscribe worker")
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				b.runJob(ctx, subject, timeout, handler, msg.Data)
			}
		}
	}()

	return nil
}

func (b *Broker) runJob(parent context.Context, subject string, timeout time.Duration, handler Handler, data []byte) {
	jobCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	err := handler(jobCtx, data)
	elapsed := time.Since(start)

	logger := b.logger.With().Str("subject", subject).Dur("elapsed", elapsed).Logger()
	switch {
	case err != nil:
		logger.Error().Err(err).Msg("background job failed")
	case elapsed > timeout/2:
		logger.Warn().Msg("background job exceeded soft time limit")
	default:
		logger.Info().Msg("background job completed")
	}
}
