package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"sharepipe/internal/logging"
	"sharepipe/internal/services"
)

// TaskKind identifies a stream an ML task is published onto.
type TaskKind string

const (
	TaskTranscribe TaskKind = "transcribe"
	TaskSummarize  TaskKind = "summarize"
	TaskEmbed      TaskKind = "embed"
	TaskEmbedFast  TaskKind = "embed_fast"
)

// Publisher writes task messages to the broker with confirmed delivery. Every
// publish is gated by the circuit breaker; confirmed means the broker returned
// a stream entry ID for the message.
type Publisher struct {
	conn    *Connection
	breaker *Breaker
	prefix  string
	logger  *slog.Logger
}

// NewPublisher wires a publisher over an existing connection.
func NewPublisher(conn *Connection, breaker *Breaker, streamPrefix string, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:    conn,
		breaker: breaker,
		prefix:  streamPrefix,
		logger:  logging.NewComponentLogger(logger, "broker"),
	}
}

// Breaker exposes the publish-path circuit breaker for the status surface.
func (p *Publisher) Breaker() *Breaker {
	return p.breaker
}

// Publish sends one task message and waits for broker confirmation. The
// returned error is nil only when the broker acknowledged the message; callers
// treat anything else as not-sent and decide whether to requeue based on
// services.Retryable.
func (p *Publisher) Publish(ctx context.Context, kind TaskKind, shareID string, correlationID string, payload map[string]any) error {
	if err := p.breaker.Allow(); err != nil {
		return err
	}

	err := p.publishOnce(ctx, kind, shareID, correlationID, payload)
	if err != nil {
		p.breaker.RecordFailure()
		return err
	}
	p.breaker.RecordSuccess()
	return nil
}

func (p *Publisher) publishOnce(ctx context.Context, kind TaskKind, shareID, correlationID string, payload map[string]any) error {
	client, err := p.conn.Client()
	if err != nil {
		return err
	}

	values := map[string]any{
		"share_id":       shareID,
		"correlation_id": correlationID,
		"kind":           string(kind),
		"submitted_at":   time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range payload {
		values[k] = v
	}

	stream := p.prefix + ":" + string(kind)
	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		if isConnectionError(err) {
			p.conn.MarkDisconnected(err)
			return services.Wrap(services.ErrBrokerUnavailable, "broker", "publish",
				"connection lost during publish", err)
		}
		return services.Wrap(services.ErrPublishNack, "broker", "publish",
			"broker rejected message on "+stream, err)
	}
	if id == "" {
		return services.Wrap(services.ErrPublishNack, "broker", "publish",
			"broker returned empty confirmation on "+stream, nil)
	}

	p.logger.Debug("task published",
		logging.String(logging.FieldShareID, shareID),
		logging.String(logging.FieldCorrelationID, correlationID),
		logging.String("stream", stream),
		logging.String("entry_id", id))
	return nil
}

// isConnectionError distinguishes transport failures, which drop the link,
// from broker-level rejections, which do not.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded)
}
