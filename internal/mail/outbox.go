package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/notely/notely/internal/metrics"
)

const (
	// StreamKey is the Redis stream for pending OTP emails.
	StreamKey = "stream:otp_mail"

	// DeadLetterStreamKey is the Redis stream for undeliverable messages.
	DeadLetterStreamKey = "stream:otp_mail:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 10000

	// EnqueueTimeout bounds the XADD so a slow Redis cannot stall signups.
	EnqueueTimeout = 2 * time.Second
)

// Outbox enqueues OTP emails to the Redis stream.
type Outbox struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// NewOutbox creates a new mail outbox.
func NewOutbox(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Outbox {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Outbox{
		redis:   client,
		logger:  logger.With("component", "mail.outbox"),
		metrics: recorder,
		now:     time.Now,
	}
}

// EnqueueOTP queues a code for delivery to email. The code is valid for ttl.
func (o *Outbox) EnqueueOTP(ctx context.Context, email, name, code, purpose string, ttl time.Duration) error {
	now := o.now()
	payload := OTPPayload{
		To:          email,
		Name:        name,
		Code:        code,
		Purpose:     purpose,
		RequestedAt: now.UnixMilli(),
		ExpiresAt:   now.Add(ttl).UnixMilli(),
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("invalid otp mail: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal otp mail: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, EnqueueTimeout)
	defer cancel()

	streamID, err := o.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		o.metrics.IncMailEnqueued(metrics.StatusDropped)
		return fmt.Errorf("xadd: %w", err)
	}

	o.logger.Debug("otp mail enqueued", "purpose", purpose, "stream_id", streamID)
	o.metrics.IncMailEnqueued(metrics.StatusSuccess)
	return nil
}
