package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/notely/notely/internal/metrics"
)

const (
	// ConsumerGroup is the Redis consumer group name.
	ConsumerGroup = "otp_mailers"

	// DefaultBatchSize is the max messages read per poll.
	DefaultBatchSize = 10

	// DefaultBlockTimeout is how long to block waiting for messages.
	DefaultBlockTimeout = 5 * time.Second

	// DefaultMaxRetries is the max send attempts per message.
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the base of the exponential retry backoff.
	DefaultRetryBackoff = time.Second

	// DefaultClaimInterval is how often to scan pending messages.
	DefaultClaimInterval = 10 * time.Second

	// DefaultClaimIdle is the idle time before reclaiming pending messages.
	DefaultClaimIdle = 30 * time.Second

	// DefaultMetricsInterval is how often to refresh queue depth metrics.
	DefaultMetricsInterval = 5 * time.Second
)

// Worker drains the OTP mail stream and hands messages to a Sender.
type Worker struct {
	redis           *redis.Client
	sender          Sender
	limiter         *rate.Limiter
	logger          *slog.Logger
	metrics         metrics.Recorder
	consumerID      string
	batchSize       int
	blockTimeout    time.Duration
	maxRetries      int
	retryBackoff    time.Duration
	claimInterval   time.Duration
	claimIdle       time.Duration
	metricsInterval time.Duration
	claimStartID    string
	lastClaim       time.Time
	lastMetrics     time.Time
	now             func() time.Time

	started  bool
	draining bool
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// NewWorker creates a new mail worker. ratePerSecond caps sends across the
// process; zero or less disables throttling.
func NewWorker(client *redis.Client, sender Sender, logger *slog.Logger, consumerID string, ratePerSecond float64, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = max(1, int(ratePerSecond))
	}

	return &Worker{
		redis:           client,
		sender:          sender,
		limiter:         rate.NewLimiter(limit, burst),
		logger:          logger.With("component", "mail.worker", "consumer_id", consumerID),
		metrics:         recorder,
		consumerID:      consumerID,
		batchSize:       DefaultBatchSize,
		blockTimeout:    DefaultBlockTimeout,
		maxRetries:      DefaultMaxRetries,
		retryBackoff:    DefaultRetryBackoff,
		claimInterval:   DefaultClaimInterval,
		claimIdle:       DefaultClaimIdle,
		metricsInterval: DefaultMetricsInterval,
		claimStartID:    "0-0",
		now:             time.Now,
	}
}

// Run starts the worker loop. Blocks until context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("worker already started")
	}
	w.started = true
	w.done = make(chan struct{})
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	defer close(w.done)

	if err := w.ensureConsumerGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	w.logger.Info("mail worker started")

	for {
		w.mu.Lock()
		draining := w.draining
		w.mu.Unlock()

		if draining {
			w.logger.Info("mail worker draining, stopping")
			return nil
		}

		select {
		case <-ctx.Done():
			w.logger.Info("mail worker stopping")
			return ctx.Err()
		default:
			if err := w.processOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				w.logger.Error("process error", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// Shutdown stops the worker and waits for the in-flight message.
// It matches server.ShutdownFunc.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.draining = true
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	w.logger.Info("mail worker shutdown initiated")

	if cancel != nil {
		cancel()
	}

	if done != nil {
		select {
		case <-done:
			w.logger.Info("mail worker shutdown complete")
			return nil
		case <-ctx.Done():
			w.logger.Warn("mail worker shutdown timed out")
			return ctx.Err()
		}
	}
	return nil
}

// ensureConsumerGroup creates the consumer group if it doesn't exist.
func (w *Worker) ensureConsumerGroup(ctx context.Context) error {
	err := w.redis.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !isConsumerGroupExistsError(err) {
		return err
	}
	return nil
}

// processOnce reads one batch and delivers each message in turn.
func (w *Worker) processOnce(ctx context.Context) error {
	w.maybeUpdateQueueDepth(ctx)

	claimed, err := w.maybeClaimPending(ctx)
	if err != nil {
		w.logger.Warn("failed to claim pending messages", "error", err)
	}

	messages := claimed
	if len(messages) == 0 {
		messages, err = w.readBatch(ctx)
		if err != nil {
			return err
		}
	}

	for _, msg := range messages {
		if err := w.handleMessage(ctx, msg); err != nil {
			// Leave unacked; XAUTOCLAIM will pick it up again.
			return err
		}
	}
	return nil
}

// handleMessage delivers one stream message and ACKs it unless the context
// was cancelled mid-send.
func (w *Worker) handleMessage(ctx context.Context, msg redis.XMessage) error {
	payload, reason, err := decodeMessage(msg)
	if err != nil {
		w.deadLetterMessage(ctx, msg, reason, err.Error())
		return w.ackMessages(ctx, msg.ID)
	}

	if payload.Expired(w.now()) {
		w.logger.Info("skipping expired otp mail", "message_id", msg.ID, "purpose", payload.Purpose)
		w.metrics.IncMailProcessed(metrics.StatusDropped)
		return w.ackMessages(ctx, msg.ID)
	}

	if err := w.sendWithRetry(ctx, payload.Render()); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.deadLetterMessage(ctx, msg, "send_failed", err.Error())
		return w.ackMessages(ctx, msg.ID)
	}

	return w.ackMessages(ctx, msg.ID)
}

// decodeMessage parses a stream message. On failure it also returns a
// dead-letter reason.
func decodeMessage(msg redis.XMessage) (OTPPayload, string, error) {
	var payload OTPPayload

	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return payload, "invalid_format", errors.New("payload field missing or not a string")
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, "unmarshal_error", err
	}
	if err := payload.Validate(); err != nil {
		return payload, "validation_error", err
	}
	return payload, "", nil
}

// sendWithRetry attempts delivery with exponential backoff.
func (w *Worker) sendWithRetry(ctx context.Context, msg Message) error {
	var lastErr error

	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		err := w.sender.Send(ctx, msg)
		w.metrics.ObserveMailSendDuration(time.Since(start))
		if err == nil {
			w.metrics.IncMailProcessed(metrics.StatusSuccess)
			w.logger.Info("otp mail sent", "subject", msg.Subject, "attempt", attempt)
			return nil
		}

		lastErr = err
		if attempt == w.maxRetries {
			break
		}

		backoff := w.retryBackoff * time.Duration(1<<attempt)
		w.logger.Warn("otp mail send failed, retrying",
			"attempt", attempt,
			"backoff_seconds", backoff.Seconds(),
			"error", err,
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	w.metrics.IncMailProcessed(metrics.StatusFailure)
	return lastErr
}

// maybeClaimPending reclaims messages another consumer left unacked.
func (w *Worker) maybeClaimPending(ctx context.Context) ([]redis.XMessage, error) {
	if w.claimInterval <= 0 || w.claimIdle <= 0 {
		return nil, nil
	}
	if !w.lastClaim.IsZero() && time.Since(w.lastClaim) < w.claimInterval {
		return nil, nil
	}

	w.lastClaim = time.Now()
	messages, start, err := w.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		MinIdle:  w.claimIdle,
		Start:    w.claimStartID,
		Count:    int64(w.batchSize),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if start != "" {
		w.claimStartID = start
	}
	return messages, nil
}

func (w *Worker) maybeUpdateQueueDepth(ctx context.Context) {
	if w.metricsInterval <= 0 {
		return
	}
	if !w.lastMetrics.IsZero() && time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	groups, err := w.redis.XInfoGroups(ctx, StreamKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		w.logger.Warn("failed to read stream group info", "error", err)
		return
	}
	for _, group := range groups {
		if group.Name == ConsumerGroup {
			w.metrics.SetMailQueueDepth(group.Pending + group.Lag)
			return
		}
	}
}

// SetBlockTimeout overrides the default blocking timeout.
func (w *Worker) SetBlockTimeout(timeout time.Duration) {
	if timeout > 0 {
		w.blockTimeout = timeout
	}
}

// SetRetryBackoff overrides the base retry backoff.
func (w *Worker) SetRetryBackoff(backoff time.Duration) {
	if backoff > 0 {
		w.retryBackoff = backoff
	}
}

// SetClaimIdle overrides the default pending idle threshold.
func (w *Worker) SetClaimIdle(idle time.Duration) {
	if idle > 0 {
		w.claimIdle = idle
	}
}

// readBatch reads new messages using XREADGROUP.
func (w *Worker) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(w.batchSize),
		Block:    w.blockTimeout,
	}).Result()

	if errors.Is(err, redis.Nil) || (err == nil && len(streams) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	return streams[0].Messages, nil
}

// deadLetterMessage copies an undeliverable message to the dead-letter stream.
// The code itself is not copied.
func (w *Worker) deadLetterMessage(ctx context.Context, msg redis.XMessage, reason, detail string) {
	w.logger.Warn("dead-lettering otp mail",
		"message_id", msg.ID,
		"reason", reason,
		"detail", detail,
	)

	_, err := w.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"original_id":      msg.ID,
			"original_stream":  StreamKey,
			"reason":           reason,
			"detail":           detail,
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Result()

	if err != nil {
		w.logger.Error("failed to write to dead-letter queue",
			"message_id", msg.ID,
			"error", err,
		)
	}

	w.metrics.IncMailProcessed(metrics.StatusDeadLettered)
}

// ackMessages acknowledges processed messages.
func (w *Worker) ackMessages(ctx context.Context, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	if _, err := w.redis.XAck(ctx, StreamKey, ConsumerGroup, messageIDs...).Result(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// isConsumerGroupExistsError checks if the error is "BUSYGROUP" (group exists).
func isConsumerGroupExistsError(err error) bool {
	return err != nil && (err.Error() == "BUSYGROUP Consumer Group name already exists" ||
		err.Error() == "BUSYGROUP")
}
