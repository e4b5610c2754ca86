package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncSignup is a no-op.
func (n *NoopRecorder) IncSignup() {}

// IncLogin is a no-op.
func (n *NoopRecorder) IncLogin(method, status string) {}

// IncOTPIssued is a no-op.
func (n *NoopRecorder) IncOTPIssued(purpose string) {}

// IncUserCacheHit is a no-op.
func (n *NoopRecorder) IncUserCacheHit() {}

// IncUserCacheMiss is a no-op.
func (n *NoopRecorder) IncUserCacheMiss() {}

// IncNoteCreated is a no-op.
func (n *NoopRecorder) IncNoteCreated() {}

// IncNoteDeleted is a no-op.
func (n *NoopRecorder) IncNoteDeleted() {}

// IncMailEnqueued is a no-op.
func (n *NoopRecorder) IncMailEnqueued(status string) {}

// IncMailProcessed is a no-op.
func (n *NoopRecorder) IncMailProcessed(status string) {}

// ObserveMailSendDuration is a no-op.
func (n *NoopRecorder) ObserveMailSendDuration(duration time.Duration) {}

// SetMailQueueDepth is a no-op.
func (n *NoopRecorder) SetMailQueueDepth(depth int64) {}
