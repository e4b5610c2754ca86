// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Login methods.
const (
	MethodPassword = "password"
	MethodOTP      = "otp"
	MethodGoogle   = "google"
)

// Outcome labels shared by counters.
const (
	StatusSuccess      = "success"
	StatusFailure      = "failure"
	StatusDropped      = "dropped"
	StatusDeadLettered = "dead_lettered"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Account metrics
	IncSignup()
	IncLogin(method, status string)
	IncOTPIssued(purpose string)

	// Access guard metrics
	IncUserCacheHit()
	IncUserCacheMiss()

	// Note metrics
	IncNoteCreated()
	IncNoteDeleted()

	// Mail pipeline metrics
	IncMailEnqueued(status string)  // status: "success" or "dropped"
	IncMailProcessed(status string) // status: "success", "failure", "dead_lettered"
	ObserveMailSendDuration(duration time.Duration)
	SetMailQueueDepth(depth int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
