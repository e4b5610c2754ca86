package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Signups   uint64
	Logins    map[LoginKey]uint64
	OTPIssued map[string]uint64

	UserCacheHits   uint64
	UserCacheMisses uint64

	NotesCreated uint64
	NotesDeleted uint64

	MailEnqueued            map[string]uint64
	MailProcessed           map[string]uint64
	MailSendDurationCount   uint64
	MailSendDurationTotalNs int64
	MailQueueDepth          int64
}

// LoginKey labels a login counter.
type LoginKey struct {
	Method string
	Status string
}

// InMemoryRecorder stores metrics in memory. It backs /metrics and tests.
type InMemoryRecorder struct {
	signups                 uint64
	userCacheHits           uint64
	userCacheMisses         uint64
	notesCreated            uint64
	notesDeleted            uint64
	mailSendDurationCount   uint64
	mailSendDurationTotalNs int64
	mailQueueDepth          int64

	mu            sync.Mutex
	logins        map[LoginKey]uint64
	otpIssued     map[string]uint64
	mailEnqueued  map[string]uint64
	mailProcessed map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		logins:        make(map[LoginKey]uint64),
		otpIssued:     make(map[string]uint64),
		mailEnqueued:  make(map[string]uint64),
		mailProcessed: make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		Signups:                 atomic.LoadUint64(&m.signups),
		Logins:                  copyMap(m.logins),
		OTPIssued:               copyMap(m.otpIssued),
		UserCacheHits:           atomic.LoadUint64(&m.userCacheHits),
		UserCacheMisses:         atomic.LoadUint64(&m.userCacheMisses),
		NotesCreated:            atomic.LoadUint64(&m.notesCreated),
		NotesDeleted:            atomic.LoadUint64(&m.notesDeleted),
		MailEnqueued:            copyMap(m.mailEnqueued),
		MailProcessed:           copyMap(m.mailProcessed),
		MailSendDurationCount:   atomic.LoadUint64(&m.mailSendDurationCount),
		MailSendDurationTotalNs: atomic.LoadInt64(&m.mailSendDurationTotalNs),
		MailQueueDepth:          atomic.LoadInt64(&m.mailQueueDepth),
	}
}

func copyMap[K comparable](src map[K]uint64) map[K]uint64 {
	dst := make(map[K]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// IncSignup increments the signup counter.
func (m *InMemoryRecorder) IncSignup() {
	atomic.AddUint64(&m.signups, 1)
}

// IncLogin increments the login counter for method and status.
func (m *InMemoryRecorder) IncLogin(method, status string) {
	m.mu.Lock()
	m.logins[LoginKey{Method: method, Status: status}]++
	m.mu.Unlock()
}

// IncOTPIssued increments the OTP counter for purpose.
func (m *InMemoryRecorder) IncOTPIssued(purpose string) {
	m.mu.Lock()
	m.otpIssued[purpose]++
	m.mu.Unlock()
}

// IncUserCacheHit increments the user cache hit counter.
func (m *InMemoryRecorder) IncUserCacheHit() {
	atomic.AddUint64(&m.userCacheHits, 1)
}

// IncUserCacheMiss increments the user cache miss counter.
func (m *InMemoryRecorder) IncUserCacheMiss() {
	atomic.AddUint64(&m.userCacheMisses, 1)
}

// IncNoteCreated increments the note created counter.
func (m *InMemoryRecorder) IncNoteCreated() {
	atomic.AddUint64(&m.notesCreated, 1)
}

// IncNoteDeleted increments the note deleted counter.
func (m *InMemoryRecorder) IncNoteDeleted() {
	atomic.AddUint64(&m.notesDeleted, 1)
}

// IncMailEnqueued increments the enqueued mail counter for status.
func (m *InMemoryRecorder) IncMailEnqueued(status string) {
	m.mu.Lock()
	m.mailEnqueued[status]++
	m.mu.Unlock()
}

// IncMailProcessed increments the processed mail counter for status.
func (m *InMemoryRecorder) IncMailProcessed(status string) {
	m.mu.Lock()
	m.mailProcessed[status]++
	m.mu.Unlock()
}

// ObserveMailSendDuration records how long a send took.
func (m *InMemoryRecorder) ObserveMailSendDuration(duration time.Duration) {
	atomic.AddUint64(&m.mailSendDurationCount, 1)
	atomic.AddInt64(&m.mailSendDurationTotalNs, duration.Nanoseconds())
}

// SetMailQueueDepth records the pending + unread mail count.
func (m *InMemoryRecorder) SetMailQueueDepth(depth int64) {
	atomic.StoreInt64(&m.mailQueueDepth, depth)
}
