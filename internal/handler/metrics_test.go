package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/notely/notely/internal/metrics"
)

func TestMetricsHandler(t *testing.T) {
	rec := metrics.NewInMemory()
	rec.IncSignup()
	rec.IncLogin(metrics.MethodPassword, metrics.StatusSuccess)
	rec.IncLogin(metrics.MethodPassword, metrics.StatusFailure)
	rec.IncLogin(metrics.MethodGoogle, metrics.StatusSuccess)
	rec.IncOTPIssued("signup")
	rec.IncMailProcessed(metrics.StatusDeadLettered)
	rec.ObserveMailSendDuration(250 * time.Millisecond)
	rec.SetMailQueueDepth(3)

	h := NewMetricsHandler(rec)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.Metrics(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))

	body := w.Body.String()
	for _, line := range []string{
		"notely_signups_total 1",
		`notely_logins_total{method="google",status="success"} 1`,
		`notely_logins_total{method="password",status="failure"} 1`,
		`notely_otp_issued_total{purpose="signup"} 1`,
		`notely_mail_processed_total{status="dead_lettered"} 1`,
		"notely_mail_send_duration_seconds_sum 0.250000",
		"notely_mail_queue_depth 3",
	} {
		assert.Contains(t, body, line+"\n")
	}

	// Labeled series are sorted for stable scrapes.
	assert.Less(t,
		strings.Index(body, `method="google"`),
		strings.Index(body, `method="password",status="failure"`),
	)
	assert.Less(t,
		strings.Index(body, `method="password",status="failure"`),
		strings.Index(body, `method="password",status="success"`),
	)
}

func TestMetricsHandler_NoSnapshotter(t *testing.T) {
	h := NewMetricsHandler(nil)
	w := httptest.NewRecorder()
	h.Metrics(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
