package handler

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/notely/notely/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "notely_signups_total %d\n", snap.Signups)

	logins := make([]metrics.LoginKey, 0, len(snap.Logins))
	for k := range snap.Logins {
		logins = append(logins, k)
	}
	sort.Slice(logins, func(i, j int) bool {
		if logins[i].Method != logins[j].Method {
			return logins[i].Method < logins[j].Method
		}
		return logins[i].Status < logins[j].Status
	})
	for _, k := range logins {
		writeMetric(w, "notely_logins_total{method=%q,status=%q} %d\n", k.Method, k.Status, snap.Logins[k])
	}

	writeLabeled(w, "notely_otp_issued_total", "purpose", snap.OTPIssued)

	writeMetric(w, "notely_user_cache_hits_total %d\n", snap.UserCacheHits)
	writeMetric(w, "notely_user_cache_misses_total %d\n", snap.UserCacheMisses)

	writeMetric(w, "notely_notes_created_total %d\n", snap.NotesCreated)
	writeMetric(w, "notely_notes_deleted_total %d\n", snap.NotesDeleted)

	writeLabeled(w, "notely_mail_enqueued_total", "status", snap.MailEnqueued)
	writeLabeled(w, "notely_mail_processed_total", "status", snap.MailProcessed)
	writeMetric(w, "notely_mail_send_duration_seconds_count %d\n", snap.MailSendDurationCount)
	writeMetric(w, "notely_mail_send_duration_seconds_sum %.6f\n", float64(snap.MailSendDurationTotalNs)/1e9)
	writeMetric(w, "notely_mail_queue_depth %d\n", snap.MailQueueDepth)
}

// writeLabeled writes one sample per label value in sorted order.
func writeLabeled(w http.ResponseWriter, name, label string, values map[string]uint64) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeMetric(w, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
