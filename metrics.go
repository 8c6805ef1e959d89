package ice

import "github.com/prometheus/client_golang/prometheus"

// SessionMetrics counts STUN traffic and check-list outcomes for a Session,
// modeled on promMetrics in internal/server/server_metrics.go and the
// Allocator counters in internal/allocator/allocator.go.
type SessionMetrics struct {
	bindingRequestsSent  prometheus.Counter
	bindingResponsesRecv prometheus.Counter
	bindingErrorsRecv    prometheus.Counter
	retransmissions      prometheus.Counter
	roleFlips            prometheus.Counter
	triggeredChecks      prometheus.Counter
	checklistsCompleted  prometheus.Counter
	checklistsFailed     prometheus.Counter
}

// NewSessionMetrics builds a SessionMetrics with labels attached to every
// counter, following newPromMetrics's ConstLabels convention.
func NewSessionMetrics(labels prometheus.Labels) *SessionMetrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	return &SessionMetrics{
		bindingRequestsSent:  counter("ice_binding_requests_sent_total", "STUN binding requests sent"),
		bindingResponsesRecv: counter("ice_binding_responses_received_total", "STUN binding success responses received"),
		bindingErrorsRecv:    counter("ice_binding_errors_received_total", "STUN binding error responses received"),
		retransmissions:      counter("ice_retransmissions_total", "STUN binding request retransmissions"),
		roleFlips:            counter("ice_role_flips_total", "Controlling/Controlled role changes, from role conflicts or SetRole"),
		triggeredChecks:      counter("ice_triggered_checks_total", "Triggered checks enqueued"),
		checklistsCompleted:  counter("ice_checklists_completed_total", "Check lists reaching the Completed state"),
		checklistsFailed:     counter("ice_checklists_failed_total", "Check lists reaching the Failed state"),
	}
}

// Describe implements prometheus.Collector.
func (m *SessionMetrics) Describe(d chan<- *prometheus.Desc) {
	d <- m.bindingRequestsSent.Desc()
	d <- m.bindingResponsesRecv.Desc()
	d <- m.bindingErrorsRecv.Desc()
	d <- m.retransmissions.Desc()
	d <- m.roleFlips.Desc()
	d <- m.triggeredChecks.Desc()
	d <- m.checklistsCompleted.Desc()
	d <- m.checklistsFailed.Desc()
}

// Collect implements prometheus.Collector.
func (m *SessionMetrics) Collect(c chan<- prometheus.Metric) {
	m.bindingRequestsSent.Collect(c)
	m.bindingResponsesRecv.Collect(c)
	m.bindingErrorsRecv.Collect(c)
	m.retransmissions.Collect(c)
	m.roleFlips.Collect(c)
	m.triggeredChecks.Collect(c)
	m.checklistsCompleted.Collect(c)
	m.checklistsFailed.Collect(c)
}
