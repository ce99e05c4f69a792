package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printagent_polls_total",
		Help: "Total number of work polls by result (work, idle, error, panic)",
	}, []string{"result"})

	WorkUnitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printagent_work_units_total",
		Help: "Total number of executed work units by kind and status",
	}, []string{"kind", "status"})

	CopiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printagent_copies_total",
		Help: "Total number of copies handed to the print subsystem by status",
	}, []string{"status"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printagent_notifications_total",
		Help: "Total number of remote state notifications by action and result",
	}, []string{"action", "result"})

	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "printagent_logins_total",
		Help: "Total number of remote session logins by result",
	}, []string{"result"})
)

func RecordPoll(result string) {
	PollsTotal.WithLabelValues(orUnknown(result)).Inc()
}

func RecordWorkUnit(kind, status string) {
	WorkUnitsTotal.WithLabelValues(orUnknown(kind), orUnknown(status)).Inc()
}

func RecordCopy(status string) {
	CopiesTotal.WithLabelValues(orUnknown(status)).Inc()
}

// RecordNotification records one delivered or abandoned state notification.
func RecordNotification(action string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	NotificationsTotal.WithLabelValues(orUnknown(action), result).Inc()
}

func RecordLogin(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	LoginsTotal.WithLabelValues(result).Inc()
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
