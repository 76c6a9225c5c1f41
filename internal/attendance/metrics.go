package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	absencesMaterialized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_absences_materialized_total",
		Help: "Default-absence records created ahead of roster reads.",
	})
	materializeSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_materialize_skipped_total",
		Help: "Materializer runs skipped, by reason.",
	}, []string{"reason"})
	materializeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attendance_materialize_errors_total",
		Help: "Per-student upsert failures during materialization.",
	})
)
