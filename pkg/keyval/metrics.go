package keyval

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

var (
	opensTotal         = metrics.NewCounter("keyval_connection_opens_total")
	storesCreatedTotal = metrics.NewCounter("keyval_object_stores_created_total")
)

// observe records one operation. Use as defer observe(op, time.Now(), &err).
func observe(op string, start time.Time, err *error) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`keyval_operations_total{op=%q}`, op)).Inc()
	if *err != nil {
		metrics.GetOrCreateCounter(fmt.Sprintf(`keyval_operation_errors_total{op=%q}`, op)).Inc()
	}
	metrics.GetOrCreateHistogram(fmt.Sprintf(`keyval_operation_duration_seconds{op=%q}`, op)).UpdateDuration(start)
}

// WriteMetrics writes the package metrics in Prometheus text format.
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, false)
}
