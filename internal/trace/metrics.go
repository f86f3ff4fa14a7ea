package trace

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func metricAttrs(workerType, flag string, val bool) metric.MeasurementOption {
	attrs := []attribute.KeyValue{attribute.String("worker.type", workerType)}
	if flag != "" {
		attrs = append(attrs, attribute.Bool(flag, val))
	}
	return metric.WithAttributes(attrs...)
}
