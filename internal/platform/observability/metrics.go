package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterNamespace = "github.com/hanko-field/fulfillment"

// Meter returns the process meter for the named component.
func Meter(component string) metric.Meter {
	return otel.GetMeterProvider().Meter(meterNamespace + "/" + component)
}
