// Package telemetry configures OpenTelemetry tracing. The identity client
// and the items API client create spans through the global tracer provider
// installed here.
package telemetry
