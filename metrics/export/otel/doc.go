// Package otel publishes engine metrics as OpenTelemetry observable
// instruments.
//
// [NewExporter] creates one Int64ObservableCounter per engine counter and a
// cumulative Int64ObservableGauge per latency bucket, all fed by a single
// callback that reads [goSession.Engine.MetricsSnapshot]. The caller owns
// the MeterProvider.
package otel
