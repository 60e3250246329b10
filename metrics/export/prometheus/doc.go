// Package prometheus exposes engine metrics through a client_golang
// Collector.
//
// [NewCollector] reads [goSession.Engine.MetricsSnapshot] on every scrape.
// Register it on a registry of your choosing, or use [Handler] for a
// dedicated registry served with promhttp. Counter names are prefixed
// gosession_ and end in _total; the single histogram is
// gosession_session_resolve_latency_seconds.
package prometheus
