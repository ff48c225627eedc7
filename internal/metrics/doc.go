// Package metrics defines the Prometheus instrumentation for the broadcast
// audio service. It covers audio ingest, broadcast session lifecycle, ISO
// transport, webhook delivery and the HTTP API.
package metrics
