// Package instrumentation provides OpenTelemetry metrics for the notably
// server: HTTP request counts, token refresh outcomes, and Google API
// operation durations. Metrics are exported through a Prometheus reader by
// default and scraped from the dedicated metrics server.
package instrumentation
