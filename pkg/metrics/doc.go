// Package metrics is a Prometheus registry that labels every series with
// the service name, plus the HTTP server exposing it.
package metrics
