// Package metrics exposes Prometheus collectors for the web and API servers.
package metrics
