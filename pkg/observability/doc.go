// Package observability exposes gate lifecycle events as Prometheus metrics.
package observability
