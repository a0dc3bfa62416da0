// Package observability provides structured logging, health checks, and
// graceful shutdown for the permission engine daemons.
//
// The Logger wraps stdlib slog with JSON output and chainable fields, and
// rides the request context so handlers and the materializer log with the
// request ID and principal attached. HealthChecker aggregates database,
// redis, and sweeper freshness into liveness/readiness probes served on a
// separate port. ShutdownManager drains the HTTP server and runs registered
// close functions on SIGINT/SIGTERM.
package observability
