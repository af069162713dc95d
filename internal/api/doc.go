// Package api hosts the status HTTP server for operator access. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /stats for the processor counters and writer pool occupancy.
package api
