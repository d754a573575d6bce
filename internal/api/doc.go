// Package api hosts the status server of a running crawl:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /stats for a JSON snapshot of the merged run statistics.
package api
