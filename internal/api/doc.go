// Package api hosts the operations HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes; readyz pings the posting store.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs, POST /v1/runs/cancel and GET /v1/runs/last to drive the pipeline.
//   - GET /v1/sources and GET /v1/reviews to inspect the registry and the review queue.
package api
