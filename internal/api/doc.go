// Package api hosts the HTTP server, middleware, and handlers in front of
// app.Service. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /domains to submit a site for crawling.
//   - GET /domains/{domain}/status for the lifecycle state.
//   - POST /domains/{domain}/ask to stream an answer as text/plain.
package api
