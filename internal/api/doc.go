// Package api hosts the HTTP server, middleware and WebSocket transport.
// Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/ws upgrades to the capture protocol: clients send start and
//     cancel commands and receive log, succeeded, failed and cancelled
//     messages for each requestId.
//   - GET /v1/screenshots/* serves stored screenshots for backends whose
//     locators point back at this service.
package api
