// Package main hosts the shotcast service entrypoint.
//
// Architecture overview:
//   - Transport: internal/api upgrades GET /v1/ws to a WebSocket per client. A
//     reader goroutine decodes start and cancel commands and routes them through
//     internal/registry to that client's orchestrator; a writer goroutine drains
//     a bounded outbox onto the socket.
//   - Orchestration: each request id gets its own flight. The pipeline
//     validates the request, resolves the project and fingerprint, consults the
//     cache for cache-first requests, captures through the configured browser
//     (chromedp or rod), checks the project's daily ceiling, and persists the
//     image. A cancel that lands first wins and the capture result is discarded.
//   - Persistence: metadata lives in Postgres, SQLite or memory; images in GCS,
//     a local directory or memory. The rate-limit ledger can move to redis.
//   - Fanout: persisted captures are announced on Pub/Sub with the trace
//     context in the message attributes. Progress events feed Prometheus, the
//     capture_runs history table and, optionally, the log.
//
// Quick checklist:
//   - Configure with a YAML file (--config) or SHOTCAST_* environment variables,
//     e.g. SHOTCAST_DATABASE_DRIVER=postgres SHOTCAST_DATABASE_DSN=...; a .env file
//     in the working directory is loaded first.
//   - Prepare a relational store with: shotcast migrate --config config.yaml
//   - Run locally: go run ./cmd/shotcast serve --config config.yaml
package main
