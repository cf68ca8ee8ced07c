// Package store declares repository interfaces for screenshot metadata, the
// rate-limit request ledger, projects, and capture run history. Postgres,
// SQLite, Redis, and in-memory adapters live under internal/storage.
package store
