// Package capture defines the domain types, error taxonomy, and small port
// interfaces shared by the screenshot orchestrator and its adapters. Concrete
// implementations live in sibling packages (browser, cache, ratelimit, storage)
// so the orchestrator can be exercised entirely with in-memory fakes.
package capture
