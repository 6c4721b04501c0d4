// Package backend is the command dispatcher. Every state-changing request
// arrives as a Command carrying its own reply channel and is handled by one
// goroutine, Backend.Run, which owns the per-download control channels and
// the single loaded model handle.
//
// Files by concern:
//
//   - commands.go: the Command variants.
//   - backend.go: Backend, New, Run and the dispatch switch.
//   - catalog.go: featured/search/listing handlers.
//   - downloads.go: download, pause, cancel and delete handlers.
//   - model.go: load, eject, chat and stop-completion handlers.
//   - server.go: local server start/stop and status.
//   - client.go: blocking helpers over the command channel.
//   - errors.go: typed errors and predicates.
//   - events.go, eventpub_memory.go: lifecycle events.
//
// Long-running work never runs on the dispatcher goroutine. Catalog lookups
// run in their own goroutines, downloads go to the worker pool, and
// generation runs on the bridge's thread. Results that change dispatcher
// state come back as internal commands.
package backend
