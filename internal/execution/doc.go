// Package execution runs automation instances and records every run.
//
// The Orchestrator dispatches on the definition kind:
//
//   - team: run locally through an agent.Runner
//   - workflow: gate on the user's credentials, probe the remote engine,
//     install the workflow on first use, then execute it remotely
//
// Each run creates a Record in status running before the engine is called.
// The record is moved exactly once to success or failed, even when the
// engine call errors, panics or the request context is cancelled.
//
// Lifecycle events (execution.started, execution.completed) are published
// through an events.Publisher, and the instance counters are bumped after
// every terminal transition.
package execution
