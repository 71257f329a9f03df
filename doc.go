// Package agentdock is the root of the AgentDock core runtime.
//
// The core routes chat turns through a per-session orchestration state
// machine, filters the tool catalog the model may call, and records
// durable, queryable memory for each (user, agent) pair.
//
// The library entry point is pkg/core. Supporting packages:
//
//   - pkg/storage: pluggable KV/list/memory storage providers
//   - pkg/memory: four-tier memory model with hybrid recall
//   - pkg/session: per-session state with TTL sweep
//   - pkg/orchestration: step resolution and tool filtering
//   - pkg/recall: cross-tier recall fusion
//   - pkg/extraction: batched, sampled memory extraction
package agentdock
