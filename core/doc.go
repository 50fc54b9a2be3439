// Package core provides the foundational domain types shared by every layer of
// AgentGraph. It defines:
//
//   - Message and MessageType (the envelope relayed between actors)
//   - ActorConfig (the immutable per-actor declaration of a run)
//   - BookKeepingRecord / BookKeepingJob (per-actor audit records)
//   - AgentTurn / ToolCall (conversation state of the agent loop)
//   - the error taxonomy used across actors, tools, graph construction and
//     run coordination
//   - small collaborator interfaces (SessionDataStore, JobQueue) so storage and
//     persistence backends stay pluggable
//
// The package keeps orchestration concerns (coordinator, actors, agent loop)
// out of scope and only depends on the value package.
package core
