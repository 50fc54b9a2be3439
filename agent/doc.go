// Package agent implements the tool-calling loop of a run.
//
// The package has two layers:
//
//  1. Controller: a state machine (AWAIT_INPUT, MODEL_CALL, STREAMING_OUTPUT,
//     AWAIT_TOOL_RESULTS, DONE, ERROR) over the conversation turns. It owns
//     the model calls and the step budget but knows nothing about actors.
//  2. Actor: the reserved "agent" actor that drives a Controller. It sends
//     point-to-point TOOL_INVOKE messages to sibling tool actors, collects
//     their replies, streams model deltas to its OutputStream and emits
//     exactly one AGENT_DONE when the loop ends.
//
// Conversation history is loaded from and persisted to the session-data
// store under the "agent" key so follow-up runs of a session continue the
// conversation.
package agent
