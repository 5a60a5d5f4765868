// Package session implements the conversational core of an engagement:
// session lifecycle, message processing, and the agentic loop that drives
// one assistant response from streamed model events to executed tool
// calls.
//
// # Architecture Overview
//
//   - Service: session CRUD, message/part access, permission responses
//   - Processor: the agentic loop; one active run per session
//   - Agent: a processing profile (prompt, sampling, tools, permissions)
//   - stream.go: folds transport events into typed message parts
//   - tools.go: executes tool calls behind permission and doom-loop gates
//   - compact.go: summarizes history when context would overflow
//
// # Service
//
//	service := session.NewService(storage)
//
//	sess, err := service.Create(ctx, "/srv/engagements/acme", "ACME external")
//	msg, parts, err := service.ProcessMessage(ctx, sess, "enumerate the DMZ host", model, onUpdate)
//
// Deleting a session through the Service also releases its hierarchy
// registration and, for a root, the tree's permission state.
//
// # Processor
//
//	processor := session.NewProcessor(providerReg, toolReg, storage, permChecker, "anthropic", "claude-sonnet")
//	err := processor.Process(ctx, sessionID, agent, callback)
//
// Each run of the loop owns exactly one assistant message. The loop
// terminates with one of three statuses: continue (turn finished
// normally), stop (denied permission or fatal error), or compact
// (context would overflow; Process compacts history and reruns).
// Transport errors are retried with jittered exponential backoff and a
// visible session.retry event; aborting the context flips in-flight tool
// parts to an error state and stamps the message's completion time.
//
// # Parts
//
// A response materializes as an ordered sequence of typed parts: text,
// reasoning, tool (pending -> running -> completed|error), tvar
// (structured thought/verify/action/result blocks parsed out of
// finalized text), step-start/step-finish boundaries, and patch diffs.
// Parts are persisted individually and re-published on every state
// change as part.updated events.
//
// # Agents
//
//	agent := session.DefaultAgent()    // everything behind an ask
//	op := session.OperatorAgent()      // root operator profile
//	rep := session.ReportAgent()       // read-only reporting profile
//
// Sub-agent profiles for the pentest phases live in internal/agent; this
// package's Agent is the processing-level configuration a loop run
// executes under.
//
// # Concurrency
//
// One active step at a time per assistant message; concurrent Process
// calls for the same session queue behind the active run. Distinct
// sessions run fully independently.
package session
