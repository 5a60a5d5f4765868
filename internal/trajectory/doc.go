// Package trajectory walks a session tree after the fact and produces a
// single, timestamp-sorted timeline of TVAR and tool events — the record
// later exported as training data.
//
// FromSession collects one session's events in order; FromEngagement
// aggregates every descendant of a root, naming each agent from its
// session title. Archiver persists the aggregate as session.json,
// trajectory.jsonl and a state.yaml mirror under one directory per root.
package trajectory
