// Package engagement persists the live, merge-semantics YAML document that
// describes what a session tree has discovered about a target so far.
//
// The document lives at <root>/state.yaml under a per-root-session
// directory that also holds findings/ and artifacts/{screenshots,loot}.
// Every operation is bubbled through the hierarchy registry exactly like
// the permission engine: no matter which session in a tree calls Update or
// Read, it resolves to that tree's root directory, since the engagement
// directory is owned by the root of the tree, not whichever session calls in.
//
// Merge semantics: scalars replace, target shallow-merges, ports and
// credentials and sessions deduplicate under their identity keys with
// incoming fields winning per-field, flags union as a set, and the
// history arrays (vulnerabilities, files, failedAttempts, notes) append.
// Applying the same partial twice leaves scalars, target, the keyed arrays
// and flags unchanged; the history arrays receive the entries a second time.
package engagement
