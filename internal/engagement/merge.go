package engagement

import (
	"github.com/opsploit/core/pkg/types"
)

// Merge applies partial onto current following per-field merge rules and
// returns a new document; neither argument is mutated.
//
//   - target: shallow merge (incoming field wins only when non-empty)
//   - ports/credentials/sessions: dedup by identity, incoming wins per-field
//   - flags: set union
//   - accessLevel/phase: scalar replace (incoming wins when non-empty)
//   - vulnerabilities/files/failedAttempts/notes: append, no dedup
//   - Extra: shallow key-wise replace
func Merge(current, partial *types.EngagementState) *types.EngagementState {
	if current == nil {
		current = &types.EngagementState{}
	}
	if partial == nil {
		return clone(current)
	}

	out := clone(current)

	if partial.Target != nil {
		out.Target = mergeTarget(out.Target, partial.Target)
	}

	out.Ports = mergePorts(out.Ports, partial.Ports)
	out.Credentials = mergeCredentials(out.Credentials, partial.Credentials)
	out.Sessions = mergeSessions(out.Sessions, partial.Sessions)
	out.Flags = unionFlags(out.Flags, partial.Flags)

	out.Vulnerabilities = append(out.Vulnerabilities, partial.Vulnerabilities...)
	out.Files = append(out.Files, partial.Files...)
	out.FailedAttempts = append(out.FailedAttempts, partial.FailedAttempts...)
	out.Notes = append(out.Notes, partial.Notes...)

	if partial.AccessLevel != "" {
		out.AccessLevel = partial.AccessLevel
	}
	if partial.Phase != "" {
		out.Phase = partial.Phase
	}

	if len(partial.Extra) > 0 {
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(partial.Extra))
		}
		for k, v := range partial.Extra {
			out.Extra[k] = v
		}
	}

	return out
}

func clone(s *types.EngagementState) *types.EngagementState {
	out := *s
	out.Ports = append([]types.EngagementPort(nil), s.Ports...)
	out.Credentials = append([]types.Credential(nil), s.Credentials...)
	out.Vulnerabilities = append([]any(nil), s.Vulnerabilities...)
	out.Sessions = append([]types.EngagementSession(nil), s.Sessions...)
	out.Files = append([]any(nil), s.Files...)
	out.FailedAttempts = append([]any(nil), s.FailedAttempts...)
	out.Flags = append([]string(nil), s.Flags...)
	out.Notes = append([]any(nil), s.Notes...)
	if s.Target != nil {
		t := *s.Target
		out.Target = &t
	}
	if len(s.Extra) > 0 {
		out.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

func mergeTarget(current, incoming *types.EngagementTarget) *types.EngagementTarget {
	if current == nil {
		t := *incoming
		return &t
	}
	out := *current
	if incoming.IP != "" {
		out.IP = incoming.IP
	}
	if incoming.Hostname != "" {
		out.Hostname = incoming.Hostname
	}
	if incoming.OS != "" {
		out.OS = incoming.OS
	}
	return &out
}

func mergePorts(current, incoming []types.EngagementPort) []types.EngagementPort {
	for _, in := range incoming {
		idx := -1
		for i, c := range current {
			if c.Port == in.Port && c.Protocol == in.Protocol {
				idx = i
				break
			}
		}
		if idx < 0 {
			current = append(current, in)
			continue
		}
		merged := current[idx]
		if in.Service != "" {
			merged.Service = in.Service
		}
		if in.Version != "" {
			merged.Version = in.Version
		}
		if in.Banner != "" {
			merged.Banner = in.Banner
		}
		current[idx] = merged
	}
	return current
}

func mergeCredentials(current, incoming []types.Credential) []types.Credential {
	for _, in := range incoming {
		idx := -1
		for i, c := range current {
			if c.Username == in.Username && c.Service == in.Service {
				idx = i
				break
			}
		}
		if idx < 0 {
			current = append(current, in)
			continue
		}
		merged := current[idx]
		if in.Password != "" {
			merged.Password = in.Password
		}
		if in.Hash != "" {
			merged.Hash = in.Hash
		}
		if in.Notes != "" {
			merged.Notes = in.Notes
		}
		current[idx] = merged
	}
	return current
}

func mergeSessions(current, incoming []types.EngagementSession) []types.EngagementSession {
	for _, in := range incoming {
		idx := -1
		for i, c := range current {
			if c.ID == in.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			current = append(current, in)
			continue
		}
		merged := current[idx]
		if in.Type != "" {
			merged.Type = in.Type
		}
		if in.Host != "" {
			merged.Host = in.Host
		}
		if in.Notes != "" {
			merged.Notes = in.Notes
		}
		current[idx] = merged
	}
	return current
}

func unionFlags(current, incoming []string) []string {
	seen := make(map[string]bool, len(current))
	for _, f := range current {
		seen[f] = true
	}
	for _, f := range incoming {
		if !seen[f] {
			seen[f] = true
			current = append(current, f)
		}
	}
	return current
}
