package engagement

import (
	"testing"

	"github.com/opsploit/core/pkg/types"
)

func TestMergePortsDedupAndFieldMerge(t *testing.T) {
	s1 := Merge(nil, &types.EngagementState{
		Ports: []types.EngagementPort{{Port: 22, Protocol: "tcp", Service: "ssh"}},
	})
	s2 := Merge(s1, &types.EngagementState{
		Ports: []types.EngagementPort{
			{Port: 22, Protocol: "tcp", Version: "8.2"},
			{Port: 80, Protocol: "tcp"},
		},
	})

	if len(s2.Ports) != 2 {
		t.Fatalf("got %d ports, want 2", len(s2.Ports))
	}
	var p22 *types.EngagementPort
	for i := range s2.Ports {
		if s2.Ports[i].Port == 22 {
			p22 = &s2.Ports[i]
		}
	}
	if p22 == nil {
		t.Fatal("port 22 missing")
	}
	if p22.Service != "ssh" || p22.Version != "8.2" {
		t.Fatalf("port 22 = %+v, want Service=ssh Version=8.2", p22)
	}
}

func TestMergeCredentialsDedup(t *testing.T) {
	s1 := Merge(nil, &types.EngagementState{
		Credentials: []types.Credential{{Username: "root", Service: "ssh", Password: "toor"}},
	})
	s2 := Merge(s1, &types.EngagementState{
		Credentials: []types.Credential{{Username: "root", Service: "ssh", Hash: "abc123"}},
	})
	if len(s2.Credentials) != 1 {
		t.Fatalf("got %d credentials, want 1", len(s2.Credentials))
	}
	c := s2.Credentials[0]
	if c.Password != "toor" || c.Hash != "abc123" {
		t.Fatalf("credential = %+v, want both fields retained", c)
	}
}

func TestMergeFlagsIsSetUnion(t *testing.T) {
	s1 := Merge(nil, &types.EngagementState{Flags: []string{"root", "domain-admin"}})
	s2 := Merge(s1, &types.EngagementState{Flags: []string{"domain-admin", "flag{hidden}"}})
	if len(s2.Flags) != 3 {
		t.Fatalf("got %d flags, want 3: %v", len(s2.Flags), s2.Flags)
	}
}

func TestMergeNotesAppendNoDedup(t *testing.T) {
	s1 := Merge(nil, &types.EngagementState{Notes: []any{"a"}})
	s2 := Merge(s1, &types.EngagementState{Notes: []any{"a", "b"}})
	if len(s2.Notes) != 3 {
		t.Fatalf("got %d notes, want 3 (append, no dedup)", len(s2.Notes))
	}
}

func TestMergeScalarsLastWriterWins(t *testing.T) {
	s1 := Merge(nil, &types.EngagementState{AccessLevel: "user", Phase: "enumeration"})
	s2 := Merge(s1, &types.EngagementState{AccessLevel: "root"})
	if s2.AccessLevel != "root" {
		t.Fatalf("AccessLevel = %q, want root", s2.AccessLevel)
	}
	if s2.Phase != "enumeration" {
		t.Fatalf("Phase = %q, want enumeration to survive untouched", s2.Phase)
	}
}

func TestMergeIdempotence(t *testing.T) {
	partial := &types.EngagementState{
		Target: &types.EngagementTarget{IP: "10.0.0.1"},
		Ports:  []types.EngagementPort{{Port: 443, Protocol: "tcp"}},
		Flags:  []string{"initial-access"},
	}
	once := Merge(nil, partial)
	twice := Merge(once, partial)

	if len(twice.Ports) != len(once.Ports) {
		t.Fatalf("applying the same partial twice changed port count: %d vs %d", len(once.Ports), len(twice.Ports))
	}
	if len(twice.Flags) != len(once.Flags) {
		t.Fatalf("applying the same partial twice changed flag count")
	}
	if twice.Target.IP != once.Target.IP {
		t.Fatalf("target drifted on idempotent merge")
	}
}

func TestMergeTargetShallow(t *testing.T) {
	s1 := Merge(nil, &types.EngagementState{Target: &types.EngagementTarget{IP: "10.0.0.1", Hostname: "dc01"}})
	s2 := Merge(s1, &types.EngagementState{Target: &types.EngagementTarget{OS: "Windows Server 2019"}})
	if s2.Target.IP != "10.0.0.1" || s2.Target.Hostname != "dc01" || s2.Target.OS != "Windows Server 2019" {
		t.Fatalf("target = %+v, want all three fields retained", s2.Target)
	}
}
