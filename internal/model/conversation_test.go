package model

import (
	"reflect"
	"testing"
)

func TestCanonicalParticipants(t *testing.T) {
	got := CanonicalParticipants("alice", []string{"bob", "alice", "bob", "", "carol"})
	want := []string{"alice", "bob", "carol"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCanonicalParticipantsRequesterOnly(t *testing.T) {
	got := CanonicalParticipants("alice", nil)
	if len(got) != 1 || got[0] != "alice" {
		t.Errorf("expected only the requester, got %v", got)
	}
}

func TestDirectKeyOrderIndependent(t *testing.T) {
	a := DirectKey([]string{"alice", "bob"})
	b := DirectKey([]string{"bob", "alice"})
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
	if a != "alice:bob" {
		t.Errorf("expected alice:bob, got %q", a)
	}
}

func TestDirectKeyDoesNotMutateInput(t *testing.T) {
	in := []string{"zed", "alice"}
	DirectKey(in)
	if in[0] != "zed" || in[1] != "alice" {
		t.Errorf("input slice mutated: %v", in)
	}
}

func TestReadByContains(t *testing.T) {
	m := &Message{ReadBy: []string{"alice", "bob"}}
	if !m.ReadByContains("alice") {
		t.Error("expected alice in readBy")
	}
	if m.ReadByContains("carol") {
		t.Error("did not expect carol in readBy")
	}
}
