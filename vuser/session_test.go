package vuser

import "testing"

func TestSessionDataCloneIsIndependent(t *testing.T) {
	type token struct{ value string }

	var s SessionData
	s.Set(&token{value: "abc"})

	clone := s.Clone()
	clone.Set(&token{value: "replaced"})

	orig, ok := s.Get().(*token)
	if !ok || orig.value != "abc" {
		t.Fatalf("original session mutated by clone: %+v", s.Get())
	}
	cloned, ok := clone.Get().(*token)
	if !ok || cloned.value != "replaced" {
		t.Fatalf("clone did not take the new value: %+v", clone.Get())
	}
}

func TestSessionDataZeroValueGetIsNil(t *testing.T) {
	var s SessionData
	if s.Get() != nil {
		t.Fatalf("expected nil from an unset SessionData, got %v", s.Get())
	}
}
