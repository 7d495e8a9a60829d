package identity

import (
	"context"
	"testing"

	"github.com/lawik/hub_link_agent/internal/agenterr"
)

func TestResolve_StaticWinsOverCommand(t *testing.T) {
	serial, err := Resolve(context.Background(), "SN-STATIC", "echo SN-FROM-COMMAND")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if serial != "SN-STATIC" {
		t.Errorf("got %q, want %q", serial, "SN-STATIC")
	}
}

func TestResolve_CommandDeterministic(t *testing.T) {
	s1, err := Resolve(context.Background(), "", "echo   SN-123  ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	s2, err := Resolve(context.Background(), "", "echo   SN-123  ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s1 != s2 {
		t.Errorf("non-deterministic: %q != %q", s1, s2)
	}
	if s1 != "SN-123" {
		t.Errorf("got %q, want trimmed %q", s1, "SN-123")
	}
}

func TestResolve_CommandFailure(t *testing.T) {
	_, err := Resolve(context.Background(), "", "exit 1")
	if !agenterr.Is(err, agenterr.SerialUnavailable) {
		t.Fatalf("want SerialUnavailable, got %v", err)
	}
}

func TestResolve_EmptyOutput(t *testing.T) {
	_, err := Resolve(context.Background(), "", "true")
	if !agenterr.Is(err, agenterr.SerialUnavailable) {
		t.Fatalf("want SerialUnavailable, got %v", err)
	}
}

func TestResolve_NoSource(t *testing.T) {
	_, err := Resolve(context.Background(), "", "")
	if !agenterr.Is(err, agenterr.SerialUnavailable) {
		t.Fatalf("want SerialUnavailable, got %v", err)
	}
}
