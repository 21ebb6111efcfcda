// internal/types/ids_test.go
package types

import (
	"testing"
)

func TestNewRequestID(t *testing.T) {
	id := NewRequestID()
	if id == "" {
		t.Error("expected non-empty RequestID")
	}
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
	if NewRequestID() == id {
		t.Error("expected distinct request ids")
	}
}

func TestNewSessionIDConcatenates(t *testing.T) {
	cases := []struct {
		chat, sender string
	}{
		{"oc_123", "u_456"},
		{"oc_abc", "ou_def"},
		{"x", "y"},
		{"oc_é", "ü"},
	}
	for _, c := range cases {
		got := NewSessionID(c.chat, c.sender, "")
		if string(got) != c.chat+c.sender {
			t.Errorf("NewSessionID(%q, %q) = %q, want %q", c.chat, c.sender, got, c.chat+c.sender)
		}
	}
}

func TestNewSessionIDOverride(t *testing.T) {
	got := NewSessionID("oc_123", "u_456", "custom-session")
	if got != "custom-session" {
		t.Errorf("expected override to win, got %q", got)
	}
}
