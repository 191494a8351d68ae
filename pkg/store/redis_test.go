package store

import "testing"

func TestPresenceKey(t *testing.T) {
	if got, want := presenceKey(42), "presence:42"; got != want {
		t.Errorf("presenceKey(42) = %q, want %q", got, want)
	}
}

func TestAIContextKey(t *testing.T) {
	if got, want := aiContextKey(7), "ai_context:7"; got != want {
		t.Errorf("aiContextKey(7) = %q, want %q", got, want)
	}
}
