package logger

import "testing"

func TestNew(t *testing.T) {
	log, err := New("debug", true)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !log.Core().Enabled(-1) {
		t.Fatal("expected debug to be enabled")
	}

	log, err = New("warn", false)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if log.Core().Enabled(0) {
		t.Fatal("expected info to be disabled at warn")
	}

	if _, err := New("loud", false); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
