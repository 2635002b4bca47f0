package domain

import (
	"reflect"
	"testing"
	"time"
)

func TestFeaturesKeepInsertionOrderAndDedup(t *testing.T) {
	f := NewFeatures("video", "audio", "video", "", "chat")
	got := f.List()
	want := []string{"video", "audio", "chat"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("list=%v, want %v", got, want)
	}
	if !f.Has("audio") || f.Has("share") {
		t.Fatalf("unexpected membership: %v", got)
	}

	got[0] = "mutated"
	if f.List()[0] != "video" {
		t.Fatalf("List must return a copy")
	}
}

func TestSessionConfigClone(t *testing.T) {
	cfg := NewSessionConfig(LaunchIdentity{SessionName: "room1", Passcode: "pass1"}, "Lars", DefaultFeatures())
	cl := cfg.Clone()
	cl.Features[0] = "x"
	cl.Credential = "tok"
	if cfg.Features[0] != "video" || cfg.Credential != "" {
		t.Fatalf("clone shares memory with original: %+v", cfg)
	}
}

func TestPreJoinVisible(t *testing.T) {
	cases := map[LifecycleState]bool{
		StateIdle:               true,
		StateAwaitingCredential: true,
		StateJoining:            false,
		StateActive:             false,
		StateClosed:             true,
	}
	for s, want := range cases {
		if got := s.PreJoinVisible(); got != want {
			t.Fatalf("%s: visible=%v, want %v", s, got, want)
		}
	}
}

func TestJoinWindow(t *testing.T) {
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	opens, closes := ScheduledSession{Start: start}.JoinWindow()
	if !opens.Equal(start.Add(-15 * time.Minute)) {
		t.Fatalf("opens=%v", opens)
	}
	if !closes.Equal(start.Add(75 * time.Minute)) {
		t.Fatalf("closes=%v", closes)
	}
}

func TestValidateDisplayName(t *testing.T) {
	if err := ValidateDisplayName(""); err != ErrDisplayNameEmpty {
		t.Fatalf("err=%v, want %v", err, ErrDisplayNameEmpty)
	}
	if err := ValidateDisplayName("0123456789012345678901234567890123456"); err != ErrDisplayNameTooLong {
		t.Fatalf("err=%v, want %v", err, ErrDisplayNameTooLong)
	}
	if err := ValidateDisplayName("Lars"); err != nil {
		t.Fatalf("err=%v", err)
	}
}
