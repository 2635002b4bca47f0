package app

import (
	"context"
	"testing"

	"github.com/dkeye/VideoLaunch/internal/app/lifecycle"
	"github.com/dkeye/VideoLaunch/internal/domain"
)

func newIdleController() *lifecycle.Controller {
	return lifecycle.New(lifecycle.Config{}, nil, nil, nil)
}

func TestRegistryBindReplacesAndCancels(t *testing.T) {
	r := NewRegistry()
	id := domain.LaunchIdentity{SessionName: "room1", Passcode: "p"}

	firstCtx, firstCancel := context.WithCancel(context.Background())
	first := newIdleController()
	r.Bind("sid-1", id, first, firstCancel)

	second := newIdleController()
	_, secondCancel := context.WithCancel(context.Background())
	defer secondCancel()
	r.Bind("sid-1", id, second, secondCancel)

	if firstCtx.Err() == nil {
		t.Fatalf("previous launcher was not canceled")
	}
	got, ok := r.Get("sid-1")
	if !ok || got != second {
		t.Fatalf("get returned %p, want %p", got, second)
	}
	if r.Len() != 1 {
		t.Fatalf("len=%d", r.Len())
	}

	if r.Unbind("sid-1", first) {
		t.Fatalf("stale unbind must not evict the successor")
	}
	if !r.Unbind("sid-1", second) {
		t.Fatalf("unbind failed")
	}
	if _, ok := r.Get("sid-1"); ok {
		t.Fatalf("still bound")
	}
}

func TestRegistrySnapshotAndCancel(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	r.Bind("a", domain.LaunchIdentity{SessionName: "room1"}, newIdleController(), cancel)

	snap := r.Snapshot()
	if len(snap) != 1 || snap[0].SessionName != "room1" || snap[0].State != "idle" {
		t.Fatalf("snapshot=%+v", snap)
	}
	if !r.Cancel("a") || ctx.Err() == nil {
		t.Fatalf("cancel did not propagate")
	}
	if r.Cancel("missing") {
		t.Fatalf("cancel of unknown sid reported true")
	}
}
