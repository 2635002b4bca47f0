package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VideoLaunch/internal/app/lifecycle"
	"github.com/dkeye/VideoLaunch/internal/domain"
)

type SessionID string

type sessionEntry struct {
	Identity   domain.LaunchIdentity
	Controller *lifecycle.Controller
	Cancel     context.CancelFunc
}

// Registry tracks live launchers, one per browser tab. Binding a key that is
// already bound cancels the previous launcher.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[SessionID]*sessionEntry),
	}
}

func (r *Registry) Bind(sid SessionID, id domain.LaunchIdentity, ctrl *lifecycle.Controller, cancel context.CancelFunc) {
	r.mu.Lock()
	prev := r.sessions[sid]
	r.sessions[sid] = &sessionEntry{Identity: id, Controller: ctrl, Cancel: cancel}
	r.mu.Unlock()

	if prev != nil && prev.Cancel != nil {
		prev.Cancel()
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("replaced launcher")
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("session", string(id.SessionName)).Msg("bound launcher")
}

func (r *Registry) Get(sid SessionID) (*lifecycle.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Controller, true
	}
	return nil, false
}

// Unbind removes sid only while it still points at ctrl, so a replaced
// launcher shutting down does not evict its successor.
func (r *Registry) Unbind(sid SessionID, ctrl *lifecycle.Controller) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Controller != ctrl {
		return false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind launcher")
	return true
}

func (r *Registry) Cancel(sid SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled launcher")
	return true
}

type LauncherInfo struct {
	SID         SessionID          `json:"sid"`
	SessionName domain.SessionName `json:"sessionName"`
	State       string             `json:"state"`
}

func (r *Registry) Snapshot() []LauncherInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LauncherInfo, 0, len(r.sessions))
	for sid, e := range r.sessions {
		out = append(out, LauncherInfo{SID: sid, SessionName: e.Identity.SessionName, State: e.Controller.State().String()})
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) CancelAll() {
	r.mu.RLock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	for _, e := range entries {
		if e.Cancel != nil {
			e.Cancel()
		}
	}
}
