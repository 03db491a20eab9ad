package app

import (
	"context"
	"sync"

	"github.com/dkeye/Conference/internal/core"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Signal core.SignalConnection
	Client *core.Client
	Cancel context.CancelFunc
}

// Registry is the session table: connection id to signal connection and,
// once joined, to the connection's Client.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) BindSignal(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Signal: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) Signal(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Signal, true
	}
	return nil, false
}

// Unbind forgets sid and returns the client it was attached to, if any.
func (r *Registry) Unbind(sid core.SessionID) *core.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	return e.Client
}

// Attach binds a joined client to its session. It fails if sid is unknown.
func (r *Registry) Attach(sid core.SessionID, c *core.Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.Client = c
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room_id", string(c.Room().ID())).Msg("attached client")
	return true
}

// Detach clears the client of sid and returns it.
func (r *Registry) Detach(sid core.SessionID) *core.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.Client == nil {
		return nil
	}
	c := e.Client
	e.Client = nil
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("detached client")
	return c
}

func (r *Registry) ClientOf(sid core.SessionID) (*core.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.Client == nil {
		return nil, false
	}
	return e.Client, true
}

// Sessions lists every connected session id.
func (r *Registry) Sessions() []core.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.SessionID, 0, len(r.sessions))
	for sid := range r.sessions {
		out = append(out, sid)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
